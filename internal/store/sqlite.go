package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/trendsight/insight-core/internal/insight"
)

// SQLiteStore implements InsightStore and UsageStore over a single SQLite
// database file.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema exists. Use ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS insights (
		subject TEXT NOT NULL,
		type TEXT NOT NULL,
		content TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		generated_at TEXT NOT NULL,
		last_accessed TEXT NOT NULL,
		PRIMARY KEY (subject, type)
	);
	CREATE TABLE IF NOT EXISTS credential_usage (
		provider TEXT NOT NULL,
		cred_name TEXT NOT NULL,
		day TEXT NOT NULL,
		used INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (provider, cred_name, day)
	);`)
	return err
}

// Get returns the record for (subject, type), or nil when absent.
func (s *SQLiteStore) Get(ctx context.Context, subject, insightType string) (*insight.CachedInsight, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT content, content_hash, generated_at, last_accessed
		 FROM insights WHERE subject = ? AND type = ?`, subject, insightType)

	var rec insight.CachedInsight
	var generatedAt, lastAccessed string
	err := row.Scan(&rec.Content, &rec.ContentHash, &generatedAt, &lastAccessed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec.Subject = subject
	rec.Type = insightType
	if t, err := time.Parse(time.RFC3339, generatedAt); err == nil {
		rec.GeneratedAt = t
	}
	if t, err := time.Parse(time.RFC3339, lastAccessed); err == nil {
		rec.LastAccessed = t
	}
	return &rec, nil
}

// Upsert inserts or replaces the record keyed by (subject, type).
func (s *SQLiteStore) Upsert(ctx context.Context, rec insight.CachedInsight) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO insights (subject, type, content, content_hash, generated_at, last_accessed)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (subject, type) DO UPDATE SET
			content = excluded.content,
			content_hash = excluded.content_hash,
			generated_at = excluded.generated_at,
			last_accessed = excluded.last_accessed`,
		rec.Subject,
		rec.Type,
		rec.Content,
		rec.ContentHash,
		rec.GeneratedAt.Format(time.RFC3339),
		rec.LastAccessed.Format(time.RFC3339),
	)
	return err
}

// TouchAccess updates the record's last-accessed timestamp.
func (s *SQLiteStore) TouchAccess(ctx context.Context, subject, insightType string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE insights SET last_accessed = ? WHERE subject = ? AND type = ?`,
		at.Format(time.RFC3339), subject, insightType)
	return err
}

// Delete removes the record for (subject, type).
func (s *SQLiteStore) Delete(ctx context.Context, subject, insightType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM insights WHERE subject = ? AND type = ?`, subject, insightType)
	return err
}

// Count returns the number of cached records.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM insights`).Scan(&n)
	return n, err
}

// AddDailyUsage adds n calls to the credential's counter for the given day.
func (s *SQLiteStore) AddDailyUsage(ctx context.Context, provider, credName, day string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credential_usage (provider, cred_name, day, used)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (provider, cred_name, day) DO UPDATE SET
			used = used + excluded.used`,
		provider, credName, day, n)
	return err
}

// DailyUsage returns the credential's counter for the given day.
func (s *SQLiteStore) DailyUsage(ctx context.Context, provider, credName, day string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT used FROM credential_usage WHERE provider = ? AND cred_name = ? AND day = ?`,
		provider, credName, day).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Interface assertions.
var (
	_ InsightStore = (*SQLiteStore)(nil)
	_ UsageStore   = (*SQLiteStore)(nil)
)
