// Package store persists cached insights and daily credential usage where
// durability across restarts is required. The generation core only depends
// on these narrow interfaces; the SQLite implementation is one collaborator.
package store

import (
	"context"
	"time"

	"github.com/trendsight/insight-core/internal/insight"
)

// InsightStore is the row-oriented store for cached generated content.
type InsightStore interface {
	// Get returns the record for (subject, type), or nil when absent.
	Get(ctx context.Context, subject, insightType string) (*insight.CachedInsight, error)

	// Upsert inserts or replaces the record keyed by (subject, type).
	Upsert(ctx context.Context, rec insight.CachedInsight) error

	// TouchAccess updates the record's last-accessed timestamp.
	TouchAccess(ctx context.Context, subject, insightType string, at time.Time) error

	// Delete removes the record for (subject, type).
	Delete(ctx context.Context, subject, insightType string) error

	// Count returns the number of cached records.
	Count(ctx context.Context) (int, error)
}

// UsageStore persists daily credential usage so quota bookkeeping survives
// restarts.
type UsageStore interface {
	// AddDailyUsage adds n calls to the credential's counter for the given
	// day (formatted 2006-01-02).
	AddDailyUsage(ctx context.Context, provider, credName, day string, n int) error

	// DailyUsage returns the credential's counter for the given day.
	DailyUsage(ctx context.Context, provider, credName, day string) (int, error)
}
