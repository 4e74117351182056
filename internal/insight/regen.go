package insight

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// RegenFunc performs one regeneration. It runs on a background goroutine.
type RegenFunc func(ctx context.Context) error

// RegenQueue deduplicates background regeneration by subject-and-type key so
// concurrent stale reads trigger at most one regeneration in flight per item.
// It is an explicit constructed object, not process-global state.
type RegenQueue struct {
	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
	logger   *slog.Logger

	// Stats
	triggered int64
	deduped   int64
}

// RegenQueueOption is a functional option for configuring RegenQueue.
type RegenQueueOption func(*RegenQueue)

// WithRegenLogger sets a custom logger.
func WithRegenLogger(logger *slog.Logger) RegenQueueOption {
	return func(q *RegenQueue) {
		q.logger = logger
	}
}

// NewRegenQueue creates an empty queue.
func NewRegenQueue(opts ...RegenQueueOption) *RegenQueue {
	q := &RegenQueue{
		inflight: make(map[string]struct{}),
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// regenKey builds the dedup key for one cached item.
func regenKey(subject, insightType string) string {
	return subject + "\x00" + insightType
}

// Trigger queues a background regeneration for the item unless one is
// already in flight. Returns true when a new job was started. The request
// path never blocks on the regeneration itself.
func (q *RegenQueue) Trigger(ctx context.Context, subject, insightType string, fn RegenFunc) bool {
	key := regenKey(subject, insightType)

	q.mu.Lock()
	if _, busy := q.inflight[key]; busy {
		q.deduped++
		q.mu.Unlock()
		return false
	}
	q.inflight[key] = struct{}{}
	q.triggered++
	q.mu.Unlock()

	jobID := uuid.NewString()
	q.logger.Debug("regeneration queued",
		slog.String("job_id", jobID),
		slog.String("subject", subject),
		slog.String("type", insightType),
	)

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer func() {
			q.mu.Lock()
			delete(q.inflight, key)
			q.mu.Unlock()
		}()

		if err := fn(ctx); err != nil {
			q.logger.Warn("regeneration failed",
				slog.String("job_id", jobID),
				slog.String("subject", subject),
				slog.String("type", insightType),
				slog.String("error", err.Error()),
			)
			return
		}
		q.logger.Info("regeneration completed",
			slog.String("job_id", jobID),
			slog.String("subject", subject),
			slog.String("type", insightType),
		)
	}()

	return true
}

// InFlight returns the number of regenerations currently running.
func (q *RegenQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

// Stats returns how many jobs were started and how many were deduplicated.
func (q *RegenQueue) Stats() (triggered, deduped int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.triggered, q.deduped
}

// Wait blocks until all in-flight regenerations finish. Used on shutdown and
// in tests.
func (q *RegenQueue) Wait() {
	q.wg.Wait()
}
