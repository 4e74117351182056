package resilience

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy is a bounded retry with increasing delay for transient
// failures. It is independent of provider identity: the same policy wraps
// every provider attempt.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int `json:"max_attempts" mapstructure:"max_attempts"`

	// InitialDelay is the delay before the second attempt.
	InitialDelay time.Duration `json:"initial_delay" mapstructure:"initial_delay"`

	// Multiplier grows the delay between consecutive attempts.
	Multiplier float64 `json:"multiplier" mapstructure:"multiplier"`
}

// DefaultRetryPolicy returns the default policy: two attempts with a short
// increasing delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  2,
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   2.0,
	}
}

// Do runs fn up to MaxAttempts times, sleeping between attempts. Retrying
// stops early when the context is done or when the breaker is open: an open
// circuit will not heal within a retry window, so the chain moves on to the
// next provider instead.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := p.InitialDelay

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, ErrCircuitOpen) {
			return err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if p.Multiplier > 1 {
			delay = time.Duration(float64(delay) * p.Multiplier)
		}
	}
	return lastErr
}
