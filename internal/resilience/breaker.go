package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	// StateClosed allows all calls through.
	StateClosed BreakerState = iota

	// StateOpen rejects calls without attempting them.
	StateOpen

	// StateHalfOpen allows probe calls after the reset timeout.
	StateHalfOpen
)

// String returns the lowercase state name.
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds the circuit breaker tuning knobs.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold int `json:"failure_threshold" mapstructure:"failure_threshold"`

	// ResetTimeout is how long the circuit stays open before allowing a probe.
	ResetTimeout time.Duration `json:"reset_timeout" mapstructure:"reset_timeout"`

	// HalfOpenMaxAttempts is the consecutive successes required to close
	// a half-open circuit.
	HalfOpenMaxAttempts int `json:"half_open_max_attempts" mapstructure:"half_open_max_attempts"`
}

// DefaultBreakerConfig returns the default breaker tuning.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:    5,
		ResetTimeout:        30 * time.Second,
		HalfOpenMaxAttempts: 2,
	}
}

// CircuitBreaker isolates a single provider: after FailureThreshold
// consecutive failures it fails fast without a network call, then probes the
// provider again after ResetTimeout. One breaker per provider, never per
// credential; credential exhaustion is the key manager's concern.
type CircuitBreaker struct {
	name string
	cfg  BreakerConfig

	mu                sync.Mutex
	state             BreakerState
	failures          int
	lastFailure       time.Time
	halfOpenSuccesses int

	now func() time.Time
}

// NewCircuitBreaker creates a closed breaker for the named provider.
func NewCircuitBreaker(name string, cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultBreakerConfig().ResetTimeout
	}
	if cfg.HalfOpenMaxAttempts <= 0 {
		cfg.HalfOpenMaxAttempts = DefaultBreakerConfig().HalfOpenMaxAttempts
	}
	return &CircuitBreaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// Execute runs fn through the breaker. While open and inside the reset
// timeout it returns ErrCircuitOpen without invoking fn; once the timeout
// elapses the next call transitions the breaker to half-open and is allowed
// through. A cancelled attempt counts as neither success nor failure.
func (b *CircuitBreaker) Execute(fn func() error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	err := fn()

	// Cancellation is not a verdict on the provider.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	b.afterCall(err)
	return err
}

// beforeCall gates entry and handles the open → half-open transition.
func (b *CircuitBreaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return nil
	}
	if b.now().Sub(b.lastFailure) < b.cfg.ResetTimeout {
		return fmt.Errorf("provider %s: %w", b.name, ErrCircuitOpen)
	}
	b.state = StateHalfOpen
	b.halfOpenSuccesses = 0
	return nil
}

// afterCall records the outcome and drives the remaining transitions.
func (b *CircuitBreaker) afterCall(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		b.lastFailure = b.now()
		// Any failure while half-open reopens immediately; a closed circuit
		// opens once the threshold is reached.
		if b.state == StateHalfOpen || b.failures >= b.cfg.FailureThreshold {
			b.state = StateOpen
		}
		return
	}

	switch b.state {
	case StateHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.HalfOpenMaxAttempts {
			b.state = StateClosed
			b.failures = 0
		}
	default:
		b.failures = 0
	}
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name returns the provider this breaker guards.
func (b *CircuitBreaker) Name() string {
	return b.name
}

// BreakerRegistry holds one breaker per provider, created lazily. It is an
// explicit constructed object rather than a package-level map so tests and
// multi-tenant deployments never share breaker state.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	cfg      BreakerConfig
}

// NewBreakerRegistry creates a registry applying cfg to every new breaker.
func NewBreakerRegistry(cfg BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      cfg,
	}
}

// For returns the breaker for a provider, creating it on first use.
func (r *BreakerRegistry) For(provider string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[provider]; ok {
		return b
	}
	b := NewCircuitBreaker(provider, r.cfg)
	r.breakers[provider] = b
	return b
}

// States returns the current state of every known breaker.
func (r *BreakerRegistry) States() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]string, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State().String()
	}
	return out
}
