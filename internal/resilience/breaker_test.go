package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errUpstream = errors.New("upstream failure")

func testBreaker(cfg BreakerConfig, now *time.Time) *CircuitBreaker {
	b := NewCircuitBreaker("gemini", cfg)
	b.now = func() time.Time { return *now }
	return b
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	now := time.Now()
	b := testBreaker(BreakerConfig{FailureThreshold: 3, ResetTimeout: 30 * time.Second}, &now)

	for i := 0; i < 2; i++ {
		_ = b.Execute(func() error { return errUpstream })
		if b.State() != StateClosed {
			t.Fatalf("State() = %v after %d failures, want closed", b.State(), i+1)
		}
	}

	_ = b.Execute(func() error { return errUpstream })
	if b.State() != StateOpen {
		t.Errorf("State() = %v after 3 failures, want open", b.State())
	}
}

func TestBreaker_OpenFailsFast(t *testing.T) {
	now := time.Now()
	b := testBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: 30 * time.Second}, &now)

	_ = b.Execute(func() error { return errUpstream })

	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute() error = %v, want %v", err, ErrCircuitOpen)
	}
	if called {
		t.Error("Execute() invoked fn while circuit open")
	}
}

func TestBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	now := time.Now()
	b := testBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: 30 * time.Second, HalfOpenMaxAttempts: 2}, &now)

	_ = b.Execute(func() error { return errUpstream })
	if b.State() != StateOpen {
		t.Fatalf("State() = %v, want open", b.State())
	}

	// After the reset timeout the next call is allowed through as a probe.
	now = now.Add(31 * time.Second)
	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Errorf("Execute() error = %v, want nil", err)
	}
	if !called {
		t.Error("Execute() did not invoke fn after reset timeout")
	}
	if b.State() != StateHalfOpen {
		t.Errorf("State() = %v after probe success, want half-open", b.State())
	}
}

func TestBreaker_HalfOpenClosesAfterSuccesses(t *testing.T) {
	now := time.Now()
	b := testBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second, HalfOpenMaxAttempts: 2}, &now)

	_ = b.Execute(func() error { return errUpstream })
	now = now.Add(2 * time.Second)

	// Two consecutive probe successes close the circuit.
	for i := 0; i < 2; i++ {
		if err := b.Execute(func() error { return nil }); err != nil {
			t.Fatalf("probe %d error = %v", i, err)
		}
	}
	if b.State() != StateClosed {
		t.Errorf("State() = %v after probes, want closed", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := testBreaker(BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Second, HalfOpenMaxAttempts: 2}, &now)

	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return errUpstream })
	}
	now = now.Add(2 * time.Second)

	// A single failure while half-open reopens immediately, regardless of the
	// failure threshold.
	_ = b.Execute(func() error { return errUpstream })
	if b.State() != StateOpen {
		t.Errorf("State() = %v after half-open failure, want open", b.State())
	}

	// And the fresh open window rejects calls again.
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute() error = %v, want %v", err, ErrCircuitOpen)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	now := time.Now()
	b := testBreaker(BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Second}, &now)

	_ = b.Execute(func() error { return errUpstream })
	_ = b.Execute(func() error { return errUpstream })
	_ = b.Execute(func() error { return nil })

	// The earlier failures no longer count toward the threshold.
	_ = b.Execute(func() error { return errUpstream })
	_ = b.Execute(func() error { return errUpstream })
	if b.State() != StateClosed {
		t.Errorf("State() = %v, want closed", b.State())
	}
}

func TestBreaker_CancellationNotCounted(t *testing.T) {
	now := time.Now()
	b := testBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second}, &now)

	// Context cancellation flows through without opening the circuit.
	err := b.Execute(func() error { return context.Canceled })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() error = %v, want %v", err, context.Canceled)
	}
	if b.State() != StateClosed {
		t.Errorf("State() = %v after cancellation, want closed", b.State())
	}

	err = b.Execute(func() error { return context.DeadlineExceeded })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Execute() error = %v, want %v", err, context.DeadlineExceeded)
	}
	if b.State() != StateClosed {
		t.Errorf("State() = %v after deadline, want closed", b.State())
	}
}

func TestBreakerState_String(t *testing.T) {
	tests := []struct {
		state    BreakerState
		expected string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{BreakerState(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("String() = %s, want %s", got, tt.expected)
		}
	}
}

func TestBreakerRegistry(t *testing.T) {
	reg := NewBreakerRegistry(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second})

	a := reg.For("gemini")
	b := reg.For("gemini")
	if a != b {
		t.Error("For() returned distinct breakers for the same provider")
	}

	_ = reg.For("groq").Execute(func() error { return errUpstream })

	states := reg.States()
	if states["gemini"] != "closed" {
		t.Errorf("States()[gemini] = %s, want closed", states["gemini"])
	}
	if states["groq"] != "open" {
		t.Errorf("States()[groq] = %s, want open", states["groq"])
	}
}
