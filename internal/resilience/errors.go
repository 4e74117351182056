// Package resilience combines the route table, key manager, circuit breakers
// and retry policy into a single resilient call path for generation requests.
package resilience

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCircuitOpen is returned when a breaker short-circuits a call without
// attempting it. Fallback logic treats it identically to a provider failure.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ProviderError wraps a single failed provider call. It feeds retry and
// breaker accounting and is never surfaced to the top-level caller.
type ProviderError struct {
	// Provider is the provider that failed.
	Provider string

	// StatusCode is the upstream HTTP status, 0 when unknown.
	StatusCode int

	// Err is the underlying error.
	Err error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s failed [%d]: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// StatusFromError extracts the upstream HTTP status from an error chain.
// Returns 0 when no ProviderError carries one.
func StatusFromError(err error) int {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.StatusCode
	}
	return 0
}

// AllProvidersExhaustedError is the terminal error: every provider in the
// routing chain failed or had no usable credential. It is the only error the
// resilient caller lets escape to its invoker.
type AllProvidersExhaustedError struct {
	// UseCase names the feature whose chain was exhausted.
	UseCase string

	// Attempted lists the providers that were actually tried.
	Attempted []string

	// LastErr is the final provider failure, nil when no provider had a key.
	LastErr error
}

func (e *AllProvidersExhaustedError) Error() string {
	if len(e.Attempted) == 0 {
		return fmt.Sprintf("all providers exhausted for use case %q: no credentials available", e.UseCase)
	}
	return fmt.Sprintf("all providers exhausted for use case %q (tried %s): %v",
		e.UseCase, strings.Join(e.Attempted, ", "), e.LastErr)
}

func (e *AllProvidersExhaustedError) Unwrap() error {
	return e.LastErr
}

// IsExhausted checks if an error is an AllProvidersExhaustedError.
func IsExhausted(err error) bool {
	var target *AllProvidersExhaustedError
	return errors.As(err, &target)
}
