// Package domain contains the core business entities and value objects.
package domain

import (
	"errors"
	"sync"
	"time"
)

// ErrNoKeysAvailable is returned when every credential for a provider is in
// cooldown or over quota, or the provider has no credentials at all.
var ErrNoKeysAvailable = errors.New("no keys available for provider")

const (
	// DefaultFailureThreshold is the consecutive-failure count after which a
	// credential is placed in cooldown.
	DefaultFailureThreshold = 3

	// DefaultCooldown is the base cooldown applied once the failure threshold
	// is crossed. The applied window scales with the failure count.
	DefaultCooldown = 60 * time.Second

	// rateLimitStatus is the HTTP status that triggers an immediate cooldown
	// regardless of the consecutive-failure count.
	rateLimitStatus = 429
)

// KeyManager holds the credential pool grouped by provider and selects a
// usable credential on demand. Selection skips credentials in cooldown or
// over their per-minute/day quota; among eligible credentials the one with
// the lowest recent usage wins (least-used strategy).
//
// All state transitions are lazy: quota windows and cooldown expiry are
// evaluated on the next selection attempt, never by background timers.
type KeyManager struct {
	// byProvider groups managed credentials by provider name.
	byProvider map[string][]*Credential

	// mu serializes all read-modify-write access to credential state.
	mu sync.Mutex

	// failureThreshold is the consecutive-failure count that opens a cooldown.
	failureThreshold int

	// cooldown is the base cooldown window; it scales with repeated failures.
	cooldown time.Duration

	// now is the clock, injectable for tests.
	now func() time.Time
}

// KeyManagerOption is a functional option for configuring KeyManager.
type KeyManagerOption func(*KeyManager)

// WithFailureThreshold sets the consecutive-failure count that triggers a cooldown.
func WithFailureThreshold(n int) KeyManagerOption {
	return func(km *KeyManager) {
		if n > 0 {
			km.failureThreshold = n
		}
	}
}

// WithCooldown sets the base cooldown duration.
func WithCooldown(d time.Duration) KeyManagerOption {
	return func(km *KeyManager) {
		if d > 0 {
			km.cooldown = d
		}
	}
}

// WithClock sets the time source. Tests use this to step through quota
// windows and cooldowns without sleeping.
func WithClock(now func() time.Time) KeyManagerOption {
	return func(km *KeyManager) {
		if now != nil {
			km.now = now
		}
	}
}

// NewKeyManager creates a KeyManager over the given credentials.
// Invalid and duplicate credentials are skipped.
func NewKeyManager(creds []Credential, opts ...KeyManagerOption) *KeyManager {
	km := &KeyManager{
		byProvider:       make(map[string][]*Credential),
		failureThreshold: DefaultFailureThreshold,
		cooldown:         DefaultCooldown,
		now:              time.Now,
	}

	for _, opt := range opts {
		opt(km)
	}

	seen := make(map[string]struct{})
	for i := range creds {
		c := creds[i]
		if !c.IsValid() {
			continue
		}
		if _, exists := seen[c.Key]; exists {
			continue
		}
		seen[c.Key] = struct{}{}
		km.byProvider[c.Provider] = append(km.byProvider[c.Provider], &c)
	}

	return km
}

// GetKey returns an available credential for the provider, reserving one unit
// of minute and day quota. Returns ErrNoKeysAvailable when every credential
// is in cooldown or exhausted; callers treat that identically to a dead
// provider and move on to the next one in the chain.
func (km *KeyManager) GetKey(provider string) (*Credential, error) {
	km.mu.Lock()
	defer km.mu.Unlock()

	now := km.now()

	var best *Credential
	for _, c := range km.byProvider[provider] {
		if !c.available(now) {
			continue
		}
		if best == nil || c.minuteUsed < best.minuteUsed {
			best = c
		}
	}
	if best == nil {
		return nil, ErrNoKeysAvailable
	}

	// Reserve quota at selection time so failed calls still count against
	// the upstream limit.
	best.minuteUsed++
	best.dayUsed++
	return best, nil
}

// RecordSuccess resets the consecutive-failure counter after a successful call.
func (km *KeyManager) RecordSuccess(cred *Credential) {
	if cred == nil {
		return
	}
	km.mu.Lock()
	defer km.mu.Unlock()

	cred.failures = 0
	cred.cooldownUntil = time.Time{}
}

// RecordFailure increments the consecutive-failure counter and, past the
// threshold, places the credential in a cooldown window that scales with the
// failure count. A 429 status opens the cooldown immediately: the upstream
// quota is already burned, retrying the same key sooner only wastes calls.
func (km *KeyManager) RecordFailure(cred *Credential, httpStatus int) {
	if cred == nil {
		return
	}
	km.mu.Lock()
	defer km.mu.Unlock()

	now := km.now()
	cred.failures++

	if httpStatus == rateLimitStatus {
		cred.cooldownUntil = now.Add(km.cooldown)
		return
	}
	if cred.failures >= km.failureThreshold {
		scale := cred.failures - km.failureThreshold + 1
		cred.cooldownUntil = now.Add(km.cooldown * time.Duration(scale))
	}
}

// AvailableCount returns how many of the provider's credentials are currently
// selectable.
func (km *KeyManager) AvailableCount(provider string) int {
	km.mu.Lock()
	defer km.mu.Unlock()

	now := km.now()
	count := 0
	for _, c := range km.byProvider[provider] {
		if c.available(now) {
			count++
		}
	}
	return count
}

// TotalCount returns the total number of managed credentials for a provider.
func (km *KeyManager) TotalCount(provider string) int {
	km.mu.Lock()
	defer km.mu.Unlock()
	return len(km.byProvider[provider])
}

// Providers returns the names of all providers with at least one credential.
func (km *KeyManager) Providers() []string {
	km.mu.Lock()
	defer km.mu.Unlock()

	names := make([]string, 0, len(km.byProvider))
	for name := range km.byProvider {
		names = append(names, name)
	}
	return names
}

// Snapshot returns per-credential usage for monitoring. Keys are masked by
// the caller before logging.
func (km *KeyManager) Snapshot(provider string) []CredentialStatus {
	km.mu.Lock()
	defer km.mu.Unlock()

	now := km.now()
	out := make([]CredentialStatus, 0, len(km.byProvider[provider]))
	for _, c := range km.byProvider[provider] {
		out = append(out, CredentialStatus{
			Name:       c.Name,
			Provider:   c.Provider,
			MinuteUsed: c.minuteUsed,
			DayUsed:    c.dayUsed,
			Failures:   c.failures,
			InCooldown: !c.cooldownUntil.IsZero() && now.Before(c.cooldownUntil),
		})
	}
	return out
}

// CredentialStatus is a read-only view of one credential's runtime state.
type CredentialStatus struct {
	Name       string `json:"name"`
	Provider   string `json:"provider"`
	MinuteUsed int    `json:"minute_used"`
	DayUsed    int    `json:"day_used"`
	Failures   int    `json:"failures"`
	InCooldown bool   `json:"in_cooldown"`
}
