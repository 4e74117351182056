// Package domain contains the core business entities and value objects.
// These structs are framework-agnostic and represent the heart of the application.
package domain

import "time"

// Credential represents a single rate-limited API key bound to one provider.
type Credential struct {
	// Key is the actual secret key material.
	Key string `json:"key" mapstructure:"key"`

	// Name is a human-readable identifier for this credential.
	Name string `json:"name" mapstructure:"name"`

	// Provider associates this credential with a specific provider.
	Provider string `json:"provider" mapstructure:"provider"`

	// RequestsPerMinute is the per-minute quota for this credential.
	RequestsPerMinute int `json:"requests_per_minute" mapstructure:"requests_per_minute"`

	// RequestsPerDay is the daily quota for this credential (0 = unlimited).
	RequestsPerDay int `json:"requests_per_day" mapstructure:"requests_per_day"`

	// minuteUsed counts selections in the current minute window.
	minuteUsed int

	// minuteStart marks the beginning of the current minute window.
	minuteStart time.Time

	// dayUsed counts selections in the current day window.
	dayUsed int

	// dayStart marks the beginning of the current day window.
	dayStart time.Time

	// failures counts consecutive failed calls since the last success.
	failures int

	// cooldownUntil blocks selection until this instant after repeated failures.
	cooldownUntil time.Time
}

// IsValid checks if the credential has all required fields.
func (c *Credential) IsValid() bool {
	return c.Key != "" && c.Provider != ""
}

// MinuteUsage returns the number of selections in the current minute window.
func (c *Credential) MinuteUsage() int { return c.minuteUsed }

// DayUsage returns the number of selections in the current day window.
func (c *Credential) DayUsage() int { return c.dayUsed }

// ConsecutiveFailures returns the current consecutive-failure count.
func (c *Credential) ConsecutiveFailures() int { return c.failures }

// CooldownUntil returns the instant selection becomes possible again.
// The zero time means the credential is not in cooldown.
func (c *Credential) CooldownUntil() time.Time { return c.cooldownUntil }

// resetWindows rolls the per-minute and per-day usage counters forward when
// their windows have elapsed. Windows are checked lazily on selection, never
// by background timers.
func (c *Credential) resetWindows(now time.Time) {
	if c.minuteStart.IsZero() || now.Sub(c.minuteStart) >= time.Minute {
		c.minuteStart = now
		c.minuteUsed = 0
	}
	if c.dayStart.IsZero() || now.Sub(c.dayStart) >= 24*time.Hour {
		c.dayStart = now
		c.dayUsed = 0
	}
}

// available reports whether the credential may be selected right now.
// A credential in cooldown or over either quota is skipped, never dropped.
func (c *Credential) available(now time.Time) bool {
	if !c.cooldownUntil.IsZero() && now.Before(c.cooldownUntil) {
		return false
	}
	c.resetWindows(now)
	if c.RequestsPerMinute > 0 && c.minuteUsed >= c.RequestsPerMinute {
		return false
	}
	if c.RequestsPerDay > 0 && c.dayUsed >= c.RequestsPerDay {
		return false
	}
	return true
}
