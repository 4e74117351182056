// Package insight classifies cached generated content by freshness and
// drives deduplicated background regeneration. The governing principle:
// never return an empty result to a caller if any prior result exists.
package insight

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Freshness windows.
const (
	// FreshWindow is the age under which a hash-matching record is served
	// as-is.
	FreshWindow = 24 * time.Hour

	// ExpireWindow is the age past which a record is expired: still served,
	// but regeneration is urgent.
	ExpireWindow = 72 * time.Hour
)

// Freshness is the classification of a cached record.
type Freshness int

const (
	// FreshnessNone means no record exists; serve a template fallback and
	// queue generation.
	FreshnessNone Freshness = iota

	// FreshnessFresh means age < FreshWindow and the input hash matches;
	// serve as-is.
	FreshnessFresh

	// FreshnessStale means the record aged past FreshWindow or its inputs
	// changed; serve immediately, regenerate in the background.
	FreshnessStale

	// FreshnessExpired means age > ExpireWindow; still serve the content
	// rather than nothing, and regenerate.
	FreshnessExpired
)

// String returns the lowercase tier name.
func (f Freshness) String() string {
	switch f {
	case FreshnessFresh:
		return "fresh"
	case FreshnessStale:
		return "stale"
	case FreshnessExpired:
		return "expired"
	default:
		return "none"
	}
}

// CachedInsight is one cached generated result. Storage is owned by the
// persistence collaborator; this package only classifies and decides.
type CachedInsight struct {
	// Subject identifies what the insight is about (a technology, a stack).
	Subject string `json:"subject"`

	// Type is the insight kind ("digest", "recommendation", ...).
	Type string `json:"type"`

	// Content is the generated text.
	Content string `json:"content"`

	// ContentHash is the hash of the input data the content was built from.
	ContentHash string `json:"content_hash"`

	// GeneratedAt is when the content was generated.
	GeneratedAt time.Time `json:"generated_at"`

	// LastAccessed is when the record was last read.
	LastAccessed time.Time `json:"last_accessed"`
}

// HashInputs returns the hex SHA-256 of serialized input data, used to detect
// that a record's underlying data changed.
func HashInputs(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Classify places a record into a freshness tier given the hash of the
// current input data. A nil record is FreshnessNone.
func Classify(rec *CachedInsight, currentHash string, now time.Time) Freshness {
	if rec == nil {
		return FreshnessNone
	}
	age := now.Sub(rec.GeneratedAt)
	if age > ExpireWindow {
		return FreshnessExpired
	}
	if age >= FreshWindow || rec.ContentHash != currentHash {
		return FreshnessStale
	}
	return FreshnessFresh
}

// Decision is what a read should do given a record's freshness.
type Decision struct {
	// Freshness is the computed tier.
	Freshness Freshness

	// Content is what to serve; empty only when no record exists.
	Content string

	// Regenerate is true when a background regeneration should be queued.
	Regenerate bool

	// UseTemplate is true when no prior content exists and the caller should
	// serve its external template fallback.
	UseTemplate bool
}

// Decide turns a freshness classification into a serving decision. Stale and
// expired content is always served over nothing.
func Decide(rec *CachedInsight, currentHash string, now time.Time) Decision {
	freshness := Classify(rec, currentHash, now)
	switch freshness {
	case FreshnessFresh:
		return Decision{Freshness: freshness, Content: rec.Content}
	case FreshnessStale, FreshnessExpired:
		return Decision{Freshness: freshness, Content: rec.Content, Regenerate: true}
	default:
		return Decision{Freshness: freshness, Regenerate: true, UseTemplate: true}
	}
}
