// Package provider defines the generation contract every language-model
// backend implements, plus concrete adapters. The resilient call path treats
// all providers as interchangeable implementations of this single interface.
package provider

import (
	"context"
	"encoding/json"
	"strings"
)

// Options are the per-call generation parameters.
type Options struct {
	// Model is the provider-specific model name.
	Model string

	// Temperature controls generation randomness.
	Temperature float64

	// MaxTokens caps the generated output length (0 = provider default).
	MaxTokens int

	// SystemInstruction is an optional system prompt.
	SystemInstruction string
}

// ChunkFunc receives one streamed text chunk. Returning an error aborts the
// stream.
type ChunkFunc func(chunk string) error

// Provider is an interchangeable backend capable of text, JSON and streaming
// generation.
type Provider interface {
	// Name returns the provider identifier used in routing and breakers.
	Name() string

	// GenerateText returns the full generated text for a prompt.
	GenerateText(ctx context.Context, prompt string, opts Options) (string, error)

	// GenerateJSON requests structured output and reports explicitly whether
	// the model's text parsed as JSON.
	GenerateJSON(ctx context.Context, prompt string, opts Options) (JSONResult, error)

	// GenerateStream delivers the output incrementally through onChunk.
	// Cancelling ctx tears down the underlying connection.
	GenerateStream(ctx context.Context, prompt string, opts Options, onChunk ChunkFunc) error
}

// JSONResult is a tagged parse outcome. Callers branch on Parsed instead of
// inheriting a silently swallowed parse failure.
type JSONResult struct {
	// Parsed is true when Raw was valid JSON.
	Parsed bool

	// Value holds the decoded document when Parsed is true.
	Value map[string]any

	// Raw is always the model's verbatim text.
	Raw string
}

// ParseJSON attempts to decode model output as a JSON object. Markdown code
// fences around the payload are stripped first, since models frequently wrap
// JSON in them.
func ParseJSON(raw string) JSONResult {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var value map[string]any
	if err := json.Unmarshal([]byte(text), &value); err != nil {
		return JSONResult{Parsed: false, Raw: raw}
	}
	return JSONResult{Parsed: true, Value: value, Raw: raw}
}
