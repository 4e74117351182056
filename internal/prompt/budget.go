// Package prompt assembles bounded, injection-contained prompts from
// prioritized data sections and user input.
package prompt

import (
	"sort"
	"strings"
)

// Section priorities. Lower means more important.
const (
	// PriorityMandatory content is always included in full.
	PriorityMandatory = 1

	// PriorityImportant content fills the target budget and may be truncated
	// against the max budget.
	PriorityImportant = 2

	// PriorityOptional content is included only when it fits, dropped
	// silently otherwise.
	PriorityOptional = 3
)

// charsPerToken is the approximation ratio used by the budget math.
const charsPerToken = 4

// TruncationMarker is appended to any section cut to fit the budget.
const TruncationMarker = "\n[...truncated]"

// Section is one prompt building block with its priority tier.
type Section struct {
	// Key identifies the section ("subject_summary", "peer_comparison", ...).
	Key string

	// Content is the section text.
	Content string

	// Priority is one of the Priority* constants.
	Priority int
}

// BudgetConfig bounds the assembled prompt.
type BudgetConfig struct {
	// TargetTokens is the soft ceiling the builder aims for.
	TargetTokens int `json:"target_tokens" mapstructure:"target_tokens"`

	// MaxTokens is the hard ceiling; only mandatory content may exceed it.
	MaxTokens int `json:"max_tokens" mapstructure:"max_tokens"`
}

// DefaultBudgetConfig returns the default prompt budget.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{TargetTokens: 4000, MaxTokens: 8000}
}

// EstimateTokens estimates the token count of a text using the 1 token ≈ 4
// characters approximation. Never returns 0 for non-empty text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	tokens := (len(text) + charsPerToken - 1) / charsPerToken
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}

// BuildResult reports what the budget algorithm decided.
type BuildResult struct {
	// Prompt is the assembled text, sections in their original order.
	Prompt string

	// IncludedKeys lists the keys that made it in, in output order.
	IncludedKeys []string

	// TruncatedKeys lists keys that were cut to fit.
	TruncatedKeys []string

	// Tokens is the estimated token count of the assembled prompt.
	Tokens int
}

// Build assembles a prompt from sections within the budget.
//
// Inclusion order is priority ascending, then content length ascending within
// a tier, so many small sections beat one large one at equal priority.
// Mandatory sections are always included in full, even past the target.
// Important sections fill up to target; the first one that would overflow is
// truncated to the remaining max allowance with a marker. Optional sections
// are fit-or-drop against the target. The final output preserves the
// caller's original section order: the budget decides inclusion, not layout.
func Build(sections []Section, cfg BudgetConfig) BuildResult {
	if cfg.TargetTokens <= 0 || cfg.MaxTokens <= 0 {
		cfg = DefaultBudgetConfig()
	}
	if cfg.MaxTokens < cfg.TargetTokens {
		cfg.MaxTokens = cfg.TargetTokens
	}

	ordered := make([]int, len(sections))
	for i := range sections {
		ordered[i] = i
	}
	sort.SliceStable(ordered, func(a, b int) bool {
		sa, sb := sections[ordered[a]], sections[ordered[b]]
		if sa.Priority != sb.Priority {
			return sa.Priority < sb.Priority
		}
		return len(sa.Content) < len(sb.Content)
	})

	included := make(map[int]string, len(sections))
	var truncated []string
	total := 0

	for _, idx := range ordered {
		s := sections[idx]
		if s.Content == "" {
			continue
		}
		tokens := EstimateTokens(s.Content)

		switch s.Priority {
		case PriorityMandatory:
			// Included in full regardless of budget; may overshoot target.
			included[idx] = s.Content
			total += tokens

		case PriorityImportant:
			if total+tokens <= cfg.TargetTokens {
				included[idx] = s.Content
				total += tokens
				continue
			}
			remaining := cfg.MaxTokens - total
			if remaining <= 0 {
				continue
			}
			cut := truncate(s.Content, remaining)
			if cut == "" {
				continue
			}
			included[idx] = cut + TruncationMarker
			total += EstimateTokens(cut + TruncationMarker)
			truncated = append(truncated, s.Key)

		default:
			// Optional: fit within target or drop silently.
			if total+tokens <= cfg.TargetTokens {
				included[idx] = s.Content
				total += tokens
			}
		}
	}

	var parts []string
	var keys []string
	for idx := range sections {
		if content, ok := included[idx]; ok {
			parts = append(parts, content)
			keys = append(keys, sections[idx].Key)
		}
	}

	prompt := strings.Join(parts, "\n\n")
	return BuildResult{
		Prompt:        prompt,
		IncludedKeys:  keys,
		TruncatedKeys: truncated,
		Tokens:        EstimateTokens(prompt),
	}
}

// truncate cuts text to roughly the given token allowance on a rune boundary.
func truncate(text string, tokens int) string {
	limit := tokens * charsPerToken
	if len(text) <= limit {
		return text
	}
	runes := []rune(text)
	if limit > len(runes) {
		limit = len(runes)
	}
	return strings.TrimSpace(string(runes[:limit]))
}
