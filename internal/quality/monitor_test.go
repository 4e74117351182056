package quality

import (
	"strings"
	"testing"
)

// goodOutput passes every check against goodInput.
const goodOutput = `Go adoption grew from 1200 to 3400 mentions this quarter, a 183 percent
increase compared to its peers in the systems category. Rust trails at 2100
mentions. The data is preliminary and may not capture private repositories,
so treat the trend with caution. We recommend starting with Go for backend
services this year, and consider Rust where memory safety is the priority.
Both figures come from the same 90-day collection window.`

const goodInput = "go mentions: 1200 -> 3400 (+183%), rust mentions: 2100, window: 90 days"

func TestScore_WeightedSum(t *testing.T) {
	// data_grounded(25) + uncertainty(15) + no_hallucination(20) +
	// length_sane(10) = 70.
	checks := map[string]bool{
		CheckDataGrounded:    true,
		CheckComparative:     false,
		CheckUncertainty:     true,
		CheckNoHallucination: true,
		CheckActionable:      false,
		CheckLengthSane:      true,
	}

	result := score(checks)
	if result.Score != 70 {
		t.Errorf("Score = %d, want 70", result.Score)
	}
	if !result.Passed {
		t.Errorf("Passed = false, want true at score %d", result.Score)
	}
}

func TestScore_AllPass(t *testing.T) {
	checks := make(map[string]bool, len(checkOrder))
	for _, name := range checkOrder {
		checks[name] = true
	}

	result := score(checks)
	if result.Score != 100 {
		t.Errorf("Score = %d, want 100", result.Score)
	}
}

func TestScore_AllFail(t *testing.T) {
	result := score(map[string]bool{})
	if result.Score != 0 {
		t.Errorf("Score = %d, want 0", result.Score)
	}
	if result.Passed {
		t.Error("Passed = true at score 0")
	}
}

func TestEvaluate_GoodOutput(t *testing.T) {
	result := Evaluate(goodOutput, Context{InputText: goodInput})

	if !result.Passed {
		t.Errorf("Passed = false, score = %d, checks = %v", result.Score, result.Checks)
	}
	for _, name := range checkOrder {
		if !result.Checks[name] {
			t.Errorf("check %s = false, want true", name)
		}
	}
}

func TestEvaluate_DataGrounded(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		expected bool
	}{
		{
			name:     "four numbers",
			output:   "grew 12% from 100 to 250 over 3 months",
			expected: true,
		},
		{
			name:     "too few numbers",
			output:   "adoption is growing quickly, maybe 2 times faster",
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Evaluate(tt.output, Context{InputText: tt.output})
			if result.Checks[CheckDataGrounded] != tt.expected {
				t.Errorf("data_grounded = %v, want %v", result.Checks[CheckDataGrounded], tt.expected)
			}
		})
	}
}

func TestEvaluate_UncertaintyOnlyRequiredForLowConfidence(t *testing.T) {
	output := "plain statement with no hedging at all"

	confident := Evaluate(output, Context{InputText: output, LowConfidence: false})
	if !confident.Checks[CheckUncertainty] {
		t.Error("uncertainty check failed for high-confidence input")
	}

	low := Evaluate(output, Context{InputText: output, LowConfidence: true})
	if low.Checks[CheckUncertainty] {
		t.Error("uncertainty check passed for low-confidence input without hedging")
	}
}

func TestEvaluate_HallucinatedNumbers(t *testing.T) {
	input := "mentions: 1200, stars: 3400"

	t.Run("numbers trace back to input", func(t *testing.T) {
		result := Evaluate("grew to 3400 from 1200", Context{InputText: input})
		if !result.Checks[CheckNoHallucination] {
			t.Error("no_hallucinated_numbers = false for grounded output")
		}
	})

	t.Run("reformatted numbers still match", func(t *testing.T) {
		result := Evaluate("about 3,400 stars and 1,200 mentions", Context{InputText: input})
		if !result.Checks[CheckNoHallucination] {
			t.Error("no_hallucinated_numbers = false for comma-formatted figures")
		}
	})

	t.Run("too many invented figures", func(t *testing.T) {
		result := Evaluate("figures of 999, 888, 777 prove the point", Context{InputText: input})
		if result.Checks[CheckNoHallucination] {
			t.Error("no_hallucinated_numbers = true for three invented numbers")
		}
	})

	t.Run("within tolerance", func(t *testing.T) {
		// Two unmatched large numbers sit exactly at the tolerance.
		result := Evaluate("roughly 999 and 888", Context{InputText: input})
		if !result.Checks[CheckNoHallucination] {
			t.Error("no_hallucinated_numbers = false at the tolerance boundary")
		}
	})
}

func TestEvaluate_LengthSane(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		expected bool
	}{
		{name: "too short", output: "short answer", expected: false},
		{name: "sane", output: strings.Repeat("word ", 100), expected: true},
		{name: "too long", output: strings.Repeat("word ", 1500), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Evaluate(tt.output, Context{InputText: tt.output})
			if result.Checks[CheckLengthSane] != tt.expected {
				t.Errorf("length_sane = %v, want %v (len %d)", result.Checks[CheckLengthSane], tt.expected, len(tt.output))
			}
		})
	}
}
