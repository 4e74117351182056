// Package quality scores generated insight text against heuristics before it
// is trusted as cache-worthy. A failing score is a structured result, never
// an error; callers choose to regenerate, serve lower-trust, or fall back
// to stale cache.
package quality

import (
	"regexp"
	"strings"
)

// PassThreshold is the minimum weighted score for output to be cached as
// authoritative.
const PassThreshold = 60

// HallucinationTolerance is the number of large numbers allowed to appear in
// the output without a match in the input context. Formatting noise (rounded
// or reformatted figures) makes an exact-match requirement too strict; the
// value is a tunable heuristic, not a correctness guarantee.
const HallucinationTolerance = 2

// Output length sanity window, in characters.
const (
	minSaneLength = 200
	maxSaneLength = 5000
)

// Check names, in evaluation order.
const (
	CheckDataGrounded    = "data_grounded"
	CheckComparative     = "comparative_language"
	CheckUncertainty     = "uncertainty_acknowledged"
	CheckNoHallucination = "no_hallucinated_numbers"
	CheckActionable      = "actionable_recommendation"
	CheckLengthSane      = "length_sane"
)

// checkWeights are fixed; the weighted sum is the quality score.
var checkWeights = map[string]int{
	CheckDataGrounded:    25,
	CheckComparative:     15,
	CheckUncertainty:     15,
	CheckNoHallucination: 20,
	CheckActionable:      15,
	CheckLengthSane:      10,
}

// checkOrder fixes the evaluation and reporting order of the checks.
var checkOrder = []string{
	CheckDataGrounded,
	CheckComparative,
	CheckUncertainty,
	CheckNoHallucination,
	CheckActionable,
	CheckLengthSane,
}

var numberPattern = regexp.MustCompile(`\d[\d,.]*`)

// largeNumberPattern matches numeric tokens of three or more digits, the
// ones worth verifying against the input context.
var largeNumberPattern = regexp.MustCompile(`\d{3,}`)

var comparativeTerms = []string{
	"compared to", "compared with", "versus", " vs ", " vs.", "than",
	"relative to", "among", "peers", "ahead of", "behind", "outpac",
}

var uncertaintyTerms = []string{
	"uncertain", "limited data", "low confidence", "preliminary",
	"caution", "may not", "might", "early signal", "tentative",
}

var actionableTerms = []string{
	"recommend", "consider", "should", "start with", "focus on",
	"worth learning", "next step", "good time to", "prioritize",
}

// Context carries the facts the output is checked against.
type Context struct {
	// InputText is the serialized data the prompt was built from; large
	// numbers in the output must trace back to it.
	InputText string

	// LowConfidence marks input graded as low-confidence; the output must
	// then textually acknowledge the uncertainty.
	LowConfidence bool
}

// Result is the outcome of one quality evaluation. Computed fresh per
// generation; only the pass/fail outcome gates caching.
type Result struct {
	// Checks maps check name to pass/fail.
	Checks map[string]bool

	// Score is the 0-100 weighted sum of passing checks.
	Score int

	// Passed is true when Score meets PassThreshold.
	Passed bool
}

// Evaluate runs the six heuristic checks over generated output.
func Evaluate(output string, ctx Context) Result {
	lower := strings.ToLower(output)

	checks := map[string]bool{
		CheckDataGrounded:    len(numberPattern.FindAllString(output, -1)) >= 4,
		CheckComparative:     containsAny(lower, comparativeTerms),
		CheckUncertainty:     !ctx.LowConfidence || containsAny(lower, uncertaintyTerms),
		CheckNoHallucination: hallucinatedCount(output, ctx.InputText) <= HallucinationTolerance,
		CheckActionable:      containsAny(lower, actionableTerms),
		CheckLengthSane:      len(output) >= minSaneLength && len(output) <= maxSaneLength,
	}

	return score(checks)
}

// score computes the weighted result from named check outcomes. It is a pure
// function of the checks and the fixed weights.
func score(checks map[string]bool) Result {
	total := 0
	for _, name := range checkOrder {
		if checks[name] {
			total += checkWeights[name]
		}
	}
	return Result{
		Checks: checks,
		Score:  total,
		Passed: total >= PassThreshold,
	}
}

// hallucinatedCount counts large numbers in the output that never occur in
// the input context. Separators are stripped before comparison so "12,500"
// and "12500" match.
func hallucinatedCount(output, inputText string) int {
	inputNumbers := make(map[string]struct{})
	for _, n := range largeNumberPattern.FindAllString(normalizeNumbers(inputText), -1) {
		inputNumbers[n] = struct{}{}
	}

	count := 0
	for _, n := range largeNumberPattern.FindAllString(normalizeNumbers(output), -1) {
		if _, ok := inputNumbers[n]; !ok {
			count++
		}
	}
	return count
}

func normalizeNumbers(s string) string {
	return strings.ReplaceAll(s, ",", "")
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}
