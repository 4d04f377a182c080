package ragtune

import "strings"

// EstimateTokens approximates the token count of a text for budget
// accounting, using the common ~4 characters per token heuristic. It is
// deliberately model-agnostic: budgets are advisory ceilings, not exact
// context-window math.
func EstimateTokens(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	n := (len(trimmed) + 3) / 4
	if n < 1 {
		n = 1
	}
	return n
}
