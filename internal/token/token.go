// Package token approximates model token counts without calling a tokenizer.
package token

import "math"

// CharsPerToken is the empirical average for English prose across the models
// we target. Exact tokenization is not required; chunk sizing carries its own
// headroom.
const CharsPerToken = 3.5

// Estimate gives a rough token count for text using the ~3.5 chars/token
// heuristic. Deterministic and O(len(text)).
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	n := int(math.Ceil(float64(len(text)) / CharsPerToken))
	if n < 1 {
		n = 1
	}
	return n
}
