// Package keyword derives keyword summaries and keeps the full-text mirror of the registry.
package keyword

import "strings"

// DefaultCount is the number of leading words kept by Summarize when no count is configured.
const DefaultCount = 20

// Summarize returns the first n whitespace-separated words of text joined by ", ".
// n <= 0 uses DefaultCount.
func Summarize(text string, n int) string {
	if n <= 0 {
		n = DefaultCount
	}
	words := strings.Fields(text)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, ", ")
}
