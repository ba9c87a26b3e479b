// Package utils holds small helpers shared by the commands and the embedders.
package utils

import "unicode/utf8"

// Truncate returns at most maxLen bytes of s, cut on a rune boundary, with "..." appended
// when anything was dropped. maxLen <= 0 returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
