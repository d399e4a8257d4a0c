// Package strings holds small string helpers shared across the hub's
// terminal output paths.
package strings

import (
	"strings"
)

// MinTruncateLen is the smallest usable maxLen for TruncateDescription.
// Anything shorter leaves no room for content plus "...".
const MinTruncateLen = 4

// TruncateDescription flattens a description to a single line and truncates
// it to maxLen runes, appending "..." when content was cut. Newlines, tabs
// and runs of whitespace collapse to single spaces so the result fits a
// table cell. maxLen values below MinTruncateLen are clamped.
func TruncateDescription(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
