// Package textlimit bounds text by a character budget.
package textlimit

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

var markerRe = regexp.MustCompile(`\n\n\[\.\.\.truncated \d+ chars\]$`)

// Marker returns the suffix appended to text that lost omitted characters.
func Marker(omitted int) string {
	return fmt.Sprintf("\n\n[...truncated %d chars]", omitted)
}

// Truncate keeps at most maxChars characters (code points) of text. When text
// is cut, the result carries a marker with the number of omitted characters
// and truncated is true. Text that already ends with a marker and whose body
// fits maxChars is returned as-is, still reported as truncated.
func Truncate(text string, maxChars int) (string, bool) {
	if maxChars < 0 {
		maxChars = 0
	}
	n := utf8.RuneCountInString(text)
	if n <= maxChars {
		return text, false
	}
	if loc := markerRe.FindStringIndex(text); loc != nil && utf8.RuneCountInString(text[:loc[0]]) <= maxChars {
		return text, true
	}
	runes := []rune(text)
	return string(runes[:maxChars]) + Marker(n-maxChars), true
}

// Len counts characters the same way Truncate does.
func Len(text string) int {
	return utf8.RuneCountInString(text)
}
