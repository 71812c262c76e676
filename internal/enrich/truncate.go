package enrich

import "strings"

// truncationMarker separates the head and tail windows of a truncated text.
const truncationMarker = "\n[...]\n"

// Truncate bounds text to maxChars runes plus the marker. It keeps the first
// maxChars-tailChars runes and the last tailChars runes, since propositions
// state their proposal early and their signatures and amendments late.
// A non-positive maxChars disables truncation.
func Truncate(text string, maxChars, tailChars int) string {
	if maxChars <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	if tailChars < 0 {
		tailChars = 0
	}
	if tailChars >= maxChars {
		tailChars = maxChars / 2
	}
	head := maxChars - tailChars

	var b strings.Builder
	b.Grow(len(text))
	b.WriteString(string(runes[:head]))
	b.WriteString(truncationMarker)
	if tailChars > 0 {
		b.WriteString(string(runes[len(runes)-tailChars:]))
	}
	return b.String()
}
