package eval

import (
	"strings"
	"unicode"
)

// Normalize prepares a string for comparison: case folding, whitespace
// trimming and collapsing, and punctuation/symbol stripping. Letters and
// marks of all scripts survive, so Devanagari (and its combining vowel signs)
// compare correctly.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			// Dropped: "पानी!" and "पानी" must compare equal.
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}

// Tokenize splits a normalized string into whitespace-separated tokens.
func Tokenize(s string) []string {
	return strings.Fields(s)
}
