package eval

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// Similarity computes the normalized inverse Levenshtein distance between two
// already-normalized strings, in [0, 1]. Distance is classic Levenshtein
// (insert/delete/substitute, unit cost) over runes, so a single Devanagari
// substitution counts as one edit.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}

	la := utf8.RuneCountInString(a)
	lb := utf8.RuneCountInString(b)
	longest := max(la, lb, 1)

	dist := matchr.Levenshtein(a, b)
	sim := 1 - float64(dist)/float64(longest)
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

// SubstringAccepted reports whether one normalized string contains the other.
// Handles partial utterances and recognizer padding ("um, पानी" vs "पानी");
// both sides must be non-empty.
func SubstringAccepted(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}
