package eval

import (
	"fmt"

	"github.com/antzucaro/matchr"
)

// buildHint produces a short corrective nudge for one mispronounced token.
// When a romanization is available it anchors the hint, since the learner may
// not read the native script yet. From the second attempt on, the hint also
// names what was heard so the learner can hear the difference.
func buildHint(expected, romanized, heard string, attemptNumber int) string {
	target := romanized
	if target == "" {
		target = expected
	}

	if heard == "" {
		return fmt.Sprintf("I didn't hear %q — say it nice and loud!", target)
	}

	if attemptNumber >= 2 {
		return fmt.Sprintf("I heard %q — listen again and try %q slowly.", heard, target)
	}
	return fmt.Sprintf("Try saying %q.", target)
}

// closestToken returns the heard token most similar to expected, preferring
// phonetic (Double Metaphone) overlap and breaking ties with Jaro-Winkler,
// the same two-stage ranking the transcript matcher uses. Used when
// positional alignment is ambiguous (heard has a different word count).
func closestToken(expected string, heard []string) (string, float64) {
	if len(heard) == 0 {
		return "", 0
	}

	expPrimary, expSecondary := matchr.DoubleMetaphone(expected)

	best := heard[0]
	bestScore := -1.0
	for _, h := range heard {
		score := matchr.JaroWinkler(expected, h, false)
		p, s := matchr.DoubleMetaphone(h)
		if p != "" && (p == expPrimary || p == expSecondary) ||
			s != "" && (s == expPrimary || s == expSecondary) {
			score += 0.5
		}
		if score > bestScore {
			best, bestScore = h, score
		}
	}
	if bestScore > 1 {
		bestScore = 1
	}
	return best, bestScore
}
