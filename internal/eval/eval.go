// Package eval implements the pronunciation evaluation engine: it grades a
// transcription against an expected utterance and produces a bounded,
// replayable feedback artifact (score, stars, feedback tier, per-word
// comparison, hints).
//
// The grading pipeline is deterministic for fixed inputs: normalization,
// Levenshtein similarity, the substring-acceptance rule, score, stars, and
// tier are all pure functions. Only the feedback message text varies — it is
// sampled from a fixed per-tier pool through a seedable choice function so
// tests can pin the selection.
package eval

import "math"

// Tier is the coarse feedback outcome driving which message pool is sampled.
type Tier string

const (
	TierExcellent Tier = "excellent"
	TierGood      Tier = "good"
	TierOkay      Tier = "okay"
	TierTryAgain  Tier = "try_again"
)

// Star thresholds. Fixed: score ≥ 90 → 3, ≥ 70 → 2, ≥ 50 → 1, else 0.
const (
	threeStarScore = 90
	twoStarScore   = 70
	oneStarScore   = 50
)

// tokenThreshold is the per-token similarity above which a word counts as
// correct without help from the substring rule.
const tokenThreshold = 0.8

// substringScoreFloor is the minimum score granted when the whole-utterance
// substring rule fires: the learner said the right thing surrounded by
// recognizer padding, which must not read as a failure.
const substringScoreFloor = 80

// maxHints bounds the hint list on any attempt.
const maxHints = 3

// WordScore is one entry of the positional per-word comparison.
type WordScore struct {
	Expected   string  `json:"expected"`
	Heard      string  `json:"heard"`
	Correct    bool    `json:"isCorrect"`
	Similarity float64 `json:"similarity"`
	Hint       string  `json:"hint,omitempty"`
}

// Attempt is the graded result of one pronunciation attempt.
type Attempt struct {
	ExpectedText      string      `json:"expectedText"`
	ExpectedRomanized string      `json:"expectedRomanized,omitempty"`
	Transcription     string      `json:"transcription"`
	AttemptNumber     int         `json:"attemptNumber"`
	Similarity        float64     `json:"similarity"`
	Score             int         `json:"score"`
	Stars             int         `json:"stars"`
	Tier              Tier        `json:"feedbackTier"`
	Message           string      `json:"message"`
	Words             []WordScore `json:"wordComparison,omitempty"`
	Hints             []string    `json:"hints,omitempty"`
}

// Input carries everything the engine needs to grade one attempt.
type Input struct {
	// Expected is the native-script target text.
	Expected string

	// Romanized is the romanization of Expected, used for hint wording.
	// Tokens align positionally with Expected's tokens.
	Romanized string

	// Heard is the transcription of what the learner said.
	Heard string

	// AttemptNumber is 1-based and only varies feedback tone, never scoring.
	AttemptNumber int

	// ProviderScore, when non-nil, overrides the locally computed score.
	// The local computation remains the fallback and verification path.
	ProviderScore *int
}

// Option configures an [Engine].
type Option func(*Engine)

// WithSeed pins the feedback-message choice function to a fixed seed.
// Production engines omit it and sample with true randomness.
func WithSeed(seed uint64) Option {
	return func(e *Engine) {
		e.picker = newSeededPicker(seed)
	}
}

// Engine grades pronunciation attempts. Safe for concurrent use.
type Engine struct {
	picker *messagePicker
}

// New returns an evaluation engine with the default randomized message picker.
func New(opts ...Option) *Engine {
	e := &Engine{picker: newPicker()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// StarsForScore maps a 0–100 score to a 0–3 star rating. Pure and monotonic:
// a higher score never yields fewer stars.
func StarsForScore(score int) int {
	switch {
	case score >= threeStarScore:
		return 3
	case score >= twoStarScore:
		return 2
	case score >= oneStarScore:
		return 1
	default:
		return 0
	}
}

// TierForStars maps a star rating to its feedback tier. Pure function of
// stars only.
func TierForStars(stars int) Tier {
	switch stars {
	case 3:
		return TierExcellent
	case 2:
		return TierGood
	case 1:
		return TierOkay
	default:
		return TierTryAgain
	}
}

// Evaluate grades one attempt. Steps 1–6 of the pipeline (normalize,
// similarity, substring acceptance, score, stars, tier) are deterministic;
// the message text is the only sampled component.
func (e *Engine) Evaluate(in Input) Attempt {
	expected := Normalize(in.Expected)
	heard := Normalize(in.Heard)

	sim := Similarity(heard, expected)
	score := int(math.Round(sim * 100))

	// Substring acceptance supplements a borderline Levenshtein result: a
	// contained utterance is correct even when raw similarity is dragged
	// down by recognizer padding. It never lowers a score.
	if SubstringAccepted(heard, expected) && score < substringScoreFloor {
		score = substringScoreFloor
	}

	// A provider-supplied score takes precedence over the local computation.
	if in.ProviderScore != nil {
		score = clampScore(*in.ProviderScore)
	}

	stars := StarsForScore(score)
	tier := TierForStars(stars)

	att := Attempt{
		ExpectedText:      in.Expected,
		ExpectedRomanized: in.Romanized,
		Transcription:     in.Heard,
		AttemptNumber:     in.AttemptNumber,
		Similarity:        sim,
		Score:             score,
		Stars:             stars,
		Tier:              tier,
		Message:           e.picker.pick(tier),
	}

	att.Words = compareWords(expected, Normalize(in.Romanized), heard, in.AttemptNumber)
	for _, w := range att.Words {
		if w.Hint == "" {
			continue
		}
		if len(att.Hints) == maxHints {
			break
		}
		att.Hints = append(att.Hints, w.Hint)
	}
	return att
}

// compareWords aligns expected and heard tokens by position (shorter side
// padded with empty) and scores each pair with the same similarity measure.
func compareWords(expected, romanized, heard string, attemptNumber int) []WordScore {
	expTokens := Tokenize(expected)
	if len(expTokens) == 0 {
		return nil
	}
	heardTokens := Tokenize(heard)
	romTokens := Tokenize(romanized)

	n := max(len(expTokens), len(heardTokens))
	words := make([]WordScore, 0, n)
	hints := 0

	for i := 0; i < n; i++ {
		var exp, got, rom string
		if i < len(expTokens) {
			exp = expTokens[i]
		}
		if i < len(heardTokens) {
			got = heardTokens[i]
		}
		if i < len(romTokens) {
			rom = romTokens[i]
		}

		sim := Similarity(got, exp)
		correct := sim >= tokenThreshold || SubstringAccepted(got, exp)

		w := WordScore{Expected: exp, Heard: got, Correct: correct, Similarity: sim}
		if !correct && exp != "" && hints < maxHints {
			// When positional alignment left this slot empty the learner may
			// still have attempted the word elsewhere in the utterance; hint
			// against the phonetically closest heard token instead.
			hintHeard := got
			if hintHeard == "" {
				if c, score := closestToken(exp, heardTokens); score >= 0.5 {
					hintHeard = c
				}
			}
			w.Hint = buildHint(exp, rom, hintHeard, attemptNumber)
			hints++
		}
		words = append(words, w)
	}
	return words
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
