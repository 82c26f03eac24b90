// Package llmhint implements an optional language-model stage that rewrites
// the deterministic per-word hints into friendlier, more specific coaching
// for repeat attempts.
//
// The [Refiner] sends the expected text, its romanization, what was heard,
// and the rule-generated hints to a completion backend. The model is
// instructed (via a conservative system prompt) to return a structured JSON
// response with at most the same number of hints, each a single short
// sentence a young child can follow.
//
// This stage runs only on attempt two and later and never on the scoring
// path — scores, stars, and tiers are fixed before it runs. When the model
// response cannot be parsed, the refiner returns the original hints unchanged
// rather than surfacing an error, keeping the feedback pipeline robust.
package llmhint

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dhvani-app/dhvani/internal/eval"
)

const systemPrompt = `You are a pronunciation coach for young children learning a new language.

Your task: rewrite the provided pronunciation hints to be warmer and more concrete.

Rules:
- Keep each hint to ONE short sentence a six-year-old can follow.
- Refer to sounds using the romanized spelling, never phonetic alphabet symbols.
- Never mention scores, stars, or that the child got something "wrong".
- Return AT MOST as many hints as you were given, in the same order.
- If a hint is already good, return it unchanged.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "hints": ["<hint 1>", "<hint 2>"]
}`

// Completer is the minimal completion surface the refiner needs. The anyllm
// adapter in this package satisfies it; tests supply a stub.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Refiner rewrites attempt hints through a [Completer]. Safe for concurrent
// use.
type Refiner struct {
	llm Completer
}

// New returns a Refiner backed by the given completion backend.
func New(llm Completer) *Refiner {
	return &Refiner{llm: llm}
}

// Refine rewrites att's hints in place for attempt numbers ≥ 2. It never
// changes scores or adds hints beyond the existing count. An unparseable
// model response leaves the hints untouched with a nil error (graceful
// degradation); context cancellation and transport errors are returned.
func (r *Refiner) Refine(ctx context.Context, att *eval.Attempt) error {
	if att.AttemptNumber < 2 || len(att.Hints) == 0 {
		return nil
	}

	user := fmt.Sprintf(
		"Target: %s\nRomanized: %s\nChild said: %s\nCurrent hints:\n%s",
		att.ExpectedText,
		att.ExpectedRomanized,
		att.Transcription,
		"- "+strings.Join(att.Hints, "\n- "),
	)

	raw, err := r.llm.Complete(ctx, systemPrompt, user)
	if err != nil {
		return fmt.Errorf("llmhint: complete: %w", err)
	}

	var resp struct {
		Hints []string `json:"hints"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &resp); err != nil {
		// Keep the deterministic hints; the pipeline must continue.
		return nil
	}
	if len(resp.Hints) == 0 || len(resp.Hints) > len(att.Hints) {
		return nil
	}

	for i, h := range resp.Hints {
		h = strings.TrimSpace(h)
		if h != "" {
			att.Hints[i] = h
		}
	}
	att.Hints = att.Hints[:len(resp.Hints)]
	return nil
}

// extractJSON strips markdown code fences some models wrap around JSON.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}
