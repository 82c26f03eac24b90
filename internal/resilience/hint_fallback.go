package resilience

import (
	"context"

	"github.com/dhvani-app/dhvani/internal/eval/llmhint"
)

// HintFallback implements [llmhint.Completer] with failover across multiple
// LLM backends. Hint refinement is best-effort, so a group here mostly
// serves to keep one dead backend from slowing every attempt down.
type HintFallback struct {
	group *FallbackGroup[llmhint.Completer]
}

// Compile-time interface assertion.
var _ llmhint.Completer = (*HintFallback)(nil)

// NewHintFallback creates a [HintFallback] with primary as the preferred
// backend.
func NewHintFallback(primary llmhint.Completer, primaryName string, cfg FallbackConfig) *HintFallback {
	return &HintFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional completion backend.
func (f *HintFallback) AddFallback(name string, completer llmhint.Completer) {
	f.group.AddFallback(name, completer)
}

// Complete runs the completion against the first healthy backend.
func (f *HintFallback) Complete(ctx context.Context, system, user string) (string, error) {
	return DoWithResult(f.group, func(c llmhint.Completer) (string, error) {
		return c.Complete(ctx, system, user)
	})
}
