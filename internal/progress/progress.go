// Package progress tracks per-learner, per-prompt practice history.
//
// Each evaluated pronunciation attempt is folded into a ProgressRecord via a
// fixed set of mutation rules: attempts and points only accumulate, the best
// score only rises, and mastery is sticky once earned. Updates for the same
// (child, prompt) pair are serialized by the Store implementation so rapid
// retries never lose an update, and callers may tag attempts with an
// idempotency token to make retried submissions safe to apply at most once.
package progress

import (
	"context"
	"errors"
	"time"

	"github.com/dhvani-app/dhvani/internal/eval"
)

// ErrNotFound is returned by Get when no record exists for the pair.
var ErrNotFound = errors.New("progress: record not found")

// Record is the per-(child, prompt) practice history.
type Record struct {
	ChildID       string    `json:"childId"`
	PromptID      string    `json:"promptId"`
	BestScore     int       `json:"bestScore"`
	TotalAttempts int       `json:"totalAttempts"`
	TotalPoints   int       `json:"totalPoints"`
	Mastered      bool      `json:"mastered"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Outcome is the result of recording one attempt.
type Outcome struct {
	// Record is the updated (or, for duplicates, current) history.
	Record Record `json:"record"`

	// IsPersonalBest is true iff the attempt's score strictly exceeded the
	// best score held before this attempt was applied.
	IsPersonalBest bool `json:"isPersonalBest"`

	// Duplicate is true when the attempt's idempotency token had already
	// been applied; the attempt was not counted again.
	Duplicate bool `json:"duplicate"`
}

// Store persists practice history.
//
// Implementations must serialize Apply calls per (childID, promptID) pair and
// must treat a repeated non-empty token as already applied.
type Store interface {
	// Apply folds one evaluated attempt into the pair's record and returns
	// the updated record. token is the caller's idempotency token; empty
	// means the caller does not retry and every call is counted.
	Apply(ctx context.Context, childID, promptID string, att *eval.Attempt, token string) (*Outcome, error)

	// Get returns the pair's record, or ErrNotFound.
	Get(ctx context.Context, childID, promptID string) (*Record, error)

	// List returns all records for a child, most recently updated first.
	List(ctx context.Context, childID string) ([]Record, error)
}

// Fold applies the mutation rules for one attempt to rec in place and
// reports whether the attempt set a new personal best. rec.UpdatedAt is left
// to the caller. Store implementations share this so every backend counts
// attempts the same way.
func Fold(rec *Record, att *eval.Attempt) (isPersonalBest bool) {
	isPersonalBest = att.Score > rec.BestScore

	rec.TotalAttempts++
	rec.TotalPoints += att.Stars
	if att.Score > rec.BestScore {
		rec.BestScore = att.Score
	}
	if att.Stars == 3 {
		rec.Mastered = true
	}
	return isPersonalBest
}
