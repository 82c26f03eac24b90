package progress

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dhvani-app/dhvani/internal/eval"
)

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// MemStore is an in-memory Store. It serializes all updates behind a single
// mutex, which is plenty for one process. Suitable for tests and for running
// without a database.
type MemStore struct {
	mu      sync.Mutex
	records map[pairKey]*Record
	applied map[string]Record // idempotency token -> record state after apply
	now     func() time.Time
}

type pairKey struct {
	childID  string
	promptID string
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		records: make(map[pairKey]*Record),
		applied: make(map[string]Record),
		now:     time.Now,
	}
}

// Apply implements Store.
func (s *MemStore) Apply(_ context.Context, childID, promptID string, att *eval.Attempt, token string) (*Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token != "" {
		if rec, ok := s.applied[token]; ok {
			return &Outcome{Record: rec, Duplicate: true}, nil
		}
	}

	key := pairKey{childID: childID, promptID: promptID}
	rec, ok := s.records[key]
	if !ok {
		rec = &Record{ChildID: childID, PromptID: promptID}
		s.records[key] = rec
	}

	best := Fold(rec, att)
	rec.UpdatedAt = s.now().UTC()

	if token != "" {
		s.applied[token] = *rec
	}
	return &Outcome{Record: *rec, IsPersonalBest: best}, nil
}

// Get implements Store.
func (s *MemStore) Get(_ context.Context, childID, promptID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[pairKey{childID: childID, promptID: promptID}]
	if !ok {
		return nil, ErrNotFound
	}
	out := *rec
	return &out, nil
}

// List implements Store.
func (s *MemStore) List(_ context.Context, childID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for key, rec := range s.records {
		if key.childID == childID {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}
