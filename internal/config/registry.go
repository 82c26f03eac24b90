package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dhvani-app/dhvani/internal/eval/llmhint"
	"github.com/dhvani-app/dhvani/pkg/provider/transcribe"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	transcribe map[string]func(ProviderEntry) (transcribe.Provider, error)
	hints      map[string]func(ProviderEntry) (llmhint.Completer, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		transcribe: make(map[string]func(ProviderEntry) (transcribe.Provider, error)),
		hints:      make(map[string]func(ProviderEntry) (llmhint.Completer, error)),
	}
}

// RegisterTranscribe registers a transcription provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTranscribe(name string, factory func(ProviderEntry) (transcribe.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcribe[name] = factory
}

// RegisterHints registers a hint-completion backend factory under name.
func (r *Registry) RegisterHints(name string, factory func(ProviderEntry) (llmhint.Completer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hints[name] = factory
}

// CreateTranscribe instantiates a transcription provider using the factory
// registered under entry.Name. Returns [ErrProviderNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) CreateTranscribe(entry ProviderEntry) (transcribe.Provider, error) {
	r.mu.RLock()
	factory, ok := r.transcribe[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcribe provider %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateHints instantiates a hint-completion backend using the factory
// registered under entry.Name.
func (r *Registry) CreateHints(entry ProviderEntry) (llmhint.Completer, error) {
	r.mu.RLock()
	factory, ok := r.hints[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: hints provider %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
