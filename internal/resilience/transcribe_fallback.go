package resilience

import (
	"context"
	"strings"

	"github.com/dhvani-app/dhvani/pkg/provider/transcribe"
)

// TranscribeFallback implements [transcribe.Provider] with automatic
// failover across multiple transcription backends. Each backend has its own
// breaker, so a dead primary does not delay attempts once its breaker trips.
type TranscribeFallback struct {
	group *FallbackGroup[transcribe.Provider]
	names []string
}

// Compile-time interface assertion.
var _ transcribe.Provider = (*TranscribeFallback)(nil)

// NewTranscribeFallback creates a [TranscribeFallback] with primary as the
// preferred backend.
func NewTranscribeFallback(primary transcribe.Provider, cfg FallbackConfig) *TranscribeFallback {
	return &TranscribeFallback{
		group: NewFallbackGroup(primary, primary.Name(), cfg),
		names: []string{primary.Name()},
	}
}

// AddFallback registers an additional transcription provider as a fallback.
func (f *TranscribeFallback) AddFallback(provider transcribe.Provider) {
	f.group.AddFallback(provider.Name(), provider)
	f.names = append(f.names, provider.Name())
}

// Name implements transcribe.Provider. It joins the member names so logs
// show the whole chain (e.g. "openai+whisper").
func (f *TranscribeFallback) Name() string {
	return strings.Join(f.names, "+")
}

// Transcribe submits the attempt to the first healthy backend. The returned
// Result carries the name of the backend that actually answered.
func (f *TranscribeFallback) Transcribe(ctx context.Context, req transcribe.Request) (*transcribe.Result, error) {
	return DoWithResult(f.group, func(p transcribe.Provider) (*transcribe.Result, error) {
		return p.Transcribe(ctx, req)
	})
}
