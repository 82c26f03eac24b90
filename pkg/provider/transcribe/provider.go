// Package transcribe defines the Provider interface for batch
// speech-to-text backends used in pronunciation practice.
//
// Unlike a streaming dictation engine, pronunciation practice works in short
// attempts: a few seconds of audio are captured, then submitted as a single
// batch request together with the text the learner was trying to say. The
// expected text lets backends bias recognition toward the practice vocabulary,
// and some backends can return their own pronunciation assessment alongside
// the transcript.
//
// Implementations must be safe for concurrent use. Multiple attempts may be
// in flight simultaneously (e.g., several children practising at once).
package transcribe

import (
	"context"
	"errors"
	"time"
)

// ErrTranscriptionFailed indicates the backend could not produce a transcript
// for the submitted audio. It wraps the underlying cause where one exists.
var ErrTranscriptionFailed = errors.New("transcribe: transcription failed")

// Request carries one attempt's audio and recognition hints to a Provider.
type Request struct {
	// Audio is the attempt's audio payload.
	Audio []byte

	// ContentType identifies the encoding of Audio (e.g., "audio/wav",
	// "audio/l16", "audio/opus-frames"). Providers that only accept a
	// specific container are expected to convert via pkg/audio.
	ContentType string

	// Language is the BCP-47 language tag for recognition (e.g., "hi",
	// "hi-IN"). An empty string lets the provider auto-detect, if supported.
	Language string

	// ExpectedText is the word or phrase the learner was asked to say, in
	// the target script. Providers use it as a recognition bias and, where
	// the backend supports it, as the reference for pronunciation
	// assessment. May be empty.
	ExpectedText string
}

// Result is a completed transcription.
type Result struct {
	// Text is the transcribed speech content.
	Text string

	// Confidence is the overall confidence score (0.0-1.0). Zero when the
	// provider does not report confidence.
	Confidence float64

	// Provider names the backend that produced the result (e.g., "openai",
	// "whisper"). Useful after fallback to know which backend answered.
	Provider string

	// Duration is how long the backend took to answer.
	Duration time.Duration

	// Assessment carries the backend's own pronunciation score, if the
	// backend produced one. Nil otherwise.
	Assessment *Assessment
}

// Assessment is a backend-supplied pronunciation score for the attempt.
// Backends without assessment support leave Result.Assessment nil and the
// caller scores the transcript itself.
type Assessment struct {
	// Score is the backend's overall pronunciation score on a 0-100 scale.
	Score int

	// WordScores holds per-word scores when the backend reports them,
	// keyed by word as it appears in the expected text. May be nil.
	WordScores map[string]int
}

// Provider is the abstraction over any batch speech-to-text backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Name returns the provider's stable identifier, used in logs, metrics,
	// and Result.Provider.
	Name() string

	// Transcribe submits one attempt's audio and blocks until the backend
	// answers or ctx is done. A nil error guarantees a non-nil Result,
	// though Result.Text may be empty when the backend heard nothing.
	Transcribe(ctx context.Context, req Request) (*Result, error)
}
