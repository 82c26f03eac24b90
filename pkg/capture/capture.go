// Package capture implements the microphone recording lifecycle for a single
// pronunciation attempt: permission handling, a countdown, bounded recording
// with progress reporting, and finalization of the captured audio into an
// artifact that downstream transcription can consume.
//
// The package is built around two cooperating types:
//
//   - [Resource] owns the platform audio stream and the finalized artifact for
//     exactly one recording session and guarantees release on every exit path.
//   - [Session] drives the user-facing state machine (permission check →
//     countdown → recording → processing → complete/error) and emits timing
//     and state-change events for external subscribers.
//
// Cosmetic reactions (sounds, animation) must subscribe to [Session.Events];
// the state machine itself has no side effects beyond resource ownership.
package capture

import (
	"context"
	"errors"
)

// State is the lifecycle state of a recording [Session].
type State string

const (
	StateIdle               State = "idle"
	StateAwaitingPermission State = "awaiting_permission"
	StateCountdown          State = "countdown"
	StateRecording          State = "recording"
	StateProcessing         State = "processing"
	StateComplete           State = "complete"
	StateError              State = "error"
)

// Terminal reports whether s is a terminal session state.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateError
}

// PermissionState is the tri-state result of a platform permission query.
type PermissionState string

const (
	PermissionUnknown PermissionState = "unknown"
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"

	// PermissionPrompt means the platform has not asked the user yet; opening
	// the device will trigger the prompt and may still fail with
	// [ErrPermissionDenied].
	PermissionPrompt PermissionState = "prompt"
)

// Capture failure taxonomy. Device implementations must wrap their native
// failures in one of these sentinels so the session can map them to a
// user-facing error reason.
var (
	// ErrPermissionDenied means the user or OS blocked microphone access.
	// Terminal for the session; a new session requires user action first.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")

	// ErrDeviceUnavailable means no compatible capture device or encoder
	// exists. Terminal for the session.
	ErrDeviceUnavailable = errors.New("capture: no usable capture device")

	// ErrCaptureFailed means the recorder failed mid-session (hardware drop,
	// encoder error). Terminal for the session; resources are released.
	ErrCaptureFailed = errors.New("capture: recording failed")
)

// ErrorReason is the discrete reason code carried by the session's error state.
type ErrorReason string

const (
	ReasonNone              ErrorReason = ""
	ReasonPermissionDenied  ErrorReason = "permission_denied"
	ReasonDeviceUnavailable ErrorReason = "device_unavailable"
	ReasonCaptureFailed     ErrorReason = "capture_failed"
)

// Constraints carries the audio-capture preferences passed to [Device.Open].
// Devices apply them on a best-effort basis.
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool

	// SampleRate in Hz. Zero means the device default.
	SampleRate int

	// Channels is the requested channel count. Zero means mono.
	Channels int
}

// DefaultConstraints are the preferences used when the caller supplies a zero
// [Constraints] value: all three voice-processing filters on, 16 kHz mono.
var DefaultConstraints = Constraints{
	EchoCancellation: true,
	NoiseSuppression: true,
	AutoGainControl:  true,
	SampleRate:       16000,
	Channels:         1,
}

// Stream is an open audio capture stream handed out by a [Device].
//
// Chunks delivers encoded audio chunks as they are produced and is closed when
// the stream ends (after Stop, or after a mid-stream failure). Stop halts all
// underlying hardware tracks; it is idempotent and must be safe to call from
// any goroutine. Err reports the stream-level failure, if any, once Chunks is
// closed.
type Stream interface {
	Chunks() <-chan []byte
	Stop() error
	Err() error
}

// Device abstracts the platform audio-capture entry point (the
// getUserMedia-shaped boundary). Implementations must be safe for concurrent
// use; a Device may be shared across consecutive sessions, but each call to
// Open produces a Stream owned by exactly one [Resource].
type Device interface {
	// Permission queries the current microphone permission without prompting.
	Permission(ctx context.Context) (PermissionState, error)

	// Open starts capturing. It may itself trigger a permission prompt and
	// block until the user responds. Failures must wrap
	// [ErrPermissionDenied] or [ErrDeviceUnavailable].
	Open(ctx context.Context, c Constraints) (Stream, error)
}
