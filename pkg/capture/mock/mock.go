// Package mock provides test doubles for the capture package interfaces.
//
// Use Device to script permission outcomes and stream behaviour. A Stream
// delivers its scripted chunks, optionally fails mid-stream, and records how
// many times Stop was called so tests can assert the exactly-once hardware
// release.
//
// Example:
//
//	dev := &mock.Device{
//	    PermissionState: capture.PermissionGranted,
//	    Stream:          mock.NewStream([][]byte{pcm1, pcm2}),
//	}
//	sess := capture.NewSession(dev, capture.Config{})
package mock

import (
	"context"
	"sync"

	"github.com/dhvani-app/dhvani/pkg/capture"
)

// OpenCall records a single invocation of Device.Open.
type OpenCall struct {
	Ctx         context.Context
	Constraints capture.Constraints
}

// Device is a mock implementation of capture.Device.
type Device struct {
	mu sync.Mutex

	// PermissionState is returned by Permission. Zero value means
	// capture.PermissionUnknown.
	PermissionState capture.PermissionState

	// PermissionErr, if non-nil, is returned as the error from Permission.
	PermissionErr error

	// Stream is returned by Open. If nil, Open returns a new empty Stream.
	Stream *Stream

	// OpenErr, if non-nil, is returned as the error from Open.
	OpenErr error

	// OpenCalls records every call to Open.
	OpenCalls []OpenCall
}

// Permission returns the scripted permission state.
func (d *Device) Permission(_ context.Context) (capture.PermissionState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.PermissionErr != nil {
		return capture.PermissionUnknown, d.PermissionErr
	}
	if d.PermissionState == "" {
		return capture.PermissionUnknown, nil
	}
	return d.PermissionState, nil
}

// Open records the call and returns Stream, OpenErr.
func (d *Device) Open(ctx context.Context, c capture.Constraints) (capture.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, OpenCall{Ctx: ctx, Constraints: c})
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	if d.Stream == nil {
		d.Stream = NewStream(nil)
	}
	return d.Stream, nil
}

// Opens returns the number of recorded Open calls.
func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.OpenCalls)
}

// Stream is a mock implementation of capture.Stream. Chunks scripted at
// construction are delivered immediately; further chunks can be pushed with
// Push until Stop or Fail.
type Stream struct {
	mu     sync.Mutex
	ch     chan []byte
	err    error
	stops  int
	closed bool
}

// NewStream creates a Stream pre-loaded with the given chunks.
func NewStream(chunks [][]byte) *Stream {
	s := &Stream{ch: make(chan []byte, 64)}
	for _, c := range chunks {
		s.ch <- c
	}
	return s
}

// Chunks implements capture.Stream.
func (s *Stream) Chunks() <-chan []byte { return s.ch }

// Push delivers one more chunk. No-op after Stop or Fail.
func (s *Stream) Push(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- chunk:
	default:
	}
}

// Fail ends the stream with err, as a mid-recording hardware failure would.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.err = err
	s.closed = true
	close(s.ch)
}

// Stop implements capture.Stream. It is idempotent and counts invocations.
func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

// Err implements capture.Stream.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stops returns how many times Stop was called.
func (s *Stream) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

// Stopped reports whether the stream has ended (Stop or Fail).
func (s *Stream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
