package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultCountdownSeconds = 3
	defaultMaxDuration      = 5 * time.Second
	defaultPollInterval     = 50 * time.Millisecond
	defaultContentType      = "audio/l16"
	defaultEventBuffer      = 64
)

// ErrNotRecording is returned by [Session.Stop] outside the recording state.
var ErrNotRecording = errors.New("capture: session is not recording")

// ErrSessionBusy is returned by [Session.Start] when the session is not idle.
var ErrSessionBusy = errors.New("capture: session already started")

// Config controls a recording [Session]. The zero value selects the defaults:
// 3-second countdown, 5-second max duration, 50 ms progress polling.
type Config struct {
	// CountdownSeconds is the integer the countdown ticks down from.
	CountdownSeconds int

	// MaxDuration is the recording cap; reaching it auto-stops the recording.
	MaxDuration time.Duration

	// PollInterval is the progress-clock period while recording.
	PollInterval time.Duration

	// Constraints are the device-capture preferences. Zero value selects
	// [DefaultConstraints].
	Constraints Constraints

	// ContentType is the MIME type stamped on the finalized artifact.
	ContentType string
}

func (c Config) withDefaults() Config {
	if c.CountdownSeconds <= 0 {
		c.CountdownSeconds = defaultCountdownSeconds
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = defaultMaxDuration
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.Constraints == (Constraints{}) {
		c.Constraints = DefaultConstraints
	}
	if c.ContentType == "" {
		c.ContentType = defaultContentType
	}
	return c
}

// Session is the recording-session state machine. It owns one [Resource] per
// run and guarantees its release on every exit path: completion, error,
// Cancel, Reset, and Close.
//
// A Session is reusable: after a terminal state, Reset returns it to idle for
// the next attempt. All exported methods are safe for concurrent use, but
// only one run may be active at a time.
type Session struct {
	dev    Device
	cfg    Config
	events chan Event

	mu        sync.Mutex
	state     State
	perm      PermissionState
	reason    ErrorReason
	countdown int
	recStart  time.Time
	elapsed   time.Duration
	resource  *Resource
	result    *ArtifactRef
	gen       uint64
	stopRun   chan struct{}
	drained   chan struct{}
	done      chan struct{}
}

// NewSession creates an idle session bound to the given capture device.
func NewSession(dev Device, cfg Config) *Session {
	return &Session{
		dev:    dev,
		cfg:    cfg.withDefaults(),
		events: make(chan Event, defaultEventBuffer),
		state:  StateIdle,
		perm:   PermissionUnknown,
	}
}

// Events returns the session's event stream. Events are dropped rather than
// blocking the state machine when the subscriber falls behind.
func (s *Session) Events() <-chan Event { return s.events }

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Permission returns the last observed permission state.
func (s *Session) Permission() PermissionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.perm
}

// Reason returns the error reason code when the session is in the error state.
func (s *Session) Reason() ErrorReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Progress returns the elapsed recording time and the fraction of the
// configured max duration, both zero outside the recording state.
func (s *Session) Progress() (time.Duration, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording {
		return 0, 0
	}
	return s.elapsed, fraction(s.elapsed, s.cfg.MaxDuration)
}

// Result returns the finalized artifact ref once the session is complete,
// nil otherwise.
func (s *Session) Result() *ArtifactRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Start begins a new recording run. It blocks through the permission check
// and device acquisition (the platform prompt may be showing), transitions to
// countdown on success, and returns. The countdown, recording clock, and
// auto-stop then run in the background; observe them via [Session.Events] and
// collect the outcome with [Session.Wait].
//
// Permission denial and device failures move the session to the error state
// and are also returned, wrapped in the matching sentinel.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w (state=%s)", ErrSessionBusy, state)
	}
	s.gen++
	gen := s.gen
	s.stopRun = make(chan struct{})
	s.done = make(chan struct{})
	s.transitionLocked(StateAwaitingPermission, ReasonNone)
	s.mu.Unlock()

	// Permission query first: a known denial must fail without ever opening
	// a stream.
	perm, err := s.dev.Permission(ctx)
	if err != nil {
		slog.Warn("capture: permission query failed, proceeding to open", "err", err)
		perm = PermissionUnknown
	}
	if perm == PermissionDenied {
		s.failRun(gen, ReasonPermissionDenied)
		return ErrPermissionDenied
	}

	stream, err := s.dev.Open(ctx, s.cfg.Constraints)
	if err != nil {
		switch {
		case errors.Is(err, ErrPermissionDenied):
			s.failRun(gen, ReasonPermissionDenied)
		default:
			s.failRun(gen, ReasonDeviceUnavailable)
		}
		return fmt.Errorf("capture: open device: %w", err)
	}

	s.mu.Lock()
	if s.gen != gen || s.state != StateAwaitingPermission {
		// Cancelled while the prompt was showing.
		s.mu.Unlock()
		_ = stream.Stop()
		return context.Canceled
	}
	s.perm = PermissionGranted
	res := &Resource{}
	res.acquire(stream, s.cfg.ContentType)
	s.resource = res
	s.countdown = s.cfg.CountdownSeconds
	s.transitionLocked(StateCountdown, ReasonNone)
	stop := s.stopRun
	s.mu.Unlock()

	s.emit(Event{Kind: EventCountdownTick, CountdownRemaining: s.cfg.CountdownSeconds})

	go s.run(gen, res, stream, stop)
	return nil
}

// run drives countdown → recording → processing for one session generation.
func (s *Session) run(gen uint64, res *Resource, stream Stream, stop chan struct{}) {
	// Countdown: one tick per second, independent of the recording clock.
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	for {
		select {
		case <-stop:
			return
		case <-tick.C:
		}

		s.mu.Lock()
		if s.gen != gen || s.state != StateCountdown {
			s.mu.Unlock()
			return
		}
		s.countdown--
		remaining := s.countdown
		s.mu.Unlock()

		s.emit(Event{Kind: EventCountdownTick, CountdownRemaining: remaining})
		if remaining <= 0 {
			break
		}
	}

	// Entering recording requires permission == granted, which Start
	// established before handing control to this goroutine.
	s.mu.Lock()
	if s.gen != gen || s.state != StateCountdown {
		s.mu.Unlock()
		return
	}
	s.recStart = time.Now()
	s.elapsed = 0
	drained := make(chan struct{})
	s.drained = drained
	s.transitionLocked(StateRecording, ReasonNone)
	s.mu.Unlock()

	// Drain captured chunks into the resource until the stream closes.
	go func() {
		defer close(drained)
		for chunk := range stream.Chunks() {
			res.collect(chunk)
		}
	}()

	// Progress clock: recompute elapsed/fraction and trigger the
	// max-duration auto-stop.
	poll := time.NewTicker(s.cfg.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-stop:
			return
		case <-drained:
			// Stream died underneath us before any stop was requested.
			s.finish(gen, res, stream, drained)
			return
		case <-poll.C:
		}

		s.mu.Lock()
		if s.gen != gen || s.state != StateRecording {
			s.mu.Unlock()
			return
		}
		s.elapsed = time.Since(s.recStart)
		elapsed := s.elapsed
		s.mu.Unlock()

		s.emit(Event{
			Kind:     EventProgress,
			Elapsed:  elapsed,
			Fraction: fraction(elapsed, s.cfg.MaxDuration),
		})

		if elapsed >= s.cfg.MaxDuration {
			s.finish(gen, res, stream, drained)
			return
		}
	}
}

// finish moves recording → processing → complete/error: stops the hardware
// tracks, waits for the chunk drain, and finalizes the artifact.
func (s *Session) finish(gen uint64, res *Resource, stream Stream, drained <-chan struct{}) {
	s.mu.Lock()
	if s.gen != gen || s.state != StateRecording {
		s.mu.Unlock()
		return
	}
	s.transitionLocked(StateProcessing, ReasonNone)
	done := s.done
	s.mu.Unlock()

	if err := res.stopStream(); err != nil {
		slog.Warn("capture: stop stream", "err", err)
	}
	<-drained

	if err := stream.Err(); err != nil {
		slog.Warn("capture: stream error during recording", "err", err)
		s.failRun(gen, ReasonCaptureFailed)
		return
	}

	ref, err := res.Finalize()
	if err != nil {
		slog.Warn("capture: finalize", "err", err)
		s.failRun(gen, ReasonCaptureFailed)
		return
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		_ = res.Release()
		return
	}
	s.result = ref
	s.transitionLocked(StateComplete, ReasonNone)
	s.mu.Unlock()

	close(done)
}

// Stop manually ends an active recording, equivalent to the max-duration
// auto-stop. It returns [ErrNotRecording] outside the recording state;
// collect the finalized artifact with [Session.Wait].
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state != StateRecording {
		s.mu.Unlock()
		return ErrNotRecording
	}
	gen := s.gen
	res := s.resource
	drained := s.drained
	// Detach the run loop under the lock so a concurrent Stop or Cancel
	// cannot close stopRun twice. The drain goroutine started by run keeps
	// consuming until the stream closes, so no buffered chunk is lost.
	if stop := s.stopRun; stop != nil {
		select {
		case <-stop:
		default:
			close(stop)
		}
		s.stopRun = nil
	}
	s.mu.Unlock()

	s.finish(gen, res, s.streamOf(res), drained)
	return nil
}

// streamOf returns the stream still owned by res for the finish path.
func (s *Session) streamOf(res *Resource) Stream {
	res.mu.Lock()
	defer res.mu.Unlock()
	return res.stream
}

// Wait blocks until the current run reaches a terminal state and returns the
// finalized artifact ref, or the error matching the session's reason code.
func (s *Session) Wait(ctx context.Context) (*ArtifactRef, error) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil, ErrNotRecording
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateComplete:
		return s.result, nil
	case StateError:
		return nil, s.reasonErrLocked()
	default:
		// Cancelled mid-flight.
		return nil, context.Canceled
	}
}

// reasonErrLocked maps the stored reason code back to its sentinel error.
// Caller holds s.mu.
func (s *Session) reasonErrLocked() error {
	switch s.reason {
	case ReasonPermissionDenied:
		return ErrPermissionDenied
	case ReasonDeviceUnavailable:
		return ErrDeviceUnavailable
	default:
		return ErrCaptureFailed
	}
}

// Cancel aborts the session from any non-terminal state, synchronously stops
// all timers, releases the capture resource, and returns the session to idle.
// Late results from an in-flight run are discarded, not applied. Safe to call
// in any state.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	s.gen++ // invalidate in-flight transitions
	if s.stopRun != nil {
		select {
		case <-s.stopRun:
		default:
			close(s.stopRun)
		}
		s.stopRun = nil
	}
	s.drained = nil
	if s.done != nil {
		select {
		case <-s.done:
		default:
			close(s.done)
		}
		s.done = nil
	}
	res := s.resource
	s.resource = nil
	s.result = nil
	s.reason = ReasonNone
	s.transitionLocked(StateIdle, ReasonNone)
	s.mu.Unlock()

	if res != nil {
		if err := res.Release(); err != nil {
			slog.Warn("capture: release on cancel", "err", err)
		}
	}
}

// Reset releases all resources and returns a terminal session to idle.
// It is a no-op when already idle and cancels any non-terminal run.
func (s *Session) Reset() {
	s.Cancel()
}

// Close tears the session down, releasing resources regardless of state.
func (s *Session) Close() error {
	s.Cancel()
	return nil
}

// failRun moves the run to the error state with the given reason, releasing
// the capture resource first.
func (s *Session) failRun(gen uint64, reason ErrorReason) {
	s.mu.Lock()
	if s.gen != gen || s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	if reason == ReasonPermissionDenied {
		s.perm = PermissionDenied
	}
	res := s.resource
	s.resource = nil
	done := s.done
	s.transitionLocked(StateError, reason)
	s.mu.Unlock()

	if res != nil {
		if err := res.Release(); err != nil {
			slog.Warn("capture: release on error", "reason", reason, "err", err)
		}
	}
	if done != nil {
		close(done)
	}
}

// transitionLocked records a state change and emits the event. Caller holds s.mu.
func (s *Session) transitionLocked(to State, reason ErrorReason) {
	from := s.state
	s.state = to
	s.reason = reason
	ev := Event{Kind: EventStateChange, From: from, To: to, Reason: reason}
	select {
	case s.events <- ev:
	default:
		// Subscriber fell behind; dropping beats stalling the state machine.
	}
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}

func fraction(elapsed, max time.Duration) float64 {
	if max <= 0 {
		return 0
	}
	f := float64(elapsed) / float64(max)
	if f > 1 {
		f = 1
	}
	return f
}
