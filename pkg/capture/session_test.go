package capture_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dhvani-app/dhvani/pkg/capture"
	"github.com/dhvani-app/dhvani/pkg/capture/mock"
)

// fastConfig keeps session tests quick: 1 s countdown (the tick interval is
// fixed), short recording cap, tight polling.
func fastConfig() capture.Config {
	return capture.Config{
		CountdownSeconds: 1,
		MaxDuration:      250 * time.Millisecond,
		PollInterval:     20 * time.Millisecond,
	}
}

// awaitState consumes events until the session reaches want or the timeout
// elapses.
func awaitState(t *testing.T, events <-chan capture.Event, want capture.State) capture.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == capture.EventStateChange && ev.To == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %q", want)
		}
	}
}

func TestSessionPermissionDenied(t *testing.T) {
	dev := &mock.Device{PermissionState: capture.PermissionDenied}
	sess := capture.NewSession(dev, fastConfig())

	err := sess.Start(context.Background())
	if !errors.Is(err, capture.ErrPermissionDenied) {
		t.Fatalf("Start: err = %v, want ErrPermissionDenied", err)
	}
	if got := sess.State(); got != capture.StateError {
		t.Errorf("state = %q, want error", got)
	}
	if got := sess.Reason(); got != capture.ReasonPermissionDenied {
		t.Errorf("reason = %q, want permission_denied", got)
	}
	if got := sess.Permission(); got != capture.PermissionDenied {
		t.Errorf("permission = %q, want denied", got)
	}
	if dev.Opens() != 0 {
		t.Error("no stream may be acquired when permission is already denied")
	}
}

func TestSessionDeniedAtPrompt(t *testing.T) {
	dev := &mock.Device{
		PermissionState: capture.PermissionPrompt,
		OpenErr:         capture.ErrPermissionDenied,
	}
	sess := capture.NewSession(dev, fastConfig())

	err := sess.Start(context.Background())
	if !errors.Is(err, capture.ErrPermissionDenied) {
		t.Fatalf("Start: err = %v, want ErrPermissionDenied", err)
	}
	if got := sess.Reason(); got != capture.ReasonPermissionDenied {
		t.Errorf("reason = %q, want permission_denied", got)
	}
}

func TestSessionDeviceUnavailable(t *testing.T) {
	dev := &mock.Device{
		PermissionState: capture.PermissionGranted,
		OpenErr:         capture.ErrDeviceUnavailable,
	}
	sess := capture.NewSession(dev, fastConfig())

	if err := sess.Start(context.Background()); err == nil {
		t.Fatal("Start should fail when the device cannot open")
	}
	if got := sess.Reason(); got != capture.ReasonDeviceUnavailable {
		t.Errorf("reason = %q, want device_unavailable", got)
	}
}

func TestSessionAutoStopAtMaxDuration(t *testing.T) {
	stream := mock.NewStream([][]byte{[]byte("chunk1"), []byte("chunk2")})
	dev := &mock.Device{PermissionState: capture.PermissionGranted, Stream: stream}
	sess := capture.NewSession(dev, fastConfig())
	events := sess.Events()

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := sess.State(); got != capture.StateCountdown {
		t.Fatalf("state after Start = %q, want countdown", got)
	}

	awaitState(t, events, capture.StateRecording)
	startedAt := time.Now()
	awaitState(t, events, capture.StateProcessing)
	recorded := time.Since(startedAt)

	cfg := fastConfig()
	if recorded < cfg.MaxDuration {
		t.Errorf("auto-stop fired after %v, before max duration %v", recorded, cfg.MaxDuration)
	}
	if slack := cfg.MaxDuration + 10*cfg.PollInterval; recorded > slack {
		t.Errorf("auto-stop fired after %v, want within %v", recorded, slack)
	}

	ref, err := sess.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	r, err := ref.Open()
	if err != nil {
		t.Fatalf("Open result ref: %v", err)
	}
	data, _ := io.ReadAll(r)
	if !bytes.Equal(data, []byte("chunk1chunk2")) {
		t.Errorf("artifact = %q, want chunks joined in order", data)
	}
	if stream.Stops() < 1 {
		t.Error("hardware tracks must be stopped after recording ends")
	}
}

func TestSessionManualStop(t *testing.T) {
	stream := mock.NewStream([][]byte{[]byte("pcm")})
	dev := &mock.Device{PermissionState: capture.PermissionGranted, Stream: stream}
	cfg := fastConfig()
	cfg.MaxDuration = 10 * time.Second // manual stop must win
	sess := capture.NewSession(dev, cfg)
	events := sess.Events()

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	awaitState(t, events, capture.StateRecording)

	if err := sess.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	ref, err := sess.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if ref == nil {
		t.Fatal("Wait returned nil ref on the complete path")
	}
	if got := sess.State(); got != capture.StateComplete {
		t.Errorf("state = %q, want complete", got)
	}
	if err := sess.Stop(); !errors.Is(err, capture.ErrNotRecording) {
		t.Errorf("Stop outside recording: err = %v, want ErrNotRecording", err)
	}
}

func TestSessionStreamFailureMidRecording(t *testing.T) {
	stream := mock.NewStream([][]byte{[]byte("pcm")})
	dev := &mock.Device{PermissionState: capture.PermissionGranted, Stream: stream}
	cfg := fastConfig()
	cfg.MaxDuration = 10 * time.Second
	sess := capture.NewSession(dev, cfg)
	events := sess.Events()

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	awaitState(t, events, capture.StateRecording)

	stream.Fail(errors.New("encoder died"))

	if _, err := sess.Wait(context.Background()); !errors.Is(err, capture.ErrCaptureFailed) {
		t.Fatalf("Wait: err = %v, want ErrCaptureFailed", err)
	}
	if got := sess.Reason(); got != capture.ReasonCaptureFailed {
		t.Errorf("reason = %q, want capture_failed", got)
	}
}

func TestSessionCancelDuringCountdown(t *testing.T) {
	stream := mock.NewStream(nil)
	dev := &mock.Device{PermissionState: capture.PermissionGranted, Stream: stream}
	sess := capture.NewSession(dev, fastConfig())

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess.Cancel()

	if got := sess.State(); got != capture.StateIdle {
		t.Errorf("state after Cancel = %q, want idle", got)
	}
	if !stream.Stopped() {
		t.Error("Cancel must stop the acquired stream")
	}

	// The session is reusable after Cancel.
	dev.Stream = mock.NewStream(nil)
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start after Cancel: %v", err)
	}
	sess.Cancel()
}

// Simultaneous Stop calls, and Stop racing Cancel, must never close the
// run's stop channel twice.
func TestSessionConcurrentStopAndCancel(t *testing.T) {
	for i := 0; i < 5; i++ {
		stream := mock.NewStream([][]byte{[]byte("pcm")})
		dev := &mock.Device{PermissionState: capture.PermissionGranted, Stream: stream}
		cfg := fastConfig()
		cfg.MaxDuration = 10 * time.Second
		sess := capture.NewSession(dev, cfg)
		events := sess.Events()

		if err := sess.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		awaitState(t, events, capture.StateRecording)

		var wg sync.WaitGroup
		for j := 0; j < 16; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := sess.Stop(); err != nil && !errors.Is(err, capture.ErrNotRecording) {
					t.Errorf("Stop: %v", err)
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.Cancel()
		}()
		wg.Wait()
		sess.Cancel()
	}
}

func TestSessionRejectsConcurrentStart(t *testing.T) {
	dev := &mock.Device{PermissionState: capture.PermissionGranted, Stream: mock.NewStream(nil)}
	sess := capture.NewSession(dev, fastConfig())

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sess.Cancel()

	if err := sess.Start(context.Background()); !errors.Is(err, capture.ErrSessionBusy) {
		t.Errorf("second Start: err = %v, want ErrSessionBusy", err)
	}
}

func TestSessionResetReleasesResult(t *testing.T) {
	stream := mock.NewStream([][]byte{[]byte("pcm")})
	dev := &mock.Device{PermissionState: capture.PermissionGranted, Stream: stream}
	sess := capture.NewSession(dev, fastConfig())
	events := sess.Events()

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	awaitState(t, events, capture.StateComplete)

	ref := sess.Result()
	if ref == nil {
		t.Fatal("no result ref after completion")
	}
	sess.Reset()

	if got := sess.State(); got != capture.StateIdle {
		t.Errorf("state after Reset = %q, want idle", got)
	}
	if !ref.Revoked() {
		t.Error("Reset must revoke the result ref")
	}
}
