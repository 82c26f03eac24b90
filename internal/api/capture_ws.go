package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/dhvani-app/dhvani/internal/app"
	"github.com/dhvani-app/dhvani/internal/media"
	"github.com/dhvani-app/dhvani/internal/observe"
	"github.com/dhvani-app/dhvani/pkg/capture"
)

// The /v1/capture WebSocket drives one recording session.
//
// The client opens the socket and sends a "start" control message, then
// streams binary audio chunks. The server replies with the session's
// lifecycle as JSON text messages and, on completion, stores the artifact
// and returns its media ref. Text messages from the client are controls:
//
//	{"type":"start","permission":"granted","contentType":"audio/l16"}
//	{"type":"stop"}
//	{"type":"cancel"}

// controlMessage is a client→server text frame.
type controlMessage struct {
	Type        string `json:"type"`
	Permission  string `json:"permission,omitempty"`
	ContentType string `json:"contentType,omitempty"`
}

// sessionMessage is a server→client text frame.
type sessionMessage struct {
	Type string `json:"type"`

	// state
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	Reason string `json:"reason,omitempty"`

	// countdown
	Remaining int `json:"remaining,omitempty"`

	// progress
	ElapsedMs int64   `json:"elapsedMs,omitempty"`
	Fraction  float64 `json:"fraction,omitempty"`

	// complete
	Ref         string `json:"ref,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Size        int    `json:"size,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Warn("capture socket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "session aborted")

	ctx := r.Context()
	log := observe.Logger(ctx)

	// The first frame must be the start control.
	start, err := readControl(ctx, conn)
	if err != nil || start.Type != "start" {
		conn.Close(websocket.StatusProtocolError, "expected start message")
		return
	}

	dev := newWSDevice(capture.PermissionState(start.Permission))
	sess, err := s.coach.NewSession(dev, start.ContentType)
	if err != nil {
		if errors.Is(err, app.ErrSessionActive) {
			sendMessage(ctx, conn, sessionMessage{Type: "error", Error: "another recording session is active"})
			conn.Close(websocket.StatusPolicyViolation, "session active")
			return
		}
		conn.Close(websocket.StatusInternalError, "session unavailable")
		return
	}
	defer s.coach.ReleaseSession(sess)

	// Forward lifecycle events while they flow. The authoritative outcome
	// comes from Wait below; the event pump is presentation only.
	stopPump := make(chan struct{})
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		for {
			select {
			case ev := <-sess.Events():
				sendMessage(ctx, conn, eventMessage(ev))
			case <-stopPump:
				return
			}
		}
	}()

	captureStart := time.Now()
	if err := sess.Start(ctx); err != nil {
		s.metrics.RecordSessionError(ctx, string(sess.Reason()))
		sendMessage(ctx, conn, sessionMessage{
			Type:   "error",
			Reason: string(sess.Reason()),
			Error:  err.Error(),
		})
		conn.Close(websocket.StatusNormalClosure, "session failed")
		close(stopPump)
		<-pumpDone
		return
	}

	// Read loop: binary frames feed the device, text frames are controls.
	// It ends when the client goes away or cancels.
	go func() {
		for {
			kind, data, err := conn.Read(ctx)
			if err != nil {
				sess.Cancel()
				return
			}
			switch kind {
			case websocket.MessageBinary:
				dev.push(data)
			case websocket.MessageText:
				var ctl controlMessage
				if err := json.Unmarshal(data, &ctl); err != nil {
					continue
				}
				switch ctl.Type {
				case "stop":
					dev.stopStream()
					if err := sess.Stop(); err != nil && !errors.Is(err, capture.ErrNotRecording) {
						log.Warn("capture stop failed", "err", err)
					}
				case "cancel":
					sess.Cancel()
					return
				}
			}
		}
	}()

	// The outcome is authoritative from Wait: store the artifact and tell
	// the client where it landed, then close the socket.
	ref, err := sess.Wait(ctx)
	switch {
	case err == nil:
		s.metrics.CaptureDuration.Record(ctx, time.Since(captureStart).Seconds())
		msg, serr := s.storeArtifact(ctx, ref)
		if serr != nil {
			log.Error("capture artifact store failed", "err", serr)
			sendMessage(ctx, conn, sessionMessage{Type: "error", Error: "failed to store recording"})
		} else {
			sendMessage(ctx, conn, msg)
		}
	case errors.Is(err, context.Canceled):
		sendMessage(ctx, conn, sessionMessage{Type: "cancelled"})
	default:
		s.metrics.RecordSessionError(ctx, string(sess.Reason()))
		sendMessage(ctx, conn, sessionMessage{
			Type:   "error",
			Reason: string(sess.Reason()),
			Error:  err.Error(),
		})
	}

	conn.Close(websocket.StatusNormalClosure, "")
	close(stopPump)
	<-pumpDone
}

// storeArtifact copies a finalized capture artifact into the media store.
func (s *Server) storeArtifact(ctx context.Context, ref *capture.ArtifactRef) (sessionMessage, error) {
	reader, err := ref.Open()
	if err != nil {
		return sessionMessage{}, err
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return sessionMessage{}, err
	}
	mediaRef, err := s.coach.Media().Put(ctx, media.Blob{
		Data:        data,
		ContentType: ref.ContentType(),
	})
	if err != nil {
		return sessionMessage{}, err
	}
	return sessionMessage{
		Type:        "complete",
		Ref:         mediaRef,
		ContentType: ref.ContentType(),
		Size:        len(data),
	}, nil
}

func eventMessage(ev capture.Event) sessionMessage {
	switch ev.Kind {
	case capture.EventCountdownTick:
		return sessionMessage{Type: "countdown", Remaining: ev.CountdownRemaining}
	case capture.EventProgress:
		return sessionMessage{
			Type:      "progress",
			ElapsedMs: ev.Elapsed.Milliseconds(),
			Fraction:  ev.Fraction,
		}
	default:
		return sessionMessage{
			Type:   "state",
			From:   string(ev.From),
			To:     string(ev.To),
			Reason: string(ev.Reason),
		}
	}
}

func readControl(ctx context.Context, conn *websocket.Conn) (controlMessage, error) {
	var ctl controlMessage
	kind, data, err := conn.Read(ctx)
	if err != nil {
		return ctl, err
	}
	if kind != websocket.MessageText {
		return ctl, errors.New("api: expected a text control frame")
	}
	err = json.Unmarshal(data, &ctl)
	return ctl, err
}

func sendMessage(ctx context.Context, conn *websocket.Conn, msg sessionMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_ = conn.Write(ctx, websocket.MessageText, data)
}

// wsDevice adapts a WebSocket's binary frames into a [capture.Device]. One
// device serves one session.
type wsDevice struct {
	perm capture.PermissionState

	mu     sync.Mutex
	stream *wsStream
}

func newWSDevice(perm capture.PermissionState) *wsDevice {
	if perm == "" {
		perm = capture.PermissionUnknown
	}
	return &wsDevice{perm: perm}
}

var _ capture.Device = (*wsDevice)(nil)

func (d *wsDevice) Permission(context.Context) (capture.PermissionState, error) {
	return d.perm, nil
}

func (d *wsDevice) Open(_ context.Context, _ capture.Constraints) (capture.Stream, error) {
	if d.perm == capture.PermissionDenied {
		return nil, capture.ErrPermissionDenied
	}
	st := &wsStream{ch: make(chan []byte, 64)}
	d.mu.Lock()
	d.stream = st
	d.mu.Unlock()
	return st, nil
}

// push hands one binary frame to the open stream. Frames arriving before
// the stream opens or after it stops are dropped.
func (d *wsDevice) push(data []byte) {
	d.mu.Lock()
	st := d.stream
	d.mu.Unlock()
	if st != nil {
		st.push(data)
	}
}

// stopStream ends the chunk stream, letting the session finalize.
func (d *wsDevice) stopStream() {
	d.mu.Lock()
	st := d.stream
	d.mu.Unlock()
	if st != nil {
		_ = st.Stop()
	}
}

// wsStream is the capture.Stream fed by push.
type wsStream struct {
	ch chan []byte

	mu      sync.Mutex
	stopped bool
}

var _ capture.Stream = (*wsStream)(nil)

func (s *wsStream) Chunks() <-chan []byte { return s.ch }

func (s *wsStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.ch)
	}
	return nil
}

func (s *wsStream) Err() error { return nil }

func (s *wsStream) push(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	// Drop rather than block when the session is not draining.
	select {
	case s.ch <- data:
	default:
	}
}
