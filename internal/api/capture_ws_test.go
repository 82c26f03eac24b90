package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/dhvani-app/dhvani/internal/app"
	"github.com/dhvani-app/dhvani/internal/config"
	"github.com/dhvani-app/dhvani/internal/eval"
	"github.com/dhvani-app/dhvani/internal/health"
	"github.com/dhvani-app/dhvani/internal/media"
	"github.com/dhvani-app/dhvani/internal/observe"
	"github.com/dhvani-app/dhvani/internal/progress"
	"github.com/dhvani-app/dhvani/pkg/provider/transcribe"
	transcribemock "github.com/dhvani-app/dhvani/pkg/provider/transcribe/mock"
)

func dialCapture(t *testing.T, ctx context.Context, srvURL string) *websocket.Conn {
	t.Helper()
	url := strings.Replace(srvURL, "http://", "ws://", 1) + "/v1/capture"
	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{})
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn
}

func sendControl(t *testing.T, ctx context.Context, conn *websocket.Conn, ctl controlMessage) {
	t.Helper()
	data, err := json.Marshal(ctl)
	if err != nil {
		t.Fatalf("marshal control: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write control: %v", err)
	}
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) sessionMessage {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var msg sessionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return msg
}

// readUntil drains messages until pred matches one.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, pred func(sessionMessage) bool) sessionMessage {
	t.Helper()
	for {
		msg := readMessage(t, ctx, conn)
		if pred(msg) {
			return msg
		}
	}
}

func TestCaptureSessionCompletes(t *testing.T) {
	srv := newTestServer(t, &transcribemock.Provider{ProviderName: "mock"})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := dialCapture(t, ctx, srv.URL)
	defer conn.Close(websocket.StatusNormalClosure, "")

	sendControl(t, ctx, conn, controlMessage{Type: "start", Permission: "granted"})

	readUntil(t, ctx, conn, func(m sessionMessage) bool {
		return m.Type == "state" && m.To == "recording"
	})

	if err := conn.Write(ctx, websocket.MessageBinary, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("write chunk: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageBinary, []byte{5, 6}); err != nil {
		t.Fatalf("write chunk: %v", err)
	}
	sendControl(t, ctx, conn, controlMessage{Type: "stop"})

	done := readUntil(t, ctx, conn, func(m sessionMessage) bool {
		return m.Type == "complete" || m.Type == "error"
	})
	if done.Type != "complete" {
		t.Fatalf("session ended with %+v", done)
	}
	if done.Ref == "" {
		t.Error("complete message missing media ref")
	}
	if done.Size != 6 {
		t.Errorf("artifact size = %d, want 6", done.Size)
	}
	if done.ContentType != "audio/l16" {
		t.Errorf("artifact content type = %q, want audio/l16", done.ContentType)
	}
}

// A captured artifact must be submittable as an attempt without re-upload.
func TestCaptureToAttemptFlow(t *testing.T) {
	tp := &transcribemock.Provider{
		ProviderName: "mock",
		Results: []*transcribe.Result{
			{Text: "पानी", Confidence: 0.92, Provider: "mock"},
		},
	}
	srv := newTestServer(t, tp)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := dialCapture(t, ctx, srv.URL)
	defer conn.Close(websocket.StatusNormalClosure, "")

	sendControl(t, ctx, conn, controlMessage{Type: "start", Permission: "granted"})
	readUntil(t, ctx, conn, func(m sessionMessage) bool {
		return m.Type == "state" && m.To == "recording"
	})
	if err := conn.Write(ctx, websocket.MessageBinary, []byte{1, 0, 2, 0}); err != nil {
		t.Fatalf("write chunk: %v", err)
	}
	sendControl(t, ctx, conn, controlMessage{Type: "stop"})
	done := readUntil(t, ctx, conn, func(m sessionMessage) bool {
		return m.Type == "complete" || m.Type == "error"
	})
	if done.Type != "complete" || done.Ref == "" {
		t.Fatalf("session ended with %+v", done)
	}

	resp := postJSON(t, srv.URL+"/v1/attempts", app.AttemptRequest{
		ChildID:      "child-1",
		PromptID:     "prompt-1",
		AudioRef:     done.Ref,
		ExpectedText: "पानी",
	})
	if resp.StatusCode != 200 {
		t.Fatalf("attempt status = %d, want 200", resp.StatusCode)
	}
	attempt := decode[app.AttemptResponse](t, resp)
	if attempt.Attempt.Score != 100 || attempt.Attempt.Stars != 3 {
		t.Errorf("score=%d stars=%d, want 100/3", attempt.Attempt.Score, attempt.Attempt.Stars)
	}
	if got := tp.Calls[len(tp.Calls)-1].ContentType; got != "audio/l16" {
		t.Errorf("transcribe content type = %q, want audio/l16", got)
	}
}

func TestCaptureSessionCancel(t *testing.T) {
	srv := newTestServer(t, &transcribemock.Provider{ProviderName: "mock"})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := dialCapture(t, ctx, srv.URL)
	defer conn.Close(websocket.StatusNormalClosure, "")

	sendControl(t, ctx, conn, controlMessage{Type: "start", Permission: "granted"})
	sendControl(t, ctx, conn, controlMessage{Type: "cancel"})

	msg := readUntil(t, ctx, conn, func(m sessionMessage) bool {
		return m.Type == "cancelled" || m.Type == "complete" || m.Type == "error"
	})
	if msg.Type != "cancelled" {
		t.Errorf("message type = %q, want cancelled", msg.Type)
	}
}

func TestCapturePermissionDenied(t *testing.T) {
	srv := newTestServer(t, &transcribemock.Provider{ProviderName: "mock"})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := dialCapture(t, ctx, srv.URL)
	defer conn.Close(websocket.StatusNormalClosure, "")

	sendControl(t, ctx, conn, controlMessage{Type: "start", Permission: "denied"})

	msg := readUntil(t, ctx, conn, func(m sessionMessage) bool {
		return m.Type == "error"
	})
	if msg.Reason != "permission_denied" {
		t.Errorf("reason = %q, want permission_denied", msg.Reason)
	}
}

func TestCaptureSecondSessionRejected(t *testing.T) {
	srv := newTestServer(t, &transcribemock.Provider{ProviderName: "mock"})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	first := dialCapture(t, ctx, srv.URL)
	defer first.Close(websocket.StatusNormalClosure, "")
	sendControl(t, ctx, first, controlMessage{Type: "start", Permission: "granted"})
	readUntil(t, ctx, first, func(m sessionMessage) bool {
		return m.Type == "state" && m.To == "countdown"
	})

	second := dialCapture(t, ctx, srv.URL)
	defer second.Close(websocket.StatusNormalClosure, "")
	sendControl(t, ctx, second, controlMessage{Type: "start", Permission: "granted"})

	msg := readMessage(t, ctx, second)
	if msg.Type != "error" {
		t.Errorf("second session message = %+v, want error", msg)
	}
}

// newMeteredServer is newTestServer with a ManualReader-backed metrics
// instance for programmatic inspection.
func newMeteredServer(t *testing.T, tp transcribe.Provider) (*httptest.Server, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	store, err := media.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	coach, err := app.New(context.Background(),
		&config.Config{
			Capture: config.CaptureConfig{
				CountdownSeconds: 1,
				MaxDurationMs:    500,
				PollIntervalMs:   10,
			},
		},
		&app.Providers{Transcribe: tp},
		app.WithProgressStore(progress.NewMemStore()),
		app.WithMediaStore(store),
		app.WithEngine(eval.New(eval.WithSeed(3))),
		app.WithMetrics(m),
	)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() { coach.Shutdown(context.Background()) })

	srv := httptest.NewServer(New(coach, WithHealth(health.New("test")), WithMetrics(m)).Handler())
	t.Cleanup(srv.Close)
	return srv, reader
}

func findCaptureMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestCaptureSessionMetrics(t *testing.T) {
	srv, reader := newMeteredServer(t, &transcribemock.Provider{ProviderName: "mock"})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// One completed session records a capture duration.
	conn := dialCapture(t, ctx, srv.URL)
	sendControl(t, ctx, conn, controlMessage{Type: "start", Permission: "granted"})
	readUntil(t, ctx, conn, func(m sessionMessage) bool {
		return m.Type == "state" && m.To == "recording"
	})
	if err := conn.Write(ctx, websocket.MessageBinary, []byte{1, 2}); err != nil {
		t.Fatalf("write chunk: %v", err)
	}
	sendControl(t, ctx, conn, controlMessage{Type: "stop"})
	done := readUntil(t, ctx, conn, func(m sessionMessage) bool {
		return m.Type == "complete" || m.Type == "error"
	})
	if done.Type != "complete" {
		t.Fatalf("session ended with %+v", done)
	}
	conn.Close(websocket.StatusNormalClosure, "")

	// One denied session records a session error.
	denied := dialCapture(t, ctx, srv.URL)
	sendControl(t, ctx, denied, controlMessage{Type: "start", Permission: "denied"})
	readUntil(t, ctx, denied, func(m sessionMessage) bool { return m.Type == "error" })
	denied.Close(websocket.StatusNormalClosure, "")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	metric := findCaptureMetric(rm, "dhvani.capture.duration")
	if metric == nil {
		t.Fatal("dhvani.capture.duration not found")
	}
	hist, ok := metric.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 || hist.DataPoints[0].Count == 0 {
		t.Error("no capture duration observed for the completed session")
	}

	metric = findCaptureMetric(rm, "dhvani.session.errors")
	if metric == nil {
		t.Fatal("dhvani.session.errors not found")
	}
	sum, ok := metric.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 {
		t.Fatal("no session errors recorded for the denied session")
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 1 {
		t.Errorf("session errors = %d, want 1", total)
	}
}

func TestCaptureRequiresStartFirst(t *testing.T) {
	srv := newTestServer(t, &transcribemock.Provider{ProviderName: "mock"})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := dialCapture(t, ctx, srv.URL)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// A binary frame before start violates the protocol.
	if err := conn.Write(ctx, websocket.MessageBinary, []byte{1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, _, err := conn.Read(ctx)
	if err == nil {
		t.Fatal("expected the server to close the connection")
	}
	if status := websocket.CloseStatus(err); status != websocket.StatusProtocolError {
		t.Errorf("close status = %v, want protocol error", status)
	}
}
