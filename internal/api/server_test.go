package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dhvani-app/dhvani/internal/app"
	"github.com/dhvani-app/dhvani/internal/config"
	"github.com/dhvani-app/dhvani/internal/eval"
	"github.com/dhvani-app/dhvani/internal/health"
	"github.com/dhvani-app/dhvani/internal/media"
	"github.com/dhvani-app/dhvani/internal/progress"
	"github.com/dhvani-app/dhvani/pkg/provider/transcribe"
	transcribemock "github.com/dhvani-app/dhvani/pkg/provider/transcribe/mock"
)

func newTestServer(t *testing.T, tp transcribe.Provider) *httptest.Server {
	t.Helper()

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
	)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() { coach.Shutdown(context.Background()) })

	srv := httptest.NewServer(New(coach, WithHealth(health.New("test"))).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestUploadThenAttempt(t *testing.T) {
	tp := &transcribemock.Provider{
		ProviderName: "mock",
		Results: []*transcribe.Result{
			{Text: "नमस्ते", Confidence: 0.9, Provider: "mock"},
		},
	}
	srv := newTestServer(t, tp)

	resp, err := http.Post(srv.URL+"/v1/audio", "audio/l16",
		bytes.NewReader([]byte{1, 2, 3, 4}))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d, want 201", resp.StatusCode)
	}
	up := decode[uploadResponse](t, resp)
	if up.Ref == "" || up.Size != 4 || up.ContentType != "audio/l16" {
		t.Fatalf("upload response = %+v", up)
	}

	aresp := postJSON(t, srv.URL+"/v1/attempts", app.AttemptRequest{
		ChildID:      "child-1",
		PromptID:     "prompt-1",
		AudioRef:     up.Ref,
		ExpectedText: "नमस्ते",
	})
	if aresp.StatusCode != http.StatusOK {
		t.Fatalf("attempt status = %d, want 200", aresp.StatusCode)
	}
	attempt := decode[app.AttemptResponse](t, aresp)
	if attempt.Attempt.Score != 100 || attempt.Attempt.Stars != 3 {
		t.Errorf("score=%d stars=%d, want 100/3", attempt.Attempt.Score, attempt.Attempt.Stars)
	}
	if !attempt.Persisted || attempt.Progress == nil {
		t.Errorf("attempt not persisted: %+v", attempt)
	}

	// The record is now visible on the read side.
	presp, err := http.Get(srv.URL + "/v1/progress/child-1/prompt-1")
	if err != nil {
		t.Fatalf("get progress: %v", err)
	}
	defer presp.Body.Close()
	if presp.StatusCode != http.StatusOK {
		t.Fatalf("progress status = %d", presp.StatusCode)
	}
	rec := decode[progress.Record](t, presp)
	if rec.BestScore != 100 || !rec.Mastered {
		t.Errorf("record = %+v", rec)
	}
}

func TestUploadRejectsBadRequests(t *testing.T) {
	srv := newTestServer(t, &transcribemock.Provider{ProviderName: "mock"})

	resp, err := http.Post(srv.URL+"/v1/audio", "audio/l16", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty body status = %d, want 400", resp.StatusCode)
	}

	req, _ := http.NewRequest("POST", srv.URL+"/v1/audio", bytes.NewReader([]byte{1}))
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("missing content type status = %d, want 400", resp2.StatusCode)
	}
}

func TestAttemptUnknownAudioRef(t *testing.T) {
	srv := newTestServer(t, &transcribemock.Provider{ProviderName: "mock"})

	resp := postJSON(t, srv.URL+"/v1/attempts", app.AttemptRequest{
		ChildID:      "c",
		PromptID:     "p",
		AudioRef:     "00000000-0000-0000-0000-000000000000",
		ExpectedText: "x",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAttemptTranscriptionFailure(t *testing.T) {
	tp := &transcribemock.Provider{
		ProviderName: "mock",
		Err:          errors.New("provider down"),
	}
	srv := newTestServer(t, tp)

	up, err := http.Post(srv.URL+"/v1/audio", "audio/l16", bytes.NewReader([]byte{1}))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	ref := decode[uploadResponse](t, up).Ref
	up.Body.Close()

	resp := postJSON(t, srv.URL+"/v1/attempts", app.AttemptRequest{
		ChildID:      "c",
		PromptID:     "p",
		AudioRef:     ref,
		ExpectedText: "x",
	})
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

func TestProgressListAndNotFound(t *testing.T) {
	tp := &transcribemock.Provider{
		ProviderName: "mock",
		Results:      []*transcribe.Result{{Text: "एक", Provider: "mock"}},
	}
	srv := newTestServer(t, tp)

	resp, err := http.Get(srv.URL + "/v1/progress/child-9/prompt-9")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing record status = %d, want 404", resp.StatusCode)
	}

	// Seed two prompts through the attempt endpoint.
	for i := 0; i < 2; i++ {
		up, err := http.Post(srv.URL+"/v1/audio", "audio/l16", bytes.NewReader([]byte{7}))
		if err != nil {
			t.Fatalf("upload: %v", err)
		}
		ref := decode[uploadResponse](t, up).Ref
		up.Body.Close()

		aresp := postJSON(t, srv.URL+"/v1/attempts", app.AttemptRequest{
			ChildID:      "child-9",
			PromptID:     fmt.Sprintf("prompt-%d", i),
			AudioRef:     ref,
			ExpectedText: "एक",
		})
		if aresp.StatusCode != http.StatusOK {
			t.Fatalf("attempt %d status = %d", i, aresp.StatusCode)
		}
	}

	lresp, err := http.Get(srv.URL + "/v1/progress/child-9")
	if err != nil {
		t.Fatalf("GET list: %v", err)
	}
	defer lresp.Body.Close()
	list := decode[struct {
		Records []progress.Record `json:"records"`
	}](t, lresp)
	if len(list.Records) != 2 {
		t.Errorf("records = %d, want 2", len(list.Records))
	}
}

func TestRemoveAudioIdempotent(t *testing.T) {
	srv := newTestServer(t, &transcribemock.Provider{ProviderName: "mock"})

	up, err := http.Post(srv.URL+"/v1/audio", "audio/wav", bytes.NewReader([]byte{1, 2}))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	ref := decode[uploadResponse](t, up).Ref
	up.Body.Close()

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest("DELETE", srv.URL+"/v1/audio/"+ref, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("DELETE: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Errorf("delete %d status = %d, want 204", i, resp.StatusCode)
		}
	}
}

func TestOperationalEndpoints(t *testing.T) {
	srv := newTestServer(t, &transcribemock.Provider{ProviderName: "mock"})

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, resp.StatusCode)
		}
	}
}
