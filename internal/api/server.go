// Package api exposes the coach over HTTP.
//
// Endpoints:
//
//	POST   /v1/audio                          — upload a capture artifact
//	DELETE /v1/audio/{ref}                    — release an uploaded artifact
//	POST   /v1/attempts                       — submit an attempt for grading
//	GET    /v1/progress/{childID}             — all progress for a child
//	GET    /v1/progress/{childID}/{promptID}  — one progress record
//	GET    /v1/capture                        — WebSocket recording session
//	GET    /healthz, /readyz, /metrics        — operational endpoints
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dhvani-app/dhvani/internal/app"
	"github.com/dhvani-app/dhvani/internal/health"
	"github.com/dhvani-app/dhvani/internal/media"
	"github.com/dhvani-app/dhvani/internal/observe"
	"github.com/dhvani-app/dhvani/internal/progress"
	"github.com/dhvani-app/dhvani/pkg/provider/transcribe"
)

// maxUploadBytes caps one audio upload. Five seconds of 48 kHz stereo PCM
// is under 1 MiB; 8 MiB leaves slack for uncompressed formats.
const maxUploadBytes = 8 << 20

// Server is the HTTP surface over a [app.Coach].
type Server struct {
	coach   *app.Coach
	health  *health.Handler
	metrics *observe.Metrics
}

// Option configures a [Server].
type Option func(*Server)

// WithHealth installs the health handler served at /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics overrides the metrics instance used by the middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates the server. The coach must be non-nil.
func New(coach *app.Coach, opts ...Option) *Server {
	s := &Server{coach: coach}
	for _, o := range opts {
		o(s)
	}
	if s.health == nil {
		s.health = health.New("")
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the full route table wrapped in the tracing and metrics
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/audio", s.handleUploadAudio)
	mux.HandleFunc("DELETE /v1/audio/{ref}", s.handleRemoveAudio)
	mux.HandleFunc("POST /v1/attempts", s.handleSubmitAttempt)
	mux.HandleFunc("GET /v1/progress/{childID}", s.handleListProgress)
	mux.HandleFunc("GET /v1/progress/{childID}/{promptID}", s.handleGetProgress)
	mux.HandleFunc("GET /v1/capture", s.handleCapture)

	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(s.metrics)(mux)
}

// uploadResponse is the JSON body returned from POST /v1/audio.
type uploadResponse struct {
	Ref         string `json:"ref"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
}

func (s *Server) handleUploadAudio(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	if mediaTypeOf(contentType) == "" {
		writeError(w, http.StatusBadRequest, "Content-Type header is required")
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "audio payload too large")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty audio payload")
		return
	}

	ref, err := s.coach.Media().Put(r.Context(), media.Blob{
		Data:        data,
		ContentType: mediaTypeOf(contentType),
	})
	if err != nil {
		observe.Logger(r.Context()).Error("audio upload failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to store audio")
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{
		Ref:         ref,
		ContentType: mediaTypeOf(contentType),
		Size:        len(data),
	})
}

func (s *Server) handleRemoveAudio(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("ref")
	if err := s.coach.Media().Remove(r.Context(), ref); err != nil {
		writeError(w, http.StatusBadRequest, "invalid audio ref")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubmitAttempt(w http.ResponseWriter, r *http.Request) {
	var req app.AttemptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.coach.SubmitAttempt(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, media.ErrNotFound):
		writeError(w, http.StatusNotFound, "unknown audio ref")
	case errors.Is(err, transcribe.ErrTranscriptionFailed):
		observe.Logger(r.Context()).Error("attempt transcription failed", "err", err)
		writeError(w, http.StatusBadGateway, "transcription failed")
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *Server) handleListProgress(w http.ResponseWriter, r *http.Request) {
	childID := r.PathValue("childID")
	records, err := s.coach.Progress().List(r.Context(), childID)
	if err != nil {
		observe.Logger(r.Context()).Error("progress list failed", "child_id", childID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load progress")
		return
	}
	if records == nil {
		records = []progress.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	childID := r.PathValue("childID")
	promptID := r.PathValue("promptID")

	rec, err := s.coach.Progress().Get(r.Context(), childID, promptID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, rec)
	case errors.Is(err, progress.ErrNotFound):
		writeError(w, http.StatusNotFound, "no progress for this prompt")
	default:
		observe.Logger(r.Context()).Error("progress get failed", "child_id", childID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load progress")
	}
}

// mediaTypeOf strips any parameters from a Content-Type header value.
func mediaTypeOf(header string) string {
	mt, _, _ := strings.Cut(header, ";")
	return strings.TrimSpace(mt)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}
