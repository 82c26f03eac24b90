// Package app wires the dhvani subsystems into a running practice coach.
//
// The Coach owns the attempt pipeline: a finalized capture artifact is
// transcribed, the transcript is evaluated against the expected text, hints
// are optionally refined through an LLM, and the outcome is folded into the
// learner's progress record. It also enforces the one-live-recording-session
// rule for callers that drive capture through the server.
//
// For testing, inject doubles via functional options (WithProgressStore,
// WithMediaStore, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dhvani-app/dhvani/internal/config"
	"github.com/dhvani-app/dhvani/internal/eval"
	"github.com/dhvani-app/dhvani/internal/eval/llmhint"
	"github.com/dhvani-app/dhvani/internal/media"
	"github.com/dhvani-app/dhvani/internal/observe"
	"github.com/dhvani-app/dhvani/internal/progress"
	progresspg "github.com/dhvani-app/dhvani/internal/progress/postgres"
	"github.com/dhvani-app/dhvani/pkg/capture"
	"github.com/dhvani-app/dhvani/pkg/provider/transcribe"
)

// ErrSessionActive is returned by NewSession while another recording session
// is still live.
var ErrSessionActive = errors.New("app: a recording session is already active")

// Providers holds one interface value per provider slot. Populated by
// main.go via the config registry. Hints may be nil; Transcribe must not be.
type Providers struct {
	Transcribe transcribe.Provider
	Hints      llmhint.Completer
}

// AttemptRequest carries one finalized attempt into the pipeline. Exactly
// one of AudioRef or Audio must be set.
type AttemptRequest struct {
	ChildID  string `json:"childId"`
	PromptID string `json:"promptId"`

	// AudioRef is a media store reference from a prior upload.
	AudioRef string `json:"audioRef,omitempty"`

	// Audio carries the artifact inline when no upload happened first.
	Audio       []byte `json:"-"`
	ContentType string `json:"contentType,omitempty"`

	Language          string `json:"language,omitempty"`
	ExpectedText      string `json:"expectedText"`
	ExpectedRomanized string `json:"expectedRomanized,omitempty"`
	AttemptNumber     int    `json:"attemptNumber,omitempty"`

	// IdempotencyToken makes a retried submission safe to apply at most
	// once. Optional.
	IdempotencyToken string `json:"idempotencyToken,omitempty"`
}

// AttemptResponse is the full outcome of one attempt.
type AttemptResponse struct {
	Attempt       eval.Attempt      `json:"attempt"`
	Transcription string            `json:"transcription"`
	Confidence    float64           `json:"confidence"`
	Provider      string            `json:"provider"`
	Progress      *progress.Outcome `json:"progress,omitempty"`

	// Persisted is false when the evaluation succeeded but writing the
	// progress record failed. The attempt is still usable by the caller;
	// persistence can be retried with the same idempotency token.
	Persisted bool `json:"persisted"`
}

// Coach owns the attempt pipeline and the single live recording session.
type Coach struct {
	cfg       *config.Config
	providers *Providers
	engine    *eval.Engine
	refiner   *llmhint.Refiner
	store     progress.Store
	blobs     media.Store
	metrics   *observe.Metrics

	mu      sync.Mutex
	session *capture.Session

	closers  []func()
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*Coach)

// WithProgressStore injects a progress store instead of creating one from
// config.
func WithProgressStore(s progress.Store) Option {
	return func(c *Coach) { c.store = s }
}

// WithMediaStore injects a media store instead of creating a FileStore.
func WithMediaStore(s media.Store) Option {
	return func(c *Coach) { c.blobs = s }
}

// WithMetrics injects a Metrics instance instead of the package default.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coach) { c.metrics = m }
}

// WithEngine injects an evaluation engine (e.g. a seeded one in tests).
func WithEngine(e *eval.Engine) Option {
	return func(c *Coach) { c.engine = e }
}

// New creates a Coach by wiring all subsystems together. The providers
// struct comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*Coach, error) {
	if providers == nil || providers.Transcribe == nil {
		return nil, errors.New("app: a transcribe provider is required")
	}

	c := &Coach{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(c)
	}

	if c.engine == nil {
		c.engine = eval.New()
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}

	if c.store == nil {
		if dsn := cfg.Storage.PostgresDSN; dsn != "" {
			pg, err := progresspg.NewStore(ctx, dsn)
			if err != nil {
				return nil, fmt.Errorf("app: %w", err)
			}
			c.store = pg
			c.closers = append(c.closers, pg.Close)
			slog.Info("progress store ready", "backend", "postgres")
		} else {
			c.store = progress.NewMemStore()
			slog.Info("progress store ready", "backend", "memory")
		}
	}

	if c.blobs == nil {
		dir := cfg.Storage.MediaDir
		if dir == "" {
			dir = "media"
		}
		fs, err := media.NewFileStore(dir)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		c.blobs = fs
	}

	if providers.Hints != nil {
		c.refiner = llmhint.New(providers.Hints)
	}

	return c, nil
}

// Media returns the artifact store for the upload boundary.
func (c *Coach) Media() media.Store { return c.blobs }

// Progress returns the progress store for read-side queries.
func (c *Coach) Progress() progress.Store { return c.store }

// Shutdown releases all held resources. Safe to call more than once.
func (c *Coach) Shutdown(context.Context) error {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		sess := c.session
		c.session = nil
		c.mu.Unlock()
		if sess != nil {
			sess.Cancel()
		}
		for _, fn := range c.closers {
			fn()
		}
	})
	return nil
}

// ─── Recording sessions ──────────────────────────────────────────────────────

// NewSession creates a recording session on dev, enforcing that at most one
// non-terminal session exists at a time. The returned session must finish
// (complete, error, or cancel) before the next NewSession call succeeds.
//
// contentType stamps the finalized artifact and must be one the audio
// package can decode for transcription; empty selects raw 16-bit PCM.
func (c *Coach) NewSession(dev capture.Device, contentType string) (*capture.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil && !c.session.State().Terminal() && c.session.State() != capture.StateIdle {
		return nil, ErrSessionActive
	}

	cc := c.cfg.Capture
	sess := capture.NewSession(dev, capture.Config{
		CountdownSeconds: cc.CountdownSeconds,
		MaxDuration:      time.Duration(cc.MaxDurationMs) * time.Millisecond,
		PollInterval:     time.Duration(cc.PollIntervalMs) * time.Millisecond,
		ContentType:      contentType,
	})
	c.session = sess
	c.metrics.ActiveSessions.Add(context.Background(), 1)
	return sess, nil
}

// ReleaseSession marks sess as finished so a new session may start. It
// cancels sess if it is still live.
func (c *Coach) ReleaseSession(sess *capture.Session) {
	c.mu.Lock()
	if c.session == sess {
		c.session = nil
	}
	c.mu.Unlock()

	sess.Cancel()
	c.metrics.ActiveSessions.Add(context.Background(), -1)
}

// ─── Attempt pipeline ────────────────────────────────────────────────────────

// SubmitAttempt runs one attempt through transcription, evaluation, hint
// refinement, and progress persistence.
//
// A persistence failure does not fail the attempt: the evaluated result is
// returned with Persisted == false so the learner still sees their feedback,
// and the caller may retry persistence with the same idempotency token.
func (c *Coach) SubmitAttempt(ctx context.Context, req AttemptRequest) (*AttemptResponse, error) {
	if req.ChildID == "" || req.PromptID == "" {
		return nil, errors.New("app: childId and promptId are required")
	}
	if req.ExpectedText == "" {
		return nil, errors.New("app: expectedText is required")
	}

	audio := req.Audio
	contentType := req.ContentType
	if req.AudioRef != "" {
		blob, err := c.blobs.Get(ctx, req.AudioRef)
		if err != nil {
			return nil, fmt.Errorf("app: resolve audio ref: %w", err)
		}
		audio = blob.Data
		contentType = blob.ContentType
	}
	if len(audio) == 0 {
		return nil, errors.New("app: no audio supplied")
	}

	attemptNumber := req.AttemptNumber
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	// Transcribe.
	start := time.Now()
	res, err := c.providers.Transcribe.Transcribe(ctx, transcribe.Request{
		Audio:        audio,
		ContentType:  contentType,
		Language:     req.Language,
		ExpectedText: req.ExpectedText,
	})
	c.metrics.TranscribeDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		c.metrics.RecordProviderError(ctx, c.providers.Transcribe.Name(), "transcribe")
		return nil, fmt.Errorf("%w: %v", transcribe.ErrTranscriptionFailed, err)
	}
	c.metrics.RecordProviderRequest(ctx, res.Provider, "transcribe", "ok")

	// Evaluate.
	in := eval.Input{
		Expected:      req.ExpectedText,
		Romanized:     req.ExpectedRomanized,
		Heard:         res.Text,
		AttemptNumber: attemptNumber,
	}
	if res.Assessment != nil {
		score := res.Assessment.Score
		in.ProviderScore = &score
	}
	att := c.engine.Evaluate(in)
	c.metrics.RecordAttempt(ctx, string(att.Tier), att.Stars)

	// Refine hints (best-effort).
	if c.refiner != nil {
		hintStart := time.Now()
		if err := c.refiner.Refine(ctx, &att); err != nil {
			observe.Logger(ctx).Warn("hint refinement failed", "err", err)
		}
		c.metrics.HintDuration.Record(ctx, time.Since(hintStart).Seconds())
	}

	resp := &AttemptResponse{
		Attempt:       att,
		Transcription: res.Text,
		Confidence:    res.Confidence,
		Provider:      res.Provider,
	}

	// Persist.
	outcome, err := c.store.Apply(ctx, req.ChildID, req.PromptID, &att, req.IdempotencyToken)
	if err != nil {
		observe.Logger(ctx).Error("progress persistence failed",
			"child_id", req.ChildID,
			"prompt_id", req.PromptID,
			"err", err)
		return resp, nil
	}
	resp.Progress = outcome
	resp.Persisted = true

	if outcome.IsPersonalBest {
		c.metrics.PersonalBests.Add(ctx, 1)
	}
	if outcome.Record.Mastered && outcome.IsPersonalBest && att.Stars == 3 {
		c.metrics.MasteryAchieved.Add(ctx, 1)
	}
	return resp, nil
}
