// Package openai provides a transcription provider backed by the OpenAI
// Audio API.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/dhvani-app/dhvani/pkg/audio"
	"github.com/dhvani-app/dhvani/pkg/provider/transcribe"
)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = oai.AudioModelWhisper1

// Ensure Provider implements the transcribe.Provider interface.
var _ transcribe.Provider = (*Provider)(nil)

// Provider implements transcribe.Provider using the OpenAI Audio API.
type Provider struct {
	client   oai.Client
	model    string
	language string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL  string
	language string
	timeout  time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Useful for
// OpenAI-compatible transcription servers.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithLanguage sets the default recognition language for requests that do not
// carry one (e.g., "hi" for Hindi).
func WithLanguage(lang string) Option {
	return func(c *config) {
		c.language = lang
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI transcription Provider.
// If model is empty, DefaultModel (whisper-1) is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai transcribe: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model, language: cfg.language}, nil
}

// Name implements transcribe.Provider.
func (p *Provider) Name() string { return "openai" }

// Transcribe implements transcribe.Provider. Non-WAV payloads are converted
// to 16 kHz mono WAV before upload. The expected text is passed as the prompt
// so recognition is biased toward the practice vocabulary.
func (p *Provider) Transcribe(ctx context.Context, req transcribe.Request) (*transcribe.Result, error) {
	wav, err := toWAV(req.Audio, req.ContentType)
	if err != nil {
		return nil, fmt.Errorf("openai transcribe: %w", err)
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "attempt.wav", "audio/wav"),
		Model: p.model,
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	if lang != "" {
		params.Language = param.NewOpt(lang)
	}
	if req.ExpectedText != "" {
		params.Prompt = param.NewOpt(req.ExpectedText)
	}

	start := time.Now()
	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: openai: %v", transcribe.ErrTranscriptionFailed, err)
	}

	return &transcribe.Result{
		Text:     strings.TrimSpace(resp.Text),
		Provider: p.Name(),
		Duration: time.Since(start),
	}, nil
}

// toWAV normalizes any supported artifact payload to a 16 kHz mono WAV file.
// WAV input is re-wrapped after conversion so the uploaded container always
// matches its contents.
func toWAV(data []byte, contentType string) ([]byte, error) {
	pcm, err := audio.ToTranscription(data, contentType)
	if err != nil {
		return nil, err
	}
	return audio.EncodeWAV(pcm, audio.TranscriptionRate, audio.TranscriptionChannels), nil
}
