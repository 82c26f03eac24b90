package llmhint

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"
)

const defaultTemperature = 0.3

// AnyLLM adapts github.com/mozilla-ai/any-llm-go to the [Completer]
// interface, giving the refiner access to OpenAI, Anthropic, Gemini, Groq,
// and local Ollama backends through one constructor.
type AnyLLM struct {
	backend anyllmlib.Provider
	model   string
}

// NewAnyLLM creates a Completer for the named backend ("openai",
// "anthropic", "gemini", "groq", "ollama") and model. Without an API-key
// option the backend falls back to its usual environment variable.
func NewAnyLLM(providerName, model string, opts ...anyllmlib.Option) (*AnyLLM, error) {
	if model == "" {
		return nil, fmt.Errorf("llmhint: model must not be empty")
	}

	var (
		backend anyllmlib.Provider
		err     error
	)
	switch strings.ToLower(providerName) {
	case "openai":
		backend, err = anyllmoai.New(opts...)
	case "anthropic":
		backend, err = anthropic.New(opts...)
	case "gemini":
		backend, err = gemini.New(opts...)
	case "groq":
		backend, err = groq.New(opts...)
	case "ollama":
		backend, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("llmhint: unsupported provider %q; supported: openai, anthropic, gemini, groq, ollama", providerName)
	}
	if err != nil {
		return nil, fmt.Errorf("llmhint: create %q backend: %w", providerName, err)
	}

	return &AnyLLM{backend: backend, model: model}, nil
}

// Complete implements [Completer].
func (a *AnyLLM) Complete(ctx context.Context, system, user string) (string, error) {
	temp := defaultTemperature
	resp, err := a.backend.Completion(ctx, anyllmlib.CompletionParams{
		Model: a.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: system},
			{Role: anyllmlib.RoleUser, Content: user},
		},
		Temperature: &temp,
	})
	if err != nil {
		return "", fmt.Errorf("llmhint: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llmhint: empty choices in response")
	}
	return resp.Choices[0].Message.ContentString(), nil
}
