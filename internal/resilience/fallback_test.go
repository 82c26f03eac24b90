package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dhvani-app/dhvani/pkg/provider/transcribe"
	transcribemock "github.com/dhvani-app/dhvani/pkg/provider/transcribe/mock"
)

func TestFallbackGroupUsesPrimaryFirst(t *testing.T) {
	g := NewFallbackGroup("primary", "primary", FallbackConfig{})
	g.AddFallback("backup", "backup")

	got, err := DoWithResult(g, func(v string) (string, error) { return v, nil })
	if err != nil {
		t.Fatalf("DoWithResult: %v", err)
	}
	if got != "primary" {
		t.Errorf("result = %q, want primary", got)
	}
}

func TestFallbackGroupFallsThrough(t *testing.T) {
	g := NewFallbackGroup("primary", "primary", FallbackConfig{})
	g.AddFallback("backup", "backup")

	got, err := DoWithResult(g, func(v string) (string, error) {
		if v == "primary" {
			return "", errBackend
		}
		return v, nil
	})
	if err != nil {
		t.Fatalf("DoWithResult: %v", err)
	}
	if got != "backup" {
		t.Errorf("result = %q, want backup", got)
	}
}

func TestFallbackGroupAllFailed(t *testing.T) {
	g := NewFallbackGroup("only", "only", FallbackConfig{})

	err := g.Do(func(string) error { return errBackend })
	if !errors.Is(err, ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroupSkipsOpenBreaker(t *testing.T) {
	g := NewFallbackGroup("primary", "primary", FallbackConfig{
		Breaker: BreakerConfig{MaxFailures: 1, Cooldown: time.Minute},
	})
	g.AddFallback("backup", "backup")

	// Trip the primary's breaker.
	g.Do(func(v string) error {
		if v == "primary" {
			return errBackend
		}
		return nil
	})

	primaryCalled := false
	got, err := DoWithResult(g, func(v string) (string, error) {
		if v == "primary" {
			primaryCalled = true
		}
		return v, nil
	})
	if err != nil {
		t.Fatalf("DoWithResult: %v", err)
	}
	if primaryCalled {
		t.Error("primary with open breaker should be skipped")
	}
	if got != "backup" {
		t.Errorf("result = %q, want backup", got)
	}
}

func TestTranscribeFallback(t *testing.T) {
	primary := &transcribemock.Provider{
		ProviderName: "openai",
		Err:          transcribe.ErrTranscriptionFailed,
	}
	backup := &transcribemock.Provider{
		ProviderName: "whisper",
		Results:      []*transcribe.Result{{Text: "पानी"}},
	}

	f := NewTranscribeFallback(primary, FallbackConfig{})
	f.AddFallback(backup)

	if f.Name() != "openai+whisper" {
		t.Errorf("Name = %q, want openai+whisper", f.Name())
	}

	res, err := f.Transcribe(context.Background(), transcribe.Request{Language: "hi"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "पानी" {
		t.Errorf("Text = %q, want पानी", res.Text)
	}
	if res.Provider != "whisper" {
		t.Errorf("Provider = %q, want whisper (the backend that answered)", res.Provider)
	}
	if primary.CallCount() != 1 {
		t.Errorf("primary called %d times, want 1", primary.CallCount())
	}
}

func TestTranscribeFallbackAllFailed(t *testing.T) {
	primary := &transcribemock.Provider{Err: transcribe.ErrTranscriptionFailed}
	f := NewTranscribeFallback(primary, FallbackConfig{})

	_, err := f.Transcribe(context.Background(), transcribe.Request{})
	if !errors.Is(err, ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed", err)
	}
}
