// Command dhvanid is the dhvani pronunciation-practice server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/dhvani-app/dhvani/internal/api"
	"github.com/dhvani-app/dhvani/internal/app"
	"github.com/dhvani-app/dhvani/internal/config"
	"github.com/dhvani-app/dhvani/internal/eval/llmhint"
	"github.com/dhvani-app/dhvani/internal/health"
	"github.com/dhvani-app/dhvani/internal/media"
	"github.com/dhvani-app/dhvani/internal/observe"
	"github.com/dhvani-app/dhvani/internal/resilience"
	"github.com/dhvani-app/dhvani/pkg/provider/transcribe"
	transcribemock "github.com/dhvani-app/dhvani/pkg/provider/transcribe/mock"
	oaitranscribe "github.com/dhvani-app/dhvani/pkg/provider/transcribe/openai"
	"github.com/dhvani-app/dhvani/pkg/provider/transcribe/whisper"
)

// version is stamped by the release build.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "dhvanid: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "dhvanid: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, logLevel := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("dhvanid starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	coach, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config watcher ────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		diff := config.Diff(old, new)
		if diff.LogLevelChanged {
			logLevel.Set(slogLevel(diff.NewLogLevel))
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
		if diff.CaptureChanged {
			slog.Warn("capture settings changed on disk; restart to apply")
		}
	})
	if err != nil {
		slog.Warn("config watcher unavailable", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	server := api.New(coach, api.WithHealth(newHealth(coach)))

	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server ready — press Ctrl+C to shut down", "addr", addr)
		if tls := cfg.Server.TLS; tls != nil {
			errCh <- httpServer.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			errCh <- httpServer.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	if err := coach.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the provider factories that ship with
// dhvani into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Transcription ─────────────────────────────────────────────────────────

	reg.RegisterTranscribe("openai", func(entry config.ProviderEntry) (transcribe.Provider, error) {
		var opts []oaitranscribe.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaitranscribe.WithBaseURL(entry.BaseURL))
		}
		if entry.Language != "" {
			opts = append(opts, oaitranscribe.WithLanguage(entry.Language))
		}
		return oaitranscribe.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTranscribe("whisper", func(entry config.ProviderEntry) (transcribe.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, whisper.WithLanguage(entry.Language))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterTranscribe("mock", func(entry config.ProviderEntry) (transcribe.Provider, error) {
		text := optString(entry.Options, "text")
		return &transcribemock.Provider{
			ProviderName: "mock",
			Results:      []*transcribe.Result{{Text: text, Confidence: 1, Provider: "mock"}},
		}, nil
	})

	// ── Hints ─────────────────────────────────────────────────────────────────
	// The hosted chat providers share the APIKey + BaseURL pattern.

	for _, providerName := range []string{"openai", "anthropic", "gemini", "groq"} {
		reg.RegisterHints(providerName, func(entry config.ProviderEntry) (llmhint.Completer, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return llmhint.NewAnyLLM(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterHints("ollama", func(entry config.ProviderEntry) (llmhint.Completer, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return llmhint.NewAnyLLM("ollama", entry.Model, opts...)
	})
}

// buildProviders instantiates the providers named in cfg. The transcription
// provider is wrapped in a circuit breaker, with the configured fallback
// chained behind it when present.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	name := cfg.Providers.Transcribe.Name
	primary, err := reg.CreateTranscribe(cfg.Providers.Transcribe)
	if err != nil {
		return nil, fmt.Errorf("create transcribe provider %q: %w", name, err)
	}
	slog.Info("provider created", "kind", "transcribe", "name", name)

	group := resilience.NewTranscribeFallback(primary, resilience.FallbackConfig{})
	if fbName := cfg.Providers.TranscribeFallback.Name; fbName != "" {
		fb, err := reg.CreateTranscribe(cfg.Providers.TranscribeFallback)
		if err != nil {
			return nil, fmt.Errorf("create fallback transcribe provider %q: %w", fbName, err)
		}
		group.AddFallback(fb)
		slog.Info("provider created", "kind", "transcribe-fallback", "name", fbName)
	}
	ps.Transcribe = group

	if hintsName := cfg.Providers.Hints.Name; hintsName != "" {
		completer, err := reg.CreateHints(cfg.Providers.Hints)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "hints", "name", hintsName)
		} else if err != nil {
			return nil, fmt.Errorf("create hints provider %q: %w", hintsName, err)
		} else {
			ps.Hints = resilience.NewHintFallback(completer, hintsName, resilience.FallbackConfig{})
			slog.Info("provider created", "kind", "hints", "name", hintsName)
		}
	}

	return ps, nil
}

// newHealth builds the readiness checkers over the coach's dependencies.
func newHealth(coach *app.Coach) *health.Handler {
	return health.New(version,
		health.Checker{Name: "progress", Check: func(ctx context.Context) error {
			_, err := coach.Progress().List(ctx, "healthcheck")
			return err
		}},
		health.Checker{Name: "media", Check: func(ctx context.Context) error {
			_, err := coach.Media().Get(ctx, "00000000-0000-0000-0000-000000000000")
			if errors.Is(err, media.ErrNotFound) {
				return nil
			}
			return err
		}},
	)
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          dhvani — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Transcribe", cfg.Providers.Transcribe.Name, cfg.Providers.Transcribe.Model)
	printProvider("Fallback", cfg.Providers.TranscribeFallback.Name, cfg.Providers.TranscribeFallback.Model)
	printProvider("Hints", cfg.Providers.Hints.Name, cfg.Providers.Hints.Model)
	storage := "memory"
	if cfg.Storage.PostgresDSN != "" {
		storage = "postgres"
	}
	fmt.Printf("║  Storage         : %-19s ║\n", storage)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
