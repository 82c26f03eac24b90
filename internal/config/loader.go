package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"transcribe": {"openai", "whisper", "mock"},
	"hints":      {"openai", "anthropic", "gemini", "groq", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Provider name validation warns for unknown names so a third-party
	// provider never hard-fails startup.
	validateProviderName("transcribe", cfg.Providers.Transcribe.Name)
	validateProviderName("transcribe", cfg.Providers.TranscribeFallback.Name)
	validateProviderName("hints", cfg.Providers.Hints.Name)

	if cfg.Providers.Transcribe.Name == "" {
		errs = append(errs, errors.New("providers.transcribe.name is required"))
	}
	if cfg.Providers.TranscribeFallback.Name != "" && cfg.Providers.TranscribeFallback.Name == cfg.Providers.Transcribe.Name {
		slog.Warn("transcribe fallback names the same provider as the primary",
			"name", cfg.Providers.Transcribe.Name)
	}

	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; progress will be kept in memory and lost on restart")
	}

	// Capture timings
	if cfg.Capture.CountdownSeconds < 0 || cfg.Capture.CountdownSeconds > 10 {
		errs = append(errs, fmt.Errorf("capture.countdown_seconds %d is out of range [0, 10]", cfg.Capture.CountdownSeconds))
	}
	if cfg.Capture.MaxDurationMs < 0 || cfg.Capture.MaxDurationMs > 60_000 {
		errs = append(errs, fmt.Errorf("capture.max_duration_ms %d is out of range [0, 60000]", cfg.Capture.MaxDurationMs))
	}
	if cfg.Capture.PollIntervalMs < 0 || cfg.Capture.PollIntervalMs > 1000 {
		errs = append(errs, fmt.Errorf("capture.poll_interval_ms %d is out of range [0, 1000]", cfg.Capture.PollIntervalMs))
	}
	if cfg.Capture.MaxDurationMs > 0 && cfg.Capture.PollIntervalMs > cfg.Capture.MaxDurationMs {
		errs = append(errs, fmt.Errorf("capture.poll_interval_ms %d exceeds capture.max_duration_ms %d", cfg.Capture.PollIntervalMs, cfg.Capture.MaxDurationMs))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
