package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const watcherYAMLv1 = `
server:
  log_level: info
providers:
  transcribe:
    name: whisper
`

const watcherYAMLv2 = `
server:
  log_level: debug
providers:
  transcribe:
    name: whisper
`

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestWatcherInitialLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dhvani.yaml")
	writeConfig(t, path, watcherYAMLv1)

	w, err := NewWatcher(path, nil, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Server.LogLevel; got != LogInfo {
		t.Errorf("LogLevel = %q, want info", got)
	}
}

func TestWatcherInitialLoadFailsOnBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dhvani.yaml")
	writeConfig(t, path, "server: [not a mapping]")

	if _, err := NewWatcher(path, nil); err == nil {
		t.Fatal("NewWatcher on invalid config should fail")
	}
}

func TestWatcherDetectsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dhvani.yaml")
	writeConfig(t, path, watcherYAMLv1)

	var mu sync.Mutex
	var gotNew *Config
	changed := make(chan struct{})
	onChange := func(old, new *Config) {
		mu.Lock()
		gotNew = new
		mu.Unlock()
		close(changed)
	}

	w, err := NewWatcher(path, onChange, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	// Ensure the mtime moves even on coarse filesystem clocks.
	time.Sleep(20 * time.Millisecond)
	writeConfig(t, path, watcherYAMLv2)
	now := time.Now()
	os.Chtimes(path, now, now)

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for change callback")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotNew.Server.LogLevel != LogDebug {
		t.Errorf("new LogLevel = %q, want debug", gotNew.Server.LogLevel)
	}
	if w.Current().Server.LogLevel != LogDebug {
		t.Errorf("Current() not updated")
	}
}

func TestWatcherKeepsOldConfigOnInvalidEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dhvani.yaml")
	writeConfig(t, path, watcherYAMLv1)

	w, err := NewWatcher(path, func(old, new *Config) {
		t.Error("onChange must not fire for an invalid config")
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	time.Sleep(20 * time.Millisecond)
	writeConfig(t, path, "providers: {transcribe: {name: [broken")
	now := time.Now()
	os.Chtimes(path, now, now)

	time.Sleep(100 * time.Millisecond)
	if got := w.Current().Server.LogLevel; got != LogInfo {
		t.Errorf("Current().LogLevel = %q, want old value info", got)
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dhvani.yaml")
	writeConfig(t, path, watcherYAMLv1)

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.Stop()
	w.Stop()
}
