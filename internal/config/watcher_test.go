package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/callweave/callweave/internal/config"
)

const watcherBaseYAML = `
server:
  log_level: info
carrier:
  account_sid: AC123
  auth_token: tok-456
providers:
  llm:
    name: openai
    api_key: sk-test
  stt:
    name: deepgram
    api_key: dg-test
  tts:
    primary:
      name: inworld
      api_key: iw-test
    fallback:
      name: deepgram
      api_key: dg-test
backend:
  base_url: https://api.example.com
  api_key: be-test
agent:
  greeting: "Thanks for calling ACE Cooling."
`

// changeRecorder collects onChange invocations for assertions.
type changeRecorder struct {
	mu       sync.Mutex
	old, new *config.Config
	calls    int
	fired    chan struct{}
}

func newChangeRecorder() *changeRecorder {
	return &changeRecorder{fired: make(chan struct{}, 1)}
}

func (r *changeRecorder) onChange(old, new *config.Config) {
	r.mu.Lock()
	r.old, r.new = old, new
	r.calls++
	r.mu.Unlock()
	select {
	case r.fired <- struct{}{}:
	default:
	}
}

func (r *changeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func startWatcher(t *testing.T, rec *changeRecorder) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, watcherBaseYAML)

	var cb func(old, new *config.Config)
	if rec != nil {
		cb = rec.onChange
	}
	w, err := config.NewWatcher(path, cb, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, path
}

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

func TestWatcherInitialLoad(t *testing.T) {
	t.Parallel()
	w, _ := startWatcher(t, nil)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() = nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
}

func TestWatcherDetectsEdit(t *testing.T) {
	t.Parallel()
	rec := newChangeRecorder()
	w, path := startWatcher(t, rec)

	time.Sleep(100 * time.Millisecond)
	writeConfigFile(t, path, strings.Replace(watcherBaseYAML, "log_level: info", "log_level: debug", 1))

	select {
	case <-rec.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("onChange not invoked within timeout")
	}

	rec.mu.Lock()
	old, next := rec.old, rec.new
	rec.mu.Unlock()

	if old == nil || next == nil {
		t.Fatal("onChange received nil configs")
	}
	if old.Server.LogLevel != config.LogInfo {
		t.Errorf("old log_level = %q, want %q", old.Server.LogLevel, config.LogInfo)
	}
	if next.Server.LogLevel != config.LogDebug {
		t.Errorf("new log_level = %q, want %q", next.Server.LogLevel, config.LogDebug)
	}
	if cur := w.Current(); cur.Server.LogLevel != config.LogDebug {
		t.Errorf("Current() log_level = %q, want %q", cur.Server.LogLevel, config.LogDebug)
	}
}

func TestWatcherKeepsOldConfigOnInvalidEdit(t *testing.T) {
	t.Parallel()
	rec := newChangeRecorder()
	w, path := startWatcher(t, rec)

	time.Sleep(100 * time.Millisecond)
	writeConfigFile(t, path, "server:\n  log_level: bananas\n")
	time.Sleep(300 * time.Millisecond)

	if n := rec.count(); n != 0 {
		t.Errorf("onChange fired %d times for invalid config, want 0", n)
	}
	if cur := w.Current(); cur.Server.LogLevel != config.LogInfo {
		t.Errorf("Current() log_level = %q, want previous %q", cur.Server.LogLevel, config.LogInfo)
	}
}

func TestWatcherInitialLoadFailure(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("NewWatcher on missing file: want error, got nil")
	}
}

func TestWatcherStopIdempotent(t *testing.T) {
	t.Parallel()
	w, _ := startWatcher(t, nil)

	w.Stop()
	w.Stop()
	w.Stop()
}

func TestWatcherIgnoresTouchWithoutEdit(t *testing.T) {
	t.Parallel()
	rec := newChangeRecorder()
	_, path := startWatcher(t, rec)

	time.Sleep(100 * time.Millisecond)
	later := time.Now().Add(time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("touch: %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	if n := rec.count(); n != 0 {
		t.Errorf("onChange fired %d times for a touch-only change, want 0", n)
	}
}
