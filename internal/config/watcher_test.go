package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWatcher_ReloadPinsUpstream(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	current, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	current.Upstream.APIKey = "gsk_startup"

	var applied *Config
	w, err := NewWatcher(path, current, func(c *Config) error {
		applied = c
		return nil
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.fs.Close()

	content := "server:\n  trusted_proxies: [\"10.0.0.0/8\"]\nupstream:\n  model: other-model\nlogging:\n  level: debug\nrate_limits:\n  default:\n    requests_per_minute: 7\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	w.Reload()

	if applied == nil {
		t.Fatal("apply was not called")
	}
	if applied.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %s, want debug", applied.Logging.Level)
	}
	if applied.RateLimits.Default.RequestsPerMinute != 7 {
		t.Errorf("RequestsPerMinute = %d, want 7", applied.RateLimits.Default.RequestsPerMinute)
	}
	if applied.Upstream.Model != current.Upstream.Model {
		t.Errorf("Upstream.Model = %s, want pinned %s", applied.Upstream.Model, current.Upstream.Model)
	}
	if applied.Upstream.APIKey != "gsk_startup" {
		t.Errorf("Upstream.APIKey was not pinned")
	}
	if len(applied.Server.TrustedProxies) != 0 {
		t.Errorf("Server.TrustedProxies = %v, want pinned empty list", applied.Server.TrustedProxies)
	}
}

func TestWatcher_ReloadKeepsCurrentOnInvalidFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	current, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	calls := 0
	w, err := NewWatcher(path, current, func(*Config) error {
		calls++
		return nil
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.fs.Close()

	if err := os.WriteFile(path, []byte("logging:\n  level: shouting\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	w.Reload()

	if calls != 0 {
		t.Errorf("apply called %d times for an invalid config", calls)
	}
}

func TestWatcher_RunStopsOnCancel(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("{}\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path, DefaultConfig(), func(*Config) error { return nil }, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
