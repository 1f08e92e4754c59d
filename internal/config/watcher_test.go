package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func startWatcher(t *testing.T, path string) (*Watcher, chan *Config) {
	t.Helper()
	changes := make(chan *Config, 4)
	w, err := NewWatcher(path, func(cfg *Config) { changes <- cfg })
	if err != nil {
		t.Fatalf("watcher: %v", err)
	}
	w.debounce = 50 * time.Millisecond
	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { w.Stop() })
	return w, changes
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	writeConfigFile(t, path, "server:\n  address: \":8080\"\n")
	_, changes := startWatcher(t, path)

	writeConfigFile(t, path, "server:\n  address: \":8888\"\n")

	select {
	case cfg := <-changes:
		if cfg.Server.Address != ":8888" {
			t.Errorf("address = %q, want the rewritten file parsed", cfg.Server.Address)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after file change")
	}
}

func TestWatcherIgnoresInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	writeConfigFile(t, path, "server:\n  address: \":8080\"\n")
	_, changes := startWatcher(t, path)

	// Fails loader validation: empty server address.
	writeConfigFile(t, path, "server:\n  address: \"\"\n")

	select {
	case cfg := <-changes:
		t.Fatalf("invalid config must not be published, got %+v", cfg)
	case <-time.After(500 * time.Millisecond):
	}

	// The watcher keeps running and picks up the next valid write.
	writeConfigFile(t, path, "server:\n  address: \":9000\"\n")
	select {
	case cfg := <-changes:
		if cfg.Server.Address != ":9000" {
			t.Errorf("address = %q", cfg.Server.Address)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher stopped after an invalid config")
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	writeConfigFile(t, path, "server:\n  address: \":8080\"\n")
	_, changes := startWatcher(t, path)

	writeConfigFile(t, filepath.Join(dir, "other.yaml"), "server:\n  address: \":9999\"\n")

	select {
	case cfg := <-changes:
		t.Fatalf("unrelated file must not trigger a reload, got %+v", cfg)
	case <-time.After(500 * time.Millisecond):
	}
}
