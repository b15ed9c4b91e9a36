package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func watcherLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWatcher_ReloadOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swarm.toml")
	if err := os.WriteFile(path, []byte("workers = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := NewWatcher(path, watcherLogger(), WithDebounce(50*time.Millisecond))
	reloaded := make(chan *Config, 1)
	w.OnReload(func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})

	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("workers = 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Workers != 5 {
			t.Errorf("reloaded Workers = %d, want 5", cfg.Workers)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload handler never fired")
	}
}

func TestWatcher_InvalidConfigNotDelivered(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swarm.toml")
	if err := os.WriteFile(path, []byte("workers = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	errCh := make(chan error, 1)
	w := NewWatcher(path, watcherLogger(),
		WithDebounce(50*time.Millisecond),
		WithErrorHandler(func(err error) {
			select {
			case errCh <- err:
			default:
			}
		}),
	)

	delivered := make(chan struct{}, 1)
	w.OnReload(func(cfg *Config) {
		select {
		case delivered <- struct{}{}:
		default:
		}
	})

	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	// Invalid: workers must not be negative.
	if err := os.WriteFile(path, []byte("workers = -3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-errCh:
		// Error surfaced; handlers must not have been called.
		select {
		case <-delivered:
			t.Error("invalid config was delivered to handlers")
		default:
		}
	case <-time.After(5 * time.Second):
		t.Fatal("error handler never fired for invalid config")
	}
}

func TestWatcher_StopIsClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swarm.toml")
	if err := os.WriteFile(path, []byte("workers = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := NewWatcher(path, watcherLogger())
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
