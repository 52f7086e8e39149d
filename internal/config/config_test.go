package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// chdir changes into dir for the duration of the test; it replaces
// t.Chdir, which requires Go 1.24's testing package.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("chdir back: %v", err)
		}
	})
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.BaseURL != "http://localhost:8000" {
		t.Fatalf("unexpected base url: %s", cfg.API.BaseURL)
	}
	if cfg.API.RequestTimeout != 15*time.Second {
		t.Fatalf("unexpected timeout: %v", cfg.API.RequestTimeout)
	}
	if cfg.Token.ExpirySkew != 30*time.Second {
		t.Fatalf("unexpected skew: %v", cfg.Token.ExpirySkew)
	}
	if cfg.Store.Backend != "file" {
		t.Fatalf("unexpected backend: %s", cfg.Store.Backend)
	}
	if cfg.Logger.Level != "info" || cfg.Logger.Format != "json" {
		t.Fatalf("unexpected logger config: %+v", cfg.Logger)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "authkit.yaml")
	doc := `
api:
  base_url: https://finance.example.kz
  request_timeout: 5s
token:
  expiry_skew: 10s
store:
  backend: redis
redis:
  addr: localhost:6379
logger:
  level: debug
  format: console
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.BaseURL != "https://finance.example.kz" {
		t.Fatalf("unexpected base url: %s", cfg.API.BaseURL)
	}
	if cfg.API.RequestTimeout != 5*time.Second {
		t.Fatalf("unexpected timeout: %v", cfg.API.RequestTimeout)
	}
	if cfg.Token.ExpirySkew != 10*time.Second {
		t.Fatalf("unexpected skew: %v", cfg.Token.ExpirySkew)
	}
	if cfg.Store.Backend != "redis" || cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("unexpected store config: %+v / %+v", cfg.Store, cfg.Redis)
	}
	if cfg.Logger.Level != "debug" {
		t.Fatalf("unexpected log level: %s", cfg.Logger.Level)
	}
}

func TestEnvOverridesDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("AUTHKIT_API_BASE_URL", "https://env.example.kz")
	t.Setenv("AUTHKIT_STORE_BACKEND", "memory")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.BaseURL != "https://env.example.kz" {
		t.Fatalf("env override lost: %s", cfg.API.BaseURL)
	}
	if cfg.Store.Backend != "memory" {
		t.Fatalf("env override lost: %s", cfg.Store.Backend)
	}
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("AUTHKIT_STORE_BACKEND", "cassandra")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestValidateRequiresRedisAddr(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("AUTHKIT_STORE_BACKEND", "redis")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for redis backend without addr")
	}
}

func TestMissingExplicitFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}
