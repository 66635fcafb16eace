package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("missing file should not be an error: %v", err)
	}
	if cfg.Server.Addr != DefaultHTTPAddr {
		t.Fatalf("addr = %q, want %q", cfg.Server.Addr, DefaultHTTPAddr)
	}
	if cfg.Postgres.Host != DefaultPGHost || cfg.Postgres.Port != DefaultPGPort {
		t.Fatalf("postgres defaults not applied: %+v", cfg.Postgres)
	}
	if cfg.Provider.BaseURL != DefaultProviderURL {
		t.Fatalf("provider base url = %q", cfg.Provider.BaseURL)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("log level = %q, want info", cfg.Log.Level)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[server]
addr = ":9000"

[postgres]
host = "db.internal"
password = "hunter2"

[provider]
base_url = "https://sessions.example.com"
poll_interval = "10s"

[router]
default_tenant = "acme"
strict = true
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Postgres.Host != "db.internal" || cfg.Postgres.Password != "hunter2" {
		t.Fatalf("postgres = %+v", cfg.Postgres)
	}
	if cfg.Postgres.Port != DefaultPGPort {
		t.Fatalf("unset postgres port should keep default, got %d", cfg.Postgres.Port)
	}
	if cfg.Provider.BaseURL != "https://sessions.example.com" {
		t.Fatalf("provider base url = %q", cfg.Provider.BaseURL)
	}
	if cfg.Router.DefaultTenant != "acme" || !cfg.Router.Strict {
		t.Fatalf("router = %+v", cfg.Router)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[server\naddr="), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestPollIntervalDuration(t *testing.T) {
	t.Parallel()

	if got := (ProviderConfig{PollInterval: "30s"}).PollIntervalDuration(); got != 30*time.Second {
		t.Fatalf("got %v, want 30s", got)
	}
	if got := (ProviderConfig{}).PollIntervalDuration(); got != 4*time.Second {
		t.Fatalf("unset interval should fall back, got %v", got)
	}
	if got := (ProviderConfig{PollInterval: "bogus"}).PollIntervalDuration(); got != 4*time.Second {
		t.Fatalf("unparsable interval should fall back, got %v", got)
	}
	if got := (ProviderConfig{PollInterval: "-1s"}).PollIntervalDuration(); got != 4*time.Second {
		t.Fatalf("non-positive interval should fall back, got %v", got)
	}
}
