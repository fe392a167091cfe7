package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_ADDR", "")
	t.Setenv("KILNGUARD_TOKEN_TTL_SECONDS", "")
	t.Setenv("MINIO_USE_SSL", "")

	cfg := Load()
	if cfg.Addr != ":8787" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.TokenTTL != time.Hour {
		t.Fatalf("expected 1h token ttl, got %s", cfg.TokenTTL)
	}
	if cfg.MinIOUseSSL {
		t.Fatal("expected ssl disabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9000")
	t.Setenv("KILNGUARD_TOKEN_TTL_SECONDS", "60")
	t.Setenv("KILNGUARD_NOTIFY_TIMEOUT_MS", "not-a-number")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg := Load()
	if cfg.Addr != ":9000" {
		t.Fatalf("expected :9000, got %q", cfg.Addr)
	}
	if cfg.TokenTTL != time.Minute {
		t.Fatalf("expected 1m ttl, got %s", cfg.TokenTTL)
	}
	if cfg.NotifyTimeout != 2*time.Second {
		t.Fatalf("expected fallback notify timeout, got %s", cfg.NotifyTimeout)
	}
	if !cfg.MinIOUseSSL {
		t.Fatal("expected ssl enabled")
	}
}

func TestSlogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for raw, want := range cases {
		if got := (Config{LogLevel: raw}).SlogLevel(); got != want {
			t.Fatalf("SlogLevel(%q) = %v, want %v", raw, got, want)
		}
	}
}
