package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "heal-engine.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Fatalf("default server address wrong: %s", cfg.Server.Address)
	}
	if cfg.Loop.PollInterval != 15*time.Second {
		t.Fatalf("default poll interval wrong: %s", cfg.Loop.PollInterval)
	}
	if cfg.Loop.DecayAlpha != 0.3 {
		t.Fatalf("default decay alpha wrong: %v", cfg.Loop.DecayAlpha)
	}
	if cfg.Cache.SnapshotTTL != 24*time.Hour {
		t.Fatalf("default snapshot TTL wrong: %s", cfg.Cache.SnapshotTTL)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
source:
  baseURL: "http://metrics.internal:9090"
loop:
  pollInterval: 5s
  cycleCooldown: 1s
  decayAlpha: 0.5
logging:
  level: debug
  json: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Source.BaseURL != "http://metrics.internal:9090" {
		t.Fatalf("source base URL not applied: %s", cfg.Source.BaseURL)
	}
	if cfg.Loop.PollInterval != 5*time.Second || cfg.Loop.CycleCooldown != time.Second {
		t.Fatalf("loop overrides not applied: %+v", cfg.Loop)
	}
	if cfg.Loop.DecayAlpha != 0.5 {
		t.Fatalf("decay alpha not applied: %v", cfg.Loop.DecayAlpha)
	}
	if !cfg.Logging.JSON || cfg.Logging.Level != "debug" {
		t.Fatalf("logging overrides not applied: %+v", cfg.Logging)
	}
	// Untouched sections keep defaults.
	if cfg.Server.MetricsAddress != ":2112" {
		t.Fatalf("defaults lost on partial file: %s", cfg.Server.MetricsAddress)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HEAL_ENGINE_SOURCE_BASE_URL", "http://env.example:9999")
	t.Setenv("HEAL_ENGINE_POLL_INTERVAL", "2s")
	t.Setenv("HEAL_ENGINE_CACHE_ENABLED", "true")
	t.Setenv("HEAL_ENGINE_LOG_FORMAT", "json")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Source.BaseURL != "http://env.example:9999" {
		t.Fatalf("env base URL not applied: %s", cfg.Source.BaseURL)
	}
	if cfg.Loop.PollInterval != 2*time.Second {
		t.Fatalf("env poll interval not applied: %s", cfg.Loop.PollInterval)
	}
	if !cfg.Cache.Enabled || !cfg.Logging.JSON {
		t.Fatalf("env flags not applied: cache=%v json=%v", cfg.Cache.Enabled, cfg.Logging.JSON)
	}
}

func TestValidateRejectsBrokenLoopSettings(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{"zero poll interval", "loop:\n  pollInterval: 0s\n", "pollInterval"},
		{"alpha above one", "loop:\n  decayAlpha: 1.5\n", "decayAlpha"},
		{"negative retries", "loop:\n  maxIdempotentRetries: -1\n", "maxIdempotentRetries"},
		{"zero buffer", "loop:\n  bufferSize: 0\n", "bufferSize"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}
