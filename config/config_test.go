package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultSettingsValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default settings should validate: %v", err)
	}
	if cfg.Cache.Generation != DefaultGeneration {
		t.Fatalf("expected default generation %q, got %q", DefaultGeneration, cfg.Cache.Generation)
	}
	if len(cfg.Cache.Precache) != 5 {
		t.Fatalf("expected 5 precache manifest entries, got %d", len(cfg.Cache.Precache))
	}
	if cfg.Router.APIPrefix != APIPrefix {
		t.Fatalf("expected reserved API prefix, got %q", cfg.Router.APIPrefix)
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, loaded, err := LoadOrDefault(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("missing file should fall back to defaults: %v", err)
	}
	if loaded {
		t.Fatalf("expected loaded=false for missing file")
	}
	if cfg.Origin.BaseURL != "https://claw.pizza" {
		t.Fatalf("expected default origin, got %q", cfg.Origin.BaseURL)
	}
}

func TestLoadAppliesOverridesAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	body := strings.Join([]string{
		"environment: dev",
		"origin:",
		"  baseURL: http://localhost:3000/",
		"cache:",
		"  generation: claw-pizza-v2",
		"router:",
		"  backendHosts: [API.Claw.Pizza]",
		"replay:",
		"  maxAttempts: 3",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Origin.BaseURL != "http://localhost:3000" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Origin.BaseURL)
	}
	if cfg.Cache.Generation != "claw-pizza-v2" {
		t.Fatalf("expected overridden generation, got %q", cfg.Cache.Generation)
	}
	if got := cfg.Router.BackendHosts[0]; got != "api.claw.pizza" {
		t.Fatalf("expected lowercased backend host, got %q", got)
	}
	if cfg.Replay.MaxAttempts != 3 {
		t.Fatalf("expected replay override, got %d", cfg.Replay.MaxAttempts)
	}
	if cfg.Origin.HTTPTimeout != 10*time.Second {
		t.Fatalf("expected default origin timeout, got %s", cfg.Origin.HTTPTimeout)
	}
}

func TestValidateRejectsForeignGenerationTag(t *testing.T) {
	cfg := Default()
	cfg.Cache.Generation = "other-app-v1"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected generation prefix validation failure")
	}
}

func TestDatabaseEnvOverride(t *testing.T) {
	t.Setenv(DatabaseEnvVar, "postgresql://db.internal:5432/agent")
	cfg := Default()
	if cfg.Database.DSN != "postgresql://db.internal:5432/agent" {
		t.Fatalf("expected DSN from environment, got %q", cfg.Database.DSN)
	}
}
