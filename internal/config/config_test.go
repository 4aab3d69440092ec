package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.UserID != "default" {
		t.Errorf("userId = %q", cfg.UserID)
	}
	if cfg.Model.Name != "gpt-4o" || cfg.Model.MaxRounds != 3 {
		t.Errorf("model defaults = %+v", cfg.Model)
	}
	if cfg.Gateway.Port != 18790 || cfg.Gateway.Host != "127.0.0.1" {
		t.Errorf("gateway defaults = %+v", cfg.Gateway)
	}
	if cfg.Heartbeat.Interval != "1h" {
		t.Errorf("heartbeat interval = %q", cfg.Heartbeat.Interval)
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	file := map[string]any{
		"userId": "alice",
		"model":  map[string]any{"name": "gpt-4o-mini"},
		"gateway": map[string]any{
			"port": 9999,
		},
	}
	data, _ := json.Marshal(file)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("VALET_CONFIG", path)
	t.Setenv("VALET_MODEL", "gpt-5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.UserID != "alice" {
		t.Errorf("userId = %q, want file value", cfg.UserID)
	}
	if cfg.Gateway.Port != 9999 {
		t.Errorf("port = %d, want file value", cfg.Gateway.Port)
	}
	if cfg.Model.Name != "gpt-5" {
		t.Errorf("model = %q, env should override file", cfg.Model.Name)
	}
	// Untouched fields keep their defaults.
	if cfg.Heartbeat.ActiveStart != "08:00" {
		t.Errorf("activeStart = %q", cfg.Heartbeat.ActiveStart)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("VALET_CONFIG", filepath.Join(t.TempDir(), "nope.json"))
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load without file: %v", err)
	}
	if cfg.UserID != "default" {
		t.Errorf("userId = %q", cfg.UserID)
	}
}

func TestValidateRejectsBadInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Heartbeat.Interval = "7m"
	if err := cfg.validate(); err == nil {
		t.Error("invalid interval accepted")
	}
	cfg.Heartbeat.Interval = ""
	if err := cfg.validate(); err != nil {
		t.Errorf("empty interval should default: %v", err)
	}
	if cfg.Heartbeat.Interval != "1h" {
		t.Errorf("interval = %q, want 1h", cfg.Heartbeat.Interval)
	}
}

func TestAPIKeyPrecedence(t *testing.T) {
	cfg := DefaultConfig()
	key, base := cfg.APIKey()
	if key != "" || base != "" {
		t.Errorf("empty config returned credential %q %q", key, base)
	}

	cfg.Providers.OpenAI.APIKey = "sk-openai"
	key, base = cfg.APIKey()
	if key != "sk-openai" {
		t.Errorf("key = %q", key)
	}
	if base != "https://api.openai.com/v1" {
		t.Errorf("base = %q", base)
	}

	cfg.Providers.OpenRouter.APIKey = "sk-or"
	key, base = cfg.APIKey()
	if key != "sk-or" {
		t.Errorf("key = %q, openrouter should win", key)
	}
	if base != "https://openrouter.ai/api/v1" {
		t.Errorf("base = %q", base)
	}
}
