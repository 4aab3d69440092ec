package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".valet"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("VALET_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

// DefaultConfig returns a config populated with defaults.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		UserID: "default",
		Paths: PathsConfig{
			DataDir: filepath.Join(home, ConfigDir),
		},
		Model: ModelConfig{
			Name:        "gpt-4o",
			MaxTokens:   4096,
			Temperature: 0.7,
			MaxRounds:   3,
		},
		Providers: ProvidersConfig{
			OpenAI: ProviderConfig{APIBase: "https://api.openai.com/v1"},
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18790,
		},
		Heartbeat: HeartbeatConfig{
			Enabled:     false,
			Interval:    "1h",
			Prompt:      "Check in with the user: anything pending, upcoming, or worth a nudge?",
			ActiveStart: "08:00",
			ActiveEnd:   "22:00",
			Timezone:    "UTC",
		},
		Memory: MemoryConfig{
			FlushIntervalSec: 60,
		},
		Subagents: SubagentsConfig{
			MaxConcurrent: 3,
			MaxSteps:      15,
		},
		Audit: AuditConfig{
			Topic: "valet.audit",
		},
	}
}

// Load reads the config file (if present) and applies env overrides with the
// VALET prefix. A missing file is not an error; defaults apply.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := envconfig.Process("VALET", cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return fmt.Errorf("userId must not be empty")
	}
	if c.Model.MaxRounds <= 0 {
		c.Model.MaxRounds = 3
	}
	if c.Subagents.MaxConcurrent <= 0 {
		c.Subagents.MaxConcurrent = 3
	}
	if c.Subagents.MaxSteps <= 0 {
		c.Subagents.MaxSteps = 15
	}
	if c.Memory.FlushIntervalSec <= 0 {
		c.Memory.FlushIntervalSec = 60
	}
	switch c.Heartbeat.Interval {
	case "15m", "30m", "1h", "4h", "12h":
	case "":
		c.Heartbeat.Interval = "1h"
	default:
		return fmt.Errorf("heartbeat interval must be one of 15m/30m/1h/4h/12h, got %q", c.Heartbeat.Interval)
	}
	return nil
}

// APIKey returns the first usable model credential, preferring OpenRouter.
func (c *Config) APIKey() (key, base string) {
	if k := strings.TrimSpace(c.Providers.OpenRouter.APIKey); k != "" {
		base = strings.TrimSpace(c.Providers.OpenRouter.APIBase)
		if base == "" {
			base = "https://openrouter.ai/api/v1"
		}
		return k, base
	}
	if k := strings.TrimSpace(c.Providers.OpenAI.APIKey); k != "" {
		base = strings.TrimSpace(c.Providers.OpenAI.APIBase)
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		return k, base
	}
	return "", ""
}
