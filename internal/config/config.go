// Package config loads and validates the plansync configuration file. The
// loaded value is passed explicitly to every component; there is no
// process-wide mutable configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fernhill/plansync/internal/errors"
)

// DefaultPath is where the config file is looked up relative to the
// working directory
const DefaultPath = ".plansync/config.yaml"

// Config is the full plansync configuration
type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	Sync     SyncConfig     `yaml:"sync"`
	Log      LogConfig      `yaml:"log,omitempty"`
}

// ProviderConfig selects and configures the tracker backend
type ProviderConfig struct {
	// Kind is the provider implementation: "linear" or "memory"
	Kind string `yaml:"kind"`

	// TeamKey is the tracker team or project the items live in
	TeamKey string `yaml:"team_key,omitempty"`

	// APIKeyEnv names the environment variable holding the API key. The
	// key itself never lives in the config file.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// Endpoint overrides the provider API endpoint, mainly for tests
	Endpoint string `yaml:"endpoint,omitempty"`
}

// SyncConfig tunes the reconciliation run
type SyncConfig struct {
	// PlanPath is the plan file synced by default
	PlanPath string `yaml:"plan,omitempty"`

	// MapPath is where the sync map is persisted
	MapPath string `yaml:"map,omitempty"`

	// Label marks every item this tool owns
	Label string `yaml:"label,omitempty"`

	// MaxConcurrent bounds in-flight remote calls
	MaxConcurrent int `yaml:"max_concurrent,omitempty"`

	// Mode is the reference-resolution mode: "strict" or "partial"
	Mode string `yaml:"mode,omitempty"`

	// MaxRetries bounds transport-level retries per request
	MaxRetries int `yaml:"max_retries,omitempty"`

	// TimeoutSeconds is the per-request HTTP timeout
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
}

// LogConfig tunes logging output
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Kind:      "linear",
			APIKeyEnv: "LINEAR_API_KEY",
		},
		Sync: SyncConfig{
			PlanPath:       "plan.yaml",
			MapPath:        ".plansync/syncmap.json",
			Label:          "plansync",
			MaxConcurrent:  4,
			Mode:           "strict",
			MaxRetries:     5,
			TimeoutSeconds: 60,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a config file and applies defaults to unset fields. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Wrap(errors.ErrCodeFileReadFailed,
			fmt.Sprintf("failed to read config file: %s", path), err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.NewFileUnmarshalError(path, "YAML", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	defaults := Default()
	if c.Provider.Kind == "" {
		c.Provider.Kind = defaults.Provider.Kind
	}
	if c.Provider.APIKeyEnv == "" && c.Provider.Kind == "linear" {
		c.Provider.APIKeyEnv = defaults.Provider.APIKeyEnv
	}
	if c.Sync.PlanPath == "" {
		c.Sync.PlanPath = defaults.Sync.PlanPath
	}
	if c.Sync.MapPath == "" {
		c.Sync.MapPath = defaults.Sync.MapPath
	}
	if c.Sync.Label == "" {
		c.Sync.Label = defaults.Sync.Label
	}
	if c.Sync.MaxConcurrent <= 0 {
		c.Sync.MaxConcurrent = defaults.Sync.MaxConcurrent
	}
	if c.Sync.Mode == "" {
		c.Sync.Mode = defaults.Sync.Mode
	}
	if c.Sync.MaxRetries <= 0 {
		c.Sync.MaxRetries = defaults.Sync.MaxRetries
	}
	if c.Sync.TimeoutSeconds <= 0 {
		c.Sync.TimeoutSeconds = defaults.Sync.TimeoutSeconds
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	switch c.Provider.Kind {
	case "linear", "memory":
	default:
		return errors.New(errors.ErrCodeProviderConfig,
			fmt.Sprintf("unknown provider kind %q, want linear or memory", c.Provider.Kind))
	}

	if c.Provider.Kind == "linear" && c.Provider.TeamKey == "" {
		return errors.New(errors.ErrCodeProviderConfig,
			"linear provider requires provider.team_key")
	}

	switch strings.ToLower(c.Sync.Mode) {
	case "strict", "partial":
	default:
		return errors.New(errors.ErrCodeProviderConfig,
			fmt.Sprintf("unknown sync mode %q, want strict or partial", c.Sync.Mode))
	}

	return nil
}

// APIKey resolves the provider API key from the configured environment
// variable
func (c *Config) APIKey() string {
	if c.Provider.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Provider.APIKeyEnv)
}

// Strict reports whether strict reference resolution is configured
func (c *Config) Strict() bool {
	return strings.ToLower(c.Sync.Mode) != "partial"
}
