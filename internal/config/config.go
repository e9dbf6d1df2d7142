// Package config loads flowctl's file-based configuration: provider API
// keys, the memory store backend and DSN, and default scheduler tunables.
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jbeck018/crewflow-go/scheduler"
)

// Config is flowctl's top-level configuration, loaded from a TOML file and
// overridden by environment variables.
type Config struct {
	Model     ModelConfig     `toml:"model"`
	Store     StoreConfig     `toml:"store"`
	Scheduler SchedulerConfig `toml:"scheduler"`
}

// ModelConfig names the default chat model and its provider API keys.
type ModelConfig struct {
	DefaultRef      string `toml:"default_ref"`
	AnthropicAPIKey string `toml:"anthropic_api_key"`
	OpenAIAPIKey    string `toml:"openai_api_key"`
	GoogleAPIKey    string `toml:"google_api_key"`
}

// StoreConfig selects the memory.Store backend and its connection string.
// Backend is one of "memory", "sqlite", "postgres", "mysql".
type StoreConfig struct {
	Backend string `toml:"backend"`
	DSN     string `toml:"dsn"`
}

// SchedulerConfig mirrors the tunables on scheduler.Config, expressed as
// plain TOML-friendly types (duration strings instead of time.Duration).
type SchedulerConfig struct {
	MaxConcurrent    int    `toml:"max_concurrent"`
	ExecutionTimeout string `toml:"execution_timeout"`
	TotalTimeout     string `toml:"total_timeout"`
	FailFast         bool   `toml:"fail_fast"`
	RetryMaxAttempts int    `toml:"retry_max_attempts"`
	RetryBaseDelay   string `toml:"retry_base_delay"`
}

// Default returns a Config with every field set to flowctl's built-in
// defaults, before any file or environment override is applied.
func Default() Config {
	return Config{
		Model: ModelConfig{DefaultRef: "anthropic:claude-3-5-sonnet-latest"},
		Store: StoreConfig{Backend: "memory"},
		Scheduler: SchedulerConfig{
			RetryMaxAttempts: 3,
			RetryBaseDelay:   "200ms",
		},
	}
}

// Load reads configuration the same way the rest of this module's ambient
// stack resolves precedence: defaults, then the TOML file at path (missing
// file is not an error), then environment variables, which win.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, err
			}
		} else if _, err := toml.Decode(string(data), &cfg); err != nil {
			return cfg, err
		}
	}

	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Model.AnthropicAPIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Model.OpenAIAPIKey = v
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		cfg.Model.GoogleAPIKey = v
	}
	if v := os.Getenv("FLOWCTL_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("FLOWCTL_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}

	return cfg, nil
}

// SchedulerOptions converts the TOML-friendly fields into a scheduler.Config,
// parsing duration strings. Fields left unset stay at their zero values,
// which scheduler.Config and scheduler.RetryPolicy document as defaults.
func (c Config) SchedulerOptions() (scheduler.Config, error) {
	out := scheduler.Config{
		MaxConcurrent: c.Scheduler.MaxConcurrent,
		FailFast:      c.Scheduler.FailFast,
		Retry: scheduler.RetryPolicy{
			MaxAttempts: c.Scheduler.RetryMaxAttempts,
		},
	}

	if c.Scheduler.ExecutionTimeout != "" {
		d, err := time.ParseDuration(c.Scheduler.ExecutionTimeout)
		if err != nil {
			return out, err
		}
		out.ExecutionTimeout = d
	}
	if c.Scheduler.TotalTimeout != "" {
		d, err := time.ParseDuration(c.Scheduler.TotalTimeout)
		if err != nil {
			return out, err
		}
		out.TotalTimeout = d
	}
	if c.Scheduler.RetryBaseDelay != "" {
		d, err := time.ParseDuration(c.Scheduler.RetryBaseDelay)
		if err != nil {
			return out, err
		}
		out.Retry.BaseDelay = d
	}

	return out, nil
}
