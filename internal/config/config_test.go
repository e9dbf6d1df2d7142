package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.Equal(t, "anthropic:claude-3-5-sonnet-latest", cfg.Model.DefaultRef)
	require.Equal(t, "memory", cfg.Store.Backend)
	require.Equal(t, 3, cfg.Scheduler.RetryMaxAttempts)
}

func TestLoad_FromTOMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowctl.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[model]
default_ref = "openai:gpt-4o"

[store]
backend = "sqlite"
dsn = "flowctl.db"

[scheduler]
max_concurrent = 4
fail_fast = true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "openai:gpt-4o", cfg.Model.DefaultRef)
	require.Equal(t, "sqlite", cfg.Store.Backend)
	require.Equal(t, "flowctl.db", cfg.Store.DSN)
	require.Equal(t, 4, cfg.Scheduler.MaxConcurrent)
	require.True(t, cfg.Scheduler.FailFast)
	// defaults not present in the file are preserved
	require.Equal(t, 3, cfg.Scheduler.RetryMaxAttempts)
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-anthropic-key")
	t.Setenv("FLOWCTL_STORE_BACKEND", "postgres")
	t.Setenv("FLOWCTL_STORE_DSN", "postgres://env-dsn")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "env-anthropic-key", cfg.Model.AnthropicAPIKey)
	require.Equal(t, "postgres", cfg.Store.Backend)
	require.Equal(t, "postgres://env-dsn", cfg.Store.DSN)
}

func TestSchedulerOptions_ParsesDurations(t *testing.T) {
	cfg := Default()
	cfg.Scheduler.ExecutionTimeout = "30s"
	cfg.Scheduler.TotalTimeout = "5m"
	cfg.Scheduler.RetryBaseDelay = "250ms"

	opts, err := cfg.SchedulerOptions()
	require.NoError(t, err)
	require.Equal(t, 3, opts.Retry.MaxAttempts)
	require.Equal(t, 30*time.Second, opts.ExecutionTimeout)
	require.Equal(t, 5*time.Minute, opts.TotalTimeout)
	require.Equal(t, 250*time.Millisecond, opts.Retry.BaseDelay)
}

func TestSchedulerOptions_RejectsBadDuration(t *testing.T) {
	cfg := Default()
	cfg.Scheduler.ExecutionTimeout = "not-a-duration"

	_, err := cfg.SchedulerOptions()
	require.Error(t, err)
}
