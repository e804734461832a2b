package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/jolt/internal/config"
)

func TestLoad(t *testing.T) {
	tempDir := t.TempDir()

	configContent := []byte(`
interval_ms = 5000
retention_days = 14
max_database_mb = 64
process_telemetry = true
log_level = "debug"
excluded_processes = ["kworker"]
`)
	configPath := filepath.Join(tempDir, "jolt.toml")
	err := os.WriteFile(configPath, configContent, 0o600)
	require.NoError(t, err)

	t.Setenv(config.EnvConfig, configPath)

	cfg, err := config.Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.IntervalMS, "Expected IntervalMS 5000")
	assert.Equal(t, 14, cfg.RetentionDays, "Expected RetentionDays 14")
	assert.Equal(t, 64, cfg.MaxDatabaseMB, "Expected MaxDatabaseMB 64")
	assert.True(t, cfg.ProcessTelemetry, "Expected ProcessTelemetry true")
	assert.Equal(t, "debug", cfg.LogLevel, "Expected LogLevel debug")
	assert.Equal(t, []string{"kworker"}, cfg.ExcludedProcesses)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(config.EnvConfig, filepath.Join(t.TempDir(), "missing.toml"))

	cfg, err := config.Load(nil)
	require.NoError(t, err, "Failed to load config")

	assert.Equal(t, config.DefaultIntervalMS, cfg.IntervalMS)
	assert.Equal(t, config.DefaultRetentionDays, cfg.RetentionDays)
	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.False(t, cfg.ProcessTelemetry)
}

func TestFlagsOverrideFile(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "jolt.toml")
	err := os.WriteFile(configPath, []byte("interval_ms = 5000\n"), 0o600)
	require.NoError(t, err)

	t.Setenv(config.EnvConfig, configPath)

	cfg, err := config.Load([]string{"--interval-ms", "250", "--log-level", "warn"})
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.IntervalMS, "Expected flag to win over file")
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "jolt.toml")
	err := os.WriteFile(configPath, []byte("This is not a valid TOML file\n"), 0o600)
	require.NoError(t, err)

	t.Setenv(config.EnvConfig, configPath)

	_, err = config.Load(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to read config file")
}

func TestIntervalFloor(t *testing.T) {
	t.Setenv(config.EnvConfig, filepath.Join(t.TempDir(), "missing.toml"))

	_, err := config.Load([]string{"--interval-ms", "50"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_interval")
}

func TestInvalidLogLevel(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "jolt.toml")
	err := os.WriteFile(configPath, []byte("log_level = \"loud\"\n"), 0o600)
	require.NoError(t, err)

	t.Setenv(config.EnvConfig, configPath)

	_, err = config.Load(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_log_level")
}

func TestPathsFollowXDG(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg-data")
	t.Setenv("XDG_RUNTIME_DIR", "/tmp/xdg-run")

	cfg := &config.Config{IntervalMS: 1000}
	assert.Equal(t, "/tmp/xdg-data/jolt/history.db", cfg.DatabasePath())
	assert.Equal(t, "/tmp/xdg-run/jolt/jolt.sock", cfg.SocketPath())
	assert.Equal(t, "/tmp/xdg-run/jolt/jolt.pid", cfg.PIDPath())
}
