package config

import (
	"os"
	"path/filepath"
)

// DataDir returns the per-user data directory for the history database,
// honouring XDG_DATA_HOME.
func DataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "jolt")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "jolt")
	}
	return filepath.Join(home, ".local", "share", "jolt")
}

// ConfigDir returns the per-user configuration directory, honouring
// XDG_CONFIG_HOME.
func ConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "jolt")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "jolt")
	}
	return filepath.Join(home, ".config", "jolt")
}

// RuntimeDir returns the directory for the socket and PID file,
// honouring XDG_RUNTIME_DIR.
func RuntimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "jolt")
	}
	return filepath.Join(os.TempDir(), "jolt")
}
