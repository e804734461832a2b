package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"codeberg.org/mutker/jolt/internal/errors"
)

const (
	DefaultLogLevel       = "info"
	DefaultIntervalMS     = 1000
	MinIntervalMS         = 100
	DefaultRetentionDays  = 30
	DefaultMaxDatabaseMB  = 256
	DefaultTopProcessRank = 10

	// EnvConfig points at an explicit config file, used by tests.
	EnvConfig = "JOLT_CONFIG"

	configName = "jolt"
	configType = "toml"
)

// Config is the daemon configuration, constructed once at startup and
// passed explicitly. There is no global state.
type Config struct {
	IntervalMS        int      `mapstructure:"interval_ms"`
	RetentionDays     int      `mapstructure:"retention_days"`
	MaxDatabaseMB     int      `mapstructure:"max_database_mb"`
	ProcessTelemetry  bool     `mapstructure:"process_telemetry"`
	ExcludedProcesses []string `mapstructure:"excluded_processes"`
	LogLevel          string   `mapstructure:"log_level"`
	Foreground        bool     `mapstructure:"foreground"`
	DataDir           string   `mapstructure:"data_dir"`
	RuntimeDir        string   `mapstructure:"runtime_dir"`
}

// Load reads the configuration file, merges command-line flags over it
// and validates the result. args are the flag arguments after the
// subcommand has been stripped.
func Load(args []string) (*Config, error) {
	errFactory := errors.New()
	cfg := defaults()

	flags := pflag.NewFlagSet("jolt", pflag.ContinueOnError)
	flags.Int("interval-ms", cfg.IntervalMS, "Sampling interval in milliseconds")
	flags.Int("retention-days", cfg.RetentionDays, "Days of raw samples to keep")
	flags.Int("max-database-mb", cfg.MaxDatabaseMB, "Database size soft limit")
	flags.Bool("process-telemetry", cfg.ProcessTelemetry, "Record per-process energy rankings")
	flags.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flags.Bool("foreground", cfg.Foreground, "No effect; the daemon never detaches")
	if err := flags.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidArgument, err)
	}

	v := viper.New()
	v.SetConfigType(configType)
	if path := os.Getenv(EnvConfig); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(ConfigDir())
		v.AddConfigPath("/etc/jolt")
	}

	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !os.IsNotExist(underlying(err)) {
			return nil, errFactory.WithMessage(errors.ErrReadConfig,
				"Failed to read config file: "+err.Error())
		}
	}

	// Flags set on the command line win over the config file.
	flags.Visit(func(f *pflag.Flag) {
		v.Set(strings.ReplaceAll(f.Name, "-", "_"), f.Value.String())
	})

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		IntervalMS:    DefaultIntervalMS,
		RetentionDays: DefaultRetentionDays,
		MaxDatabaseMB: DefaultMaxDatabaseMB,
		LogLevel:      DefaultLogLevel,
	}
}

// Validate checks invariants the rest of the stack relies on.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.IntervalMS < MinIntervalMS {
		return errFactory.WithData(errors.ErrInvalidInterval, c.IntervalMS)
	}
	if c.RetentionDays < 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "retention_days must be >= 0")
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return err
	}

	return nil
}

// Interval returns the sampling interval as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalMS) * time.Millisecond
}

// DatabasePath returns the location of the history database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.dataDir(), "history.db")
}

// SocketPath returns the location of the IPC socket.
func (c *Config) SocketPath() string {
	return filepath.Join(c.runtimeDir(), "jolt.sock")
}

// PIDPath returns the location of the daemon PID file.
func (c *Config) PIDPath() string {
	return filepath.Join(c.runtimeDir(), "jolt.pid")
}

func (c *Config) dataDir() string {
	if c.DataDir != "" {
		return c.DataDir
	}
	return DataDir()
}

func (c *Config) runtimeDir() string {
	if c.RuntimeDir != "" {
		return c.RuntimeDir
	}
	return RuntimeDir()
}

func parseLogLevel(level string) (string, error) {
	switch strings.ToLower(level) {
	case "", "debug", "info", "warn", "warning", "error", "fatal":
		return strings.ToLower(level), nil
	default:
		return "", errors.New().WithData(errors.ErrInvalidLogLevel, level)
	}
}

func underlying(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
