package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	Driver          string   `toml:"driver"`
	DSN             string   `toml:"dsn"`
	Traces          []string `toml:"traces"`
	Output          string   `toml:"output"`
	TimeUnit        string   `toml:"time_unit"`
	MaxTransactions int      `toml:"max_transactions"`
	ConnectAttempts int      `toml:"connect_attempts"`
	ConnectTimeout  string   `toml:"connect_timeout"`
	Reconnects      int      `toml:"reconnects"`
	MigrationsDir   string   `toml:"migrations_dir"`
	Category        string   `toml:"category"`
	TemplatesOut    string   `toml:"templates_out"`
	TagStatements   *bool    `toml:"tag_statements"`
	Progress        *bool    `toml:"progress"`
	LogLevel        string   `toml:"log_level"`
	Upload          string   `toml:"upload"`
	S3Endpoint      string   `toml:"s3_endpoint"`
	S3Region        string   `toml:"s3_region"`
	S3AccessKey     string   `toml:"s3_access_key"`
	S3SecretKey     string   `toml:"s3_secret_key"`
	WatchDir        string   `toml:"watch_dir"`
	OutDir          string   `toml:"out_dir"`
	RetainHighMB    int      `toml:"retain_high_mb"`
	RetainLowMB     int      `toml:"retain_low_mb"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.sqlreplay/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".sqlreplay", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("driver", fc.Driver, &cfg.Driver)
	s.setString("dsn", fc.DSN, &cfg.DSN)
	s.setStrings("trace", fc.Traces, &cfg.Traces)
	s.setString("output", fc.Output, &cfg.Output)
	s.setString("time-unit", fc.TimeUnit, &cfg.TimeUnit)
	s.setString("migrations", fc.MigrationsDir, &cfg.MigrationsDir)
	s.setString("category", fc.Category, &cfg.Category)
	s.setString("templates-out", fc.TemplatesOut, &cfg.TemplatesOut)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("upload", fc.Upload, &cfg.Upload)
	s.setString("s3-endpoint", fc.S3Endpoint, &cfg.S3Endpoint)
	s.setString("s3-region", fc.S3Region, &cfg.S3Region)
	s.setString("s3-access-key", fc.S3AccessKey, &cfg.S3AccessKey)
	s.setString("s3-secret-key", fc.S3SecretKey, &cfg.S3SecretKey)
	s.setString("watch-dir", fc.WatchDir, &cfg.WatchDir)
	s.setString("out-dir", fc.OutDir, &cfg.OutDir)

	if err := s.setDuration("connect-timeout", fc.ConnectTimeout, &cfg.ConnectTimeout); err != nil {
		return err
	}

	s.setInt("max-transactions", fc.MaxTransactions, &cfg.MaxTransactions)
	s.setInt("connect-attempts", fc.ConnectAttempts, &cfg.ConnectAttempts)
	s.setInt("reconnects", fc.Reconnects, &cfg.Reconnects)
	s.setInt("retain-high-mb", fc.RetainHighMB, &cfg.RetainHighMB)
	s.setInt("retain-low-mb", fc.RetainLowMB, &cfg.RetainLowMB)

	s.setBool("tag-statements", fc.TagStatements, &cfg.TagStatements)
	s.setBool("progress", fc.Progress, &cfg.Progress)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
