package cliconfig

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bft-labs/sqlreplay/internal/domain"
)

// Subcommands with their own validation rules.
const (
	CommandRun   = "run"
	CommandWatch = "watch"
)

// Config holds CLI configuration for sqlreplay.
type Config struct {
	Driver string
	DSN    string

	Traces []string
	Output string

	TimeUnit        string
	MaxTransactions int

	ConnectAttempts int
	ConnectTimeout  time.Duration
	Reconnects      int

	MigrationsDir string

	Category      string
	TemplatesOut  string
	TagStatements bool
	Progress      bool

	LogLevel string

	Upload      string
	S3Endpoint  string
	S3Region    string
	S3AccessKey string
	S3SecretKey string

	WatchDir string
	OutDir   string

	// Replayed captures are trimmed from WatchDir once it exceeds
	// RetainHighMB, down to RetainLowMB. Zero keeps everything.
	RetainHighMB int
	RetainLowMB  int
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Driver:          "pgx",
		TimeUnit:        "us",
		ConnectAttempts: 10,
		ConnectTimeout:  5 * time.Second,
		Category:        "none",
		LogLevel:        "info",
		S3Region:        "us-east-1",
	}
}

// Validate checks the configuration for the given subcommand and
// normalizes values.
func (c *Config) Validate(command string) error {
	c.Driver = strings.ToLower(strings.TrimSpace(c.Driver))
	c.Category = strings.ToLower(strings.TrimSpace(c.Category))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))

	if c.Driver == "" {
		c.Driver = "pgx"
	}
	if c.DSN == "" {
		return invalid("dsn is required")
	}
	if _, err := ParseTimeUnit(c.TimeUnit); err != nil {
		return err
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return invalid("log level %q: %v", c.LogLevel, err)
	}
	switch c.Category {
	case "", "none", "readwrite", "template":
	default:
		return invalid("category must be none, readwrite or template, got %q", c.Category)
	}
	if c.ConnectAttempts <= 0 {
		return invalid("connect attempts must be positive")
	}
	if c.MaxTransactions < 0 || c.Reconnects < 0 {
		return invalid("max transactions and reconnects must not be negative")
	}
	if c.RetainHighMB < 0 || c.RetainLowMB < 0 || c.RetainLowMB > c.RetainHighMB {
		return invalid("retain-low-mb must be between 0 and retain-high-mb")
	}
	if c.Upload != "" && !strings.HasPrefix(c.Upload, "s3://") {
		return invalid("upload must be an s3:// reference, got %q", c.Upload)
	}
	if c.TemplatesOut != "" && c.Category != "template" {
		return invalid("templates-out requires category template")
	}

	switch command {
	case CommandRun:
		if len(c.Traces) == 0 {
			return invalid("at least one trace is required")
		}
		if c.Output == "" {
			return invalid("output is required")
		}
	case CommandWatch:
		if c.WatchDir == "" {
			return invalid("watch-dir is required")
		}
		if c.OutDir == "" {
			c.OutDir = c.WatchDir
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// ParseTimeUnit maps a capture time unit name to its duration.
func ParseTimeUnit(s string) (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ns":
		return time.Nanosecond, nil
	case "", "us", "µs":
		return time.Microsecond, nil
	case "ms":
		return time.Millisecond, nil
	case "s":
		return time.Second, nil
	default:
		return 0, invalid("time unit must be ns, us, ms or s, got %q", s)
	}
}

// Redacted returns a copy safe to log: the DSN password and S3 secret are
// masked.
func (c Config) Redacted() Config {
	if c.S3SecretKey != "" {
		c.S3SecretKey = "*****"
	}
	c.DSN = redactDSN(c.DSN)
	return c
}

// dsnPassword matches password=value in keyword/value DSNs, with the value
// either single-quoted or running to the next space or '&'. URL query
// parameters are covered too.
var dsnPassword = regexp.MustCompile(`(?i)(\bpassword\s*=\s*)('(?:[^'\\]|\\.)*'|[^\s&]*)`)

func redactDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "*****")
			dsn = u.String()
		}
	}
	return dsnPassword.ReplaceAllString(dsn, "${1}*****")
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setStrings sets a list value if not empty and flag not changed.
func (s *configSetter) setStrings(flag string, value []string, dst *[]string) {
	if len(value) == 0 || s.changed[flag] {
		return
	}
	*dst = append([]string(nil), value...)
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setListFromString splits a comma-separated list and sets the destination.
// Used for environment variables that come as strings.
func (s *configSetter) setListFromString(flag, value string, dst *[]string) {
	if value == "" || s.changed[flag] {
		return
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
// Used for environment variables that come as strings.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
