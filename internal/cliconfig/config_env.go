package cliconfig

import "os"

// ApplyEnvConfig applies configuration from environment variables (SQLREPLAY_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("driver", os.Getenv("SQLREPLAY_DRIVER"), &cfg.Driver)
	s.setString("dsn", os.Getenv("SQLREPLAY_DSN"), &cfg.DSN)
	s.setListFromString("trace", os.Getenv("SQLREPLAY_TRACES"), &cfg.Traces)
	s.setString("output", os.Getenv("SQLREPLAY_OUTPUT"), &cfg.Output)
	s.setString("time-unit", os.Getenv("SQLREPLAY_TIME_UNIT"), &cfg.TimeUnit)
	s.setString("migrations", os.Getenv("SQLREPLAY_MIGRATIONS_DIR"), &cfg.MigrationsDir)
	s.setString("category", os.Getenv("SQLREPLAY_CATEGORY"), &cfg.Category)
	s.setString("templates-out", os.Getenv("SQLREPLAY_TEMPLATES_OUT"), &cfg.TemplatesOut)
	s.setString("log-level", os.Getenv("SQLREPLAY_LOG_LEVEL"), &cfg.LogLevel)
	s.setString("upload", os.Getenv("SQLREPLAY_UPLOAD"), &cfg.Upload)
	s.setString("s3-endpoint", os.Getenv("SQLREPLAY_S3_ENDPOINT"), &cfg.S3Endpoint)
	s.setString("s3-region", os.Getenv("SQLREPLAY_S3_REGION"), &cfg.S3Region)
	s.setString("s3-access-key", os.Getenv("SQLREPLAY_S3_ACCESS_KEY"), &cfg.S3AccessKey)
	s.setString("s3-secret-key", os.Getenv("SQLREPLAY_S3_SECRET_KEY"), &cfg.S3SecretKey)
	s.setString("watch-dir", os.Getenv("SQLREPLAY_WATCH_DIR"), &cfg.WatchDir)
	s.setString("out-dir", os.Getenv("SQLREPLAY_OUT_DIR"), &cfg.OutDir)

	if err := s.setDuration("connect-timeout", os.Getenv("SQLREPLAY_CONNECT_TIMEOUT"), &cfg.ConnectTimeout); err != nil {
		return err
	}

	if err := s.setIntFromString("max-transactions", os.Getenv("SQLREPLAY_MAX_TRANSACTIONS"), &cfg.MaxTransactions); err != nil {
		return err
	}
	if err := s.setIntFromString("connect-attempts", os.Getenv("SQLREPLAY_CONNECT_ATTEMPTS"), &cfg.ConnectAttempts); err != nil {
		return err
	}
	if err := s.setIntFromString("reconnects", os.Getenv("SQLREPLAY_RECONNECTS"), &cfg.Reconnects); err != nil {
		return err
	}
	if err := s.setIntFromString("retain-high-mb", os.Getenv("SQLREPLAY_RETAIN_HIGH_MB"), &cfg.RetainHighMB); err != nil {
		return err
	}
	if err := s.setIntFromString("retain-low-mb", os.Getenv("SQLREPLAY_RETAIN_LOW_MB"), &cfg.RetainLowMB); err != nil {
		return err
	}

	s.setBoolFromString("tag-statements", os.Getenv("SQLREPLAY_TAG_STATEMENTS"), &cfg.TagStatements)
	s.setBoolFromString("progress", os.Getenv("SQLREPLAY_PROGRESS"), &cfg.Progress)

	return nil
}
