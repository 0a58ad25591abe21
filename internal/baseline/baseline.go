// Package baseline restores the target database to a known schema and data
// set before a replay, so that repeated runs start from the same state.
//
// The baseline is a golang-migrate migrations directory. Reset migrates all
// the way down and back up again.
package baseline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/bft-labs/sqlreplay/internal/adapters/sqlconn"
	"github.com/bft-labs/sqlreplay/pkg/log"
)

// Reset runs every down migration in dir against the database, then every up
// migration. A database that has never been migrated is only migrated up.
func Reset(ctx context.Context, driver, dsn, dir string, logger log.Logger) error {
	if logger == nil {
		logger = log.NewNoopLogger()
	}

	sourceURL, err := SourceURL(dir)
	if err != nil {
		return err
	}
	databaseURL, err := DatabaseURL(driver, dsn)
	if err != nil {
		return err
	}

	m, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return fmt.Errorf("migrate new: %w", err)
	}
	defer m.Close()
	m.Log = migrateLogger{logger: logger}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			m.GracefulStop <- true
		case <-done:
		}
	}()

	if err := down(m, logger); err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	version, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("migrate version: %w", err)
	}
	logger.Info("baseline restored",
		log.String("migrations", dir),
		log.Any("version", version),
	)
	return nil
}

// down migrates to the empty schema. A dirty version left by an interrupted
// run is forced clean first.
func down(m *migrate.Migrate, logger log.Logger) error {
	err := m.Down()
	var dirty migrate.ErrDirty
	if errors.As(err, &dirty) {
		logger.Warn("forcing dirty migration version", log.Int("version", dirty.Version))
		if ferr := m.Force(dirty.Version); ferr != nil {
			return fmt.Errorf("migrate force %d: %w", dirty.Version, ferr)
		}
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// SourceURL turns a migrations directory into a file:// source URL.
func SourceURL(dir string) (string, error) {
	if dir == "" {
		return "", errors.New("baseline: migrations dir is empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// DatabaseURL rewrites a replay DSN into the URL form golang-migrate expects.
func DatabaseURL(driver, dsn string) (string, error) {
	switch sqlconn.DriverName(driver) {
	case "pgx":
		u, err := url.Parse(dsn)
		if err != nil || u.Scheme == "" {
			return "", fmt.Errorf("baseline: postgres dsn must be a URL: %q", dsn)
		}
		switch u.Scheme {
		case "postgres", "postgresql", "pgx", "pgx5":
			u.Scheme = "pgx5"
		default:
			return "", fmt.Errorf("baseline: unsupported postgres scheme %q", u.Scheme)
		}
		return u.String(), nil
	case "sqlite":
		path := strings.TrimPrefix(dsn, "file:")
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", err
		}
		return "sqlite://" + filepath.ToSlash(abs), nil
	default:
		return "", fmt.Errorf("baseline: unsupported driver %q", driver)
	}
}

// migrateLogger routes golang-migrate output to the debug log.
type migrateLogger struct {
	logger log.Logger
}

func (l migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l migrateLogger) Verbose() bool { return false }
