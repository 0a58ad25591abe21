// Package sqlconn implements ports.Conn over database/sql drivers.
//
// A Conn pins exactly one connection of a single-connection sqlx pool, so a
// trace replays as one serialized client. Autocommit is disabled by
// construction: the first statement after a commit opens a transaction on
// the pinned connection and Commit ends it.
//
// On PostgreSQL a failed statement aborts the whole backend transaction.
// There each statement runs under a savepoint that is rolled back on
// failure, so a rejected statement costs only itself.
package sqlconn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/jmoiron/sqlx"

	// Registers the "pgx" driver.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/bft-labs/sqlreplay/internal/domain"
)

// Config describes how to reach the replay target.
type Config struct {
	// Driver is "pgx" (PostgreSQL) or "sqlite". "postgres" and "sqlite3"
	// are accepted as aliases.
	Driver string
	DSN    string

	// Timeout bounds connection establishment. Zero means no timeout.
	Timeout time.Duration

	// Savepoints wraps every statement in a savepoint. It is always on for
	// the pgx driver.
	Savepoints bool
}

const savepointName = "sqlreplay_stmt"

// DriverName maps a configured driver to its database/sql registration name.
func DriverName(driver string) string {
	switch strings.ToLower(driver) {
	case "", "pgx", "postgres", "postgresql":
		return "pgx"
	case "sqlite", "sqlite3":
		return "sqlite"
	default:
		return driver
	}
}

// Conn is one replay connection.
type Conn struct {
	db   *sqlx.DB
	conn *sqlx.Conn
	tx   *sqlx.Tx

	savepoints bool
}

// Open connects to the target and verifies the connection with a ping.
// Failures are returned as *domain.ConnectionError.
func Open(ctx context.Context, cfg Config) (*Conn, error) {
	db, err := sqlx.Open(DriverName(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, &domain.ConnectionError{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	cctx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	conn, err := db.Connx(cctx)
	if err != nil {
		_ = db.Close()
		return nil, &domain.ConnectionError{Op: "connect", Err: err}
	}
	if err := conn.PingContext(cctx); err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, &domain.ConnectionError{Op: "ping", Err: err}
	}
	return &Conn{
		db:         db,
		conn:       conn,
		savepoints: cfg.Savepoints || DriverName(cfg.Driver) == "pgx",
	}, nil
}

// Execute runs statement inside the current transaction, opening one if
// needed, and returns the number of affected rows. Query results are read
// to the end and report 0.
func (c *Conn) Execute(ctx context.Context, statement string) (int64, error) {
	if c.tx == nil {
		tx, err := c.conn.BeginTxx(ctx, nil)
		if err != nil {
			return 0, classify("begin", err)
		}
		c.tx = tx
	}

	if c.savepoints {
		if _, err := c.tx.ExecContext(ctx, "SAVEPOINT "+savepointName); err != nil {
			return 0, c.txErr("savepoint", err)
		}
	}

	n, err := c.run(ctx, statement)
	if err != nil {
		if c.savepoints && !errors.Is(err, sql.ErrTxDone) && !IsFatal(err) {
			if _, rerr := c.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepointName); rerr != nil {
				return 0, c.txErr("rollback to savepoint", errors.Join(err, rerr))
			}
			if _, rerr := c.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepointName); rerr != nil {
				return 0, c.txErr("release savepoint", errors.Join(err, rerr))
			}
		}
		return 0, c.txErr("exec", err)
	}

	if c.savepoints {
		if _, err := c.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepointName); err != nil {
			return 0, c.txErr("release savepoint", err)
		}
	}
	return n, nil
}

func (c *Conn) run(ctx context.Context, statement string) (int64, error) {
	if isQuery(statement) {
		rows, err := c.tx.QueryxContext(ctx, statement)
		if err != nil {
			return 0, err
		}
		defer rows.Close()
		for rows.Next() {
			if _, err := rows.SliceScan(); err != nil {
				return 0, err
			}
		}
		return 0, rows.Err()
	}

	res, err := c.tx.ExecContext(ctx, statement)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// txErr classifies err and forgets a transaction the driver already ended.
func (c *Conn) txErr(op string, err error) error {
	if errors.Is(err, sql.ErrTxDone) {
		c.tx = nil
	}
	return classify(op, err)
}

var queryKeywords = map[string]bool{
	"SELECT":  true,
	"WITH":    true,
	"VALUES":  true,
	"SHOW":    true,
	"EXPLAIN": true,
	"TABLE":   true,
}

// isQuery reports whether statement returns rows. Leading comments are
// skipped.
func isQuery(statement string) bool {
	s := strings.TrimSpace(statement)
	for {
		switch {
		case strings.HasPrefix(s, "/*"):
			end := strings.Index(s, "*/")
			if end < 0 {
				return false
			}
			s = strings.TrimSpace(s[end+2:])
		case strings.HasPrefix(s, "--"):
			end := strings.IndexByte(s, '\n')
			if end < 0 {
				return false
			}
			s = strings.TrimSpace(s[end+1:])
		default:
			word := strings.FieldsFunc(s, func(r rune) bool {
				return !unicode.IsLetter(r)
			})
			return len(word) > 0 && strings.HasPrefix(s, word[0]) && queryKeywords[strings.ToUpper(word[0])]
		}
	}
}

// Commit commits the open transaction. It is a no-op when no statement ran
// since the last commit.
func (c *Conn) Commit(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	if err := tx.Commit(); err != nil {
		return classify("commit", err)
	}
	return nil
}

// Close rolls back any uncommitted work and releases the connection.
func (c *Conn) Close() error {
	var errs []error
	if c.tx != nil {
		if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			errs = append(errs, fmt.Errorf("rollback: %w", err))
		}
		c.tx = nil
	}
	if err := c.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		errs = append(errs, err)
	}
	if err := c.db.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
