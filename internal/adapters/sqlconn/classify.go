package sqlconn

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/bft-labs/sqlreplay/internal/domain"
)

// classify wraps fatal errors in *domain.ConnectionError and returns
// everything else unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsFatal(err) {
		return &domain.ConnectionError{Op: op, Err: err}
	}
	return err
}

// IsFatal reports whether err means the connection can no longer be used.
func IsFatal(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fatalSQLState(pgErr.Code)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_IOERR, sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_NOTADB:
			return true
		}
	}
	return false
}

// fatalSQLState reports whether a PostgreSQL SQLSTATE ends the session:
// connection exceptions (08), authorization failures (28), unknown
// database (3D000) and server shutdown (57P01-57P03).
func fatalSQLState(code string) bool {
	switch {
	case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "28"):
		return true
	case code == "3D000", code == "57P01", code == "57P02", code == "57P03":
		return true
	default:
		return false
	}
}
