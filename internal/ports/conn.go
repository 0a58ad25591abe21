package ports

import "context"

// Conn is a single database connection with autocommit disabled. Statements
// accumulate in an implicit transaction until Commit.
//
// Implementations report fatal failures (lost connection, authentication)
// as *domain.ConnectionError and anything else as a recoverable error.
type Conn interface {
	// Execute runs one statement and returns the number of affected rows.
	Execute(ctx context.Context, statement string) (int64, error)

	// Commit commits the statements executed since the last commit.
	Commit(ctx context.Context) error
}

// SessionConn is a Conn owned by a replay session, closed when the session ends.
type SessionConn interface {
	Conn
	Close() error
}
