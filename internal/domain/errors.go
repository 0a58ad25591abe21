package domain

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors returned by sqlreplay packages. Check them with errors.Is.
var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("sqlreplay: invalid configuration")
)

// LoadError reports an unreadable or malformed capture. No partial trace is
// returned alongside it.
type LoadError struct {
	Path string
	// Line is the 1-based line number of the malformed record, or 0 when the
	// failure is not tied to a record.
	Line int
	Err  error
}

func (e *LoadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("load %s:%d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ConnectionError reports a fatal connection failure: unreachable backend,
// authentication failure or a connection dropped mid-run.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// StatementError reports a single statement rejected by the backend. Replay
// continues past it.
type StatementError struct {
	Index     int
	Statement string
	Err       error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("statement %d: %v", e.Index, e.Err)
}

func (e *StatementError) Unwrap() error { return e.Err }

// IsFatal reports whether err must abort a replay run.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
