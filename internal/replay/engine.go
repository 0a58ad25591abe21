// Package replay re-executes a loaded trace against one database connection,
// reproducing the captured think times and measuring transaction latency.
//
// An Engine drives a single logical client: entries run strictly in order on
// one connection. Concurrent replays use one Engine per connection.
package replay

import (
	"context"
	"fmt"

	"github.com/bft-labs/sqlreplay/internal/domain"
	"github.com/bft-labs/sqlreplay/internal/ports"
	"github.com/bft-labs/sqlreplay/pkg/log"
)

// State is the transaction state of a replay session.
type State int

const (
	StateIdle State = iota
	StateInTransaction
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateInTransaction:
		return "InTransaction"
	default:
		return "Unknown"
	}
}

// Result is the outcome of one replay run. It is returned even when the run
// stops on a fatal error, holding everything completed up to that point.
type Result struct {
	Samples []domain.LatencySample

	// Processed counts entries handled, including failed statements.
	Processed int

	StatementErrors     int
	AbortedTransactions int

	// Anomalies counts COMMIT tokens seen while idle and BEGIN tokens seen
	// inside an open transaction.
	Anomalies int

	// FailedAt is the index of the entry that stopped the run, or -1.
	FailedAt int

	// ResumeAt is the index following the last successful COMMIT: the
	// first entry whose effects are not durable on the backend.
	ResumeAt int
}

// Engine replays traces on one connection.
type Engine struct {
	conn          ports.Conn
	clock         Clock
	observer      ports.Observer
	logger        log.Logger
	categorize    Categorizer
	tagStatements bool
}

// New creates an engine bound to conn. The caller owns conn and must have
// disabled autocommit on it.
func New(conn ports.Conn, opts ...Option) *Engine {
	e := &Engine{
		conn:     conn,
		clock:    SystemClock{},
		observer: nopObserver{},
		logger:   log.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run replays tr from its first entry.
func (e *Engine) Run(ctx context.Context, tr domain.Trace) (Result, error) {
	return e.RunFrom(ctx, tr, 0)
}

// RunFrom replays tr starting at entry start, in Idle state.
//
// Statement failures are absorbed and counted. A fatal connection error or
// context cancellation stops the run; the partial Result is returned along
// with the error.
func (e *Engine) RunFrom(ctx context.Context, tr domain.Trace, start int) (Result, error) {
	total := tr.Len()
	res := Result{FailedAt: -1, ResumeAt: start}
	if start < 0 || start > total {
		return res, fmt.Errorf("replay: start %d out of range [0, %d]", start, total)
	}

	r := runner{Engine: e, res: &res}
	for i := start; i < total; i++ {
		entry := tr.Entries[i]
		e.observer.OnProgress(i+1, total)

		// The first entry carries no think time.
		if i > 0 {
			if err := e.clock.Sleep(ctx, entry.Offset()); err != nil {
				res.FailedAt = i
				return res, fmt.Errorf("replay interrupted at entry %d: %w", i, err)
			}
		}

		var err error
		switch entry.Kind {
		case domain.KindBegin:
			r.begin(i)
		case domain.KindCommit:
			err = r.commit(ctx, i)
		default:
			err = r.execute(ctx, i, entry.Statement)
		}
		if err != nil {
			res.FailedAt = i
			return res, err
		}
		res.Processed++
	}

	if r.state == StateInTransaction {
		e.logger.Debug("trace ended inside an open transaction", log.String("trace", tr.Source))
	}
	res.ResumeAt = total
	return res, nil
}
