package replay

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/bft-labs/sqlreplay/internal/domain"
	"github.com/bft-labs/sqlreplay/pkg/log"
)

// runner carries the transaction state of one run.
type runner struct {
	*Engine
	res *Result

	state     State
	startedAt time.Time
	// aborted is set when a statement of the open transaction failed.
	aborted    bool
	statements []string
}

// begin arms transaction timing. It makes no database call.
func (r *runner) begin(i int) {
	if r.state == StateInTransaction {
		// Policy: re-arm the timer and merge the open transaction into the
		// new one.
		r.res.Anomalies++
		r.logger.Warn("BEGIN inside an open transaction, restarting timer", log.Int("index", i))
	} else {
		r.aborted = false
		r.statements = nil
	}
	r.state = StateInTransaction
	r.startedAt = r.clock.Now()
}

// commit commits the connection and, when a transaction was open and none
// of its statements failed, records its latency.
func (r *runner) commit(ctx context.Context, i int) error {
	wasOpen := r.state == StateInTransaction
	if !wasOpen {
		// Policy: no sample, but still commit so statements executed outside
		// BEGIN/COMMIT become durable.
		r.res.Anomalies++
		r.logger.Warn("COMMIT without an open transaction", log.Int("index", i))
	}

	err := r.conn.Commit(ctx)

	started, aborted, statements := r.startedAt, r.aborted, r.statements
	r.state, r.aborted, r.statements = StateIdle, false, nil

	if err != nil {
		if domain.IsFatal(err) {
			return err
		}
		r.fail(&domain.StatementError{Index: i, Statement: "COMMIT", Err: err})
		if wasOpen {
			r.res.AbortedTransactions++
		}
		return nil
	}
	r.res.ResumeAt = i + 1

	if !wasOpen {
		return nil
	}
	if aborted {
		r.res.AbortedTransactions++
		r.logger.Debug("transaction had failed statements, no sample", log.Int("index", i))
		return nil
	}

	sample := domain.LatencySample{
		DurationMicros: r.clock.Now().Sub(started).Microseconds(),
		Index:          i,
	}
	if r.categorize != nil {
		sample.Category = r.categorize(statements)
	}
	r.res.Samples = append(r.res.Samples, sample)
	r.observer.OnSample(sample)
	return nil
}

// execute forwards one statement verbatim.
func (r *runner) execute(ctx context.Context, i int, statement string) error {
	text := statement
	if r.tagStatements {
		text = fmt.Sprintf("/* sqlreplay:%d */ %s", i, statement)
	}

	_, err := r.conn.Execute(ctx, text)
	if err == nil {
		if r.state == StateInTransaction {
			r.statements = append(r.statements, statement)
		}
		return nil
	}
	if domain.IsFatal(err) {
		return err
	}
	if r.state == StateInTransaction {
		r.aborted = true
	}
	r.fail(&domain.StatementError{Index: i, Statement: statement, Err: err})
	return nil
}

func (r *runner) fail(se *domain.StatementError) {
	r.res.StatementErrors++
	r.observer.OnStatementError(se)
	r.logger.Warn("statement failed",
		log.Int("index", se.Index),
		log.String("statement", truncate(se.Statement, 120)),
		log.Err(se.Err),
	)
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
