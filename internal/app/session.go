package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bft-labs/sqlreplay/internal/domain"
	"github.com/bft-labs/sqlreplay/internal/ports"
	"github.com/bft-labs/sqlreplay/internal/replay"
	"github.com/bft-labs/sqlreplay/pkg/log"
)

// SessionOptions configures RunSession.
type SessionOptions struct {
	// Name identifies the session in logs and state events.
	Name string

	// Reconnects is how many fatal connection errors the session survives.
	// After each one it redials and resumes after the last durable commit.
	Reconnects int

	// ReconnectBackoff is the first wait before redialing. It doubles up to
	// DefaultBackoffMax. Zero uses DefaultBackoffInitial.
	ReconnectBackoff time.Duration

	// Sink receives samples in batches while the session runs. Optional.
	Sink          ports.SampleSink
	BatchSamples  int
	BatchInterval time.Duration

	// Observer receives engine notifications. Optional.
	Observer ports.Observer

	Engine  []replay.Option
	Logger  log.Logger
	Emitter EventEmitter
}

// SessionResult accumulates the outcome of a session across reconnects.
type SessionResult struct {
	Name    string
	Samples []domain.LatencySample

	// Processed counts entries handled; entries replayed again after a
	// reconnect are counted twice.
	Processed           int
	StatementErrors     int
	AbortedTransactions int
	Anomalies           int
	Reconnects          int

	// Written is the number of samples persisted to the sink.
	Written int
	Elapsed time.Duration
	State   State
}

func (r *SessionResult) merge(res replay.Result) {
	r.Samples = append(r.Samples, res.Samples...)
	r.Processed += res.Processed
	r.StatementErrors += res.StatementErrors
	r.AbortedTransactions += res.AbortedTransactions
	r.Anomalies += res.Anomalies
}

// sessionObserver fans engine notifications out to the batcher and the
// caller's observer.
type sessionObserver struct {
	next     ports.Observer
	batcher  *Batcher
	logger   log.Logger
	flushErr error
}

func (o *sessionObserver) OnProgress(done, total int) {
	if o.next != nil {
		o.next.OnProgress(done, total)
	}
}

func (o *sessionObserver) OnSample(s domain.LatencySample) {
	if o.next != nil {
		o.next.OnSample(s)
	}
	if o.batcher == nil {
		return
	}
	if o.batcher.Add(s) {
		o.flush()
	}
}

func (o *sessionObserver) OnStatementError(err *domain.StatementError) {
	if o.next != nil {
		o.next.OnStatementError(err)
	}
}

func (o *sessionObserver) flush() {
	if err := o.batcher.Flush(); err != nil {
		o.logger.Error("failed to write samples", log.Err(err))
		o.flushErr = err
		return
	}
	o.flushErr = nil
}

// RunSession replays tr on a connection obtained from dial. Samples
// collected before a failure are returned, and flushed to the sink, along
// with the error.
func RunSession(ctx context.Context, tr domain.Trace, dial DialFunc, opts SessionOptions) (SessionResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	logger = log.With(logger, log.String("session", opts.Name))

	res := SessionResult{Name: opts.Name}
	lc := NewLifecycle(opts.Name, logger, opts.Emitter)
	obs := &sessionObserver{next: opts.Observer, logger: logger}
	if opts.Sink != nil {
		obs.batcher = NewBatcher(opts.Sink, opts.BatchSamples, opts.BatchInterval)
	}

	engineOpts := append([]replay.Option{replay.WithLogger(logger)}, opts.Engine...)
	engineOpts = append(engineOpts, replay.WithObserver(obs))

	started := time.Now()
	finish := func(state State, reason string, err error) (SessionResult, error) {
		if obs.batcher != nil {
			obs.flush()
			res.Written = obs.batcher.Written()
			if obs.flushErr != nil {
				err = errors.Join(err, fmt.Errorf("write samples: %w", obs.flushErr))
			}
		}
		_ = lc.TransitionTo(state, reason)
		res.State = lc.State()
		res.Elapsed = time.Since(started)
		return res, err
	}

	initial := opts.ReconnectBackoff
	if initial <= 0 {
		initial = DefaultBackoffInitial
	}
	bo := newBackoff(initial, DefaultBackoffMax)
	start := 0
	for {
		_ = lc.TransitionTo(StateDialing, fmt.Sprintf("from entry %d", start))
		conn, err := dial(ctx)
		if err != nil {
			return finish(StateFailed, "dial failed", err)
		}
		_ = lc.TransitionTo(StateReplaying, "connected")

		eng := replay.New(conn, engineOpts...)
		out, err := eng.RunFrom(ctx, tr, start)
		if cerr := conn.Close(); cerr != nil {
			logger.Debug("close connection", log.Err(cerr))
		}
		res.merge(out)

		if err == nil {
			return finish(StateFinished, "trace exhausted", nil)
		}
		if ctx.Err() != nil || !domain.IsFatal(err) || res.Reconnects >= opts.Reconnects {
			return finish(StateFailed, err.Error(), err)
		}

		res.Reconnects++
		_ = lc.TransitionTo(StateReconnecting, err.Error())
		logger.Warn("connection lost, reconnecting",
			log.Int("failed_at", out.FailedAt),
			log.Int("resume_at", out.ResumeAt),
			log.Int("reconnect", res.Reconnects),
			log.Err(err),
		)
		if serr := bo.Sleep(ctx); serr != nil {
			return finish(StateFailed, "interrupted", errors.Join(err, serr))
		}
		start = out.ResumeAt
	}
}
