package app

import (
	"context"
	"fmt"
	"time"

	"github.com/bft-labs/sqlreplay/internal/adapters/sqlconn"
	"github.com/bft-labs/sqlreplay/internal/ports"
	"github.com/bft-labs/sqlreplay/pkg/log"
)

// DefaultConnectAttempts is how many times a session tries to connect.
const DefaultConnectAttempts = 10

// DialFunc opens the connection a session replays on.
type DialFunc func(ctx context.Context) (ports.SessionConn, error)

// Dialer opens replay connections, retrying with backoff.
type Dialer struct {
	cfg      sqlconn.Config
	attempts int
	initial  time.Duration
	max      time.Duration
	logger   log.Logger
}

// NewDialer creates a dialer. attempts <= 0 uses DefaultConnectAttempts.
func NewDialer(cfg sqlconn.Config, attempts int, logger log.Logger) *Dialer {
	if attempts <= 0 {
		attempts = DefaultConnectAttempts
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Dialer{
		cfg:      cfg,
		attempts: attempts,
		initial:  DefaultBackoffInitial,
		max:      DefaultBackoffMax,
		logger:   logger,
	}
}

// Dial connects, retrying failed attempts.
func (d *Dialer) Dial(ctx context.Context) (ports.SessionConn, error) {
	bo := newBackoff(d.initial, d.max)

	var lastErr error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		conn, err := sqlconn.Open(ctx, d.cfg)
		if err == nil {
			if attempt > 1 {
				d.logger.Info("connected", log.Int("attempt", attempt))
			}
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil || attempt == d.attempts {
			break
		}

		d.logger.Warn("connect failed, retrying",
			log.Int("attempt", attempt),
			log.Int("attempts", d.attempts),
			log.Duration("backoff", bo.Current()),
			log.Err(err),
		)
		if err := bo.Sleep(ctx); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("connect after %d attempts: %w", d.attempts, lastErr)
}
