package replay

import (
	"github.com/bft-labs/sqlreplay/internal/domain"
	"github.com/bft-labs/sqlreplay/internal/ports"
	"github.com/bft-labs/sqlreplay/pkg/log"
)

// Categorizer derives a sample category from the statements executed inside
// a transaction. It is caller policy; the engine only attaches the result.
type Categorizer func(statements []string) string

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the system clock, typically with a fake in tests.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithObserver subscribes o to progress, sample and error notifications.
func WithObserver(o ports.Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithLogger sets the logger. If not provided, a no-op logger is used.
func WithLogger(l log.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithCategorizer attaches a category to every sample.
func WithCategorizer(c Categorizer) Option {
	return func(e *Engine) {
		e.categorize = c
	}
}

// WithStatementTags prefixes every statement with a comment carrying its
// trace index, so backend logs can be correlated with the capture.
func WithStatementTags(enabled bool) Option {
	return func(e *Engine) {
		e.tagStatements = enabled
	}
}

type nopObserver struct{}

func (nopObserver) OnProgress(done, total int)                  {}
func (nopObserver) OnSample(sample domain.LatencySample)        {}
func (nopObserver) OnStatementError(err *domain.StatementError) {}
