package app

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bft-labs/sqlreplay/internal/domain"
	"github.com/bft-labs/sqlreplay/pkg/log"
)

// DefaultLogProgressInterval spaces LogProgress lines.
const DefaultLogProgressInterval = 10 * time.Second

// ConsoleProgress rewrites a single status line on w.
type ConsoleProgress struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleProgress creates a console progress reporter.
func NewConsoleProgress(w io.Writer) *ConsoleProgress {
	return &ConsoleProgress{w: w}
}

func (p *ConsoleProgress) OnProgress(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "\rReplay of %d/%d", done, total)
	if done == total {
		fmt.Fprintln(p.w)
	}
}

func (p *ConsoleProgress) OnSample(domain.LatencySample)        {}
func (p *ConsoleProgress) OnStatementError(*domain.StatementError) {}

// LogProgress logs progress at most once per interval, plus the final entry.
type LogProgress struct {
	logger   log.Logger
	interval time.Duration
	last     time.Time
	samples  int
	errors   int
}

// NewLogProgress creates a log-based progress reporter.
func NewLogProgress(logger log.Logger, interval time.Duration) *LogProgress {
	if interval <= 0 {
		interval = DefaultLogProgressInterval
	}
	return &LogProgress{logger: logger, interval: interval, last: time.Now()}
}

func (p *LogProgress) OnProgress(done, total int) {
	if done != total && time.Since(p.last) < p.interval {
		return
	}
	p.last = time.Now()
	p.logger.Info("replay progress",
		log.Int("done", done),
		log.Int("total", total),
		log.Int("samples", p.samples),
		log.Int("statement_errors", p.errors),
	)
}

func (p *LogProgress) OnSample(domain.LatencySample) { p.samples++ }

func (p *LogProgress) OnStatementError(*domain.StatementError) { p.errors++ }
