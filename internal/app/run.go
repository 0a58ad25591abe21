// Package app wires the trace loader, the replay engine and the sample sink
// into replay runs: one session per trace, each on its own connection.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bft-labs/sqlreplay/internal/adapters/sink"
	"github.com/bft-labs/sqlreplay/internal/adapters/sqlconn"
	"github.com/bft-labs/sqlreplay/internal/baseline"
	"github.com/bft-labs/sqlreplay/internal/category"
	"github.com/bft-labs/sqlreplay/internal/domain"
	"github.com/bft-labs/sqlreplay/internal/ports"
	"github.com/bft-labs/sqlreplay/internal/replay"
	"github.com/bft-labs/sqlreplay/internal/stats"
	"github.com/bft-labs/sqlreplay/internal/trace"
	"github.com/bft-labs/sqlreplay/pkg/log"
)

// Category policies.
const (
	CategoryNone      = "none"
	CategoryReadWrite = "readwrite"
	CategoryTemplate  = "template"
)

// Config contains configuration for a replay run.
type Config struct {
	Driver string
	DSN    string

	Traces []string
	Output string

	TimeUnit        time.Duration
	MaxTransactions int

	ConnectAttempts int
	ConnectTimeout  time.Duration
	Reconnects      int

	MigrationsDir string

	Category      string
	TemplatesOut  string
	TagStatements bool
	Progress      bool

	// Upload is an s3://bucket/key reference. A key ending in "/" is a
	// prefix: the run id and the output file name are appended.
	Upload string
	S3     sink.S3Config
}

// Summary reports a whole run.
type Summary struct {
	RunID    string
	Sessions []SessionResult

	Samples             int
	Written             int
	StatementErrors     int
	AbortedTransactions int
	Anomalies           int
	Reconnects          int
	Elapsed             time.Duration

	// MeanLatencyMicros is the mean transaction latency over every session,
	// or 0 without samples.
	MeanLatencyMicros float64

	// Uploaded is the object the output was shipped to, if any.
	Uploaded string
}

// Option configures Run.
type Option func(*runOptions)

type runOptions struct {
	logger   log.Logger
	progress io.Writer
	dial     DialFunc
	engine   []replay.Option
}

// WithLogger sets the run logger.
func WithLogger(logger log.Logger) Option {
	return func(o *runOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithProgressWriter sets where console progress goes. Defaults to stderr.
func WithProgressWriter(w io.Writer) Option {
	return func(o *runOptions) {
		if w != nil {
			o.progress = w
		}
	}
}

// WithDial replaces the database dialer.
func WithDial(dial DialFunc) Option {
	return func(o *runOptions) {
		o.dial = dial
	}
}

// WithEngineOptions passes extra options to every replay engine.
func WithEngineOptions(opts ...replay.Option) Option {
	return func(o *runOptions) {
		o.engine = append(o.engine, opts...)
	}
}

// Run replays every configured trace in parallel and writes their samples
// to cfg.Output. The summary is returned even when the run fails.
func Run(ctx context.Context, cfg Config, opts ...Option) (Summary, error) {
	o := runOptions{logger: log.NewNoopLogger(), progress: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	sum := Summary{RunID: uuid.NewString()}
	logger := log.With(o.logger, log.String("run_id", sum.RunID))
	started := time.Now()

	if len(cfg.Traces) == 0 {
		return sum, fmt.Errorf("%w: no traces to replay", domain.ErrInvalidConfig)
	}
	if cfg.Output == "" {
		return sum, fmt.Errorf("%w: output is required", domain.ErrInvalidConfig)
	}

	categorize, templates, err := categorizer(cfg.Category)
	if err != nil {
		return sum, err
	}

	traces, err := LoadTraces(cfg.Traces, cfg.TimeUnit, cfg.MaxTransactions, logger)
	if err != nil {
		return sum, err
	}

	if cfg.MigrationsDir != "" {
		if err := baseline.Reset(ctx, cfg.Driver, cfg.DSN, cfg.MigrationsDir, logger); err != nil {
			return sum, fmt.Errorf("reset baseline: %w", err)
		}
	}

	out, err := sink.CreateFile(cfg.Output)
	if err != nil {
		return sum, err
	}

	dial := o.dial
	if dial == nil {
		d := NewDialer(sqlconn.Config{
			Driver:  cfg.Driver,
			DSN:     cfg.DSN,
			Timeout: cfg.ConnectTimeout,
		}, cfg.ConnectAttempts, logger)
		dial = d.Dial
	}

	engineOpts := []replay.Option{replay.WithStatementTags(cfg.TagStatements)}
	if categorize != nil {
		engineOpts = append(engineOpts, replay.WithCategorizer(categorize))
	}
	engineOpts = append(engineOpts, o.engine...)

	var console *ConsoleProgress
	if cfg.Progress && len(traces) == 1 {
		console = NewConsoleProgress(o.progress)
	}

	sum.Sessions = make([]SessionResult, len(traces))
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for i, tr := range traces {
		name := sessionName(tr.Source, i)
		slogger := log.With(logger, log.String("trace", tr.Source))

		var observer ports.Observer = NewLogProgress(log.With(slogger, log.String("session", name)), 0)
		if console != nil {
			observer = console
		}

		g.Go(func() error {
			res, err := RunSession(ctx, tr, dial, SessionOptions{
				Name:       name,
				Reconnects: cfg.Reconnects,
				Sink:       out,
				Observer:   observer,
				Engine:     engineOpts,
				Logger:     slogger,
			})
			sum.Sessions[i] = res
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("session %s: %w", name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	runErr := errors.Join(errs...)

	if err := out.Close(); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("close output: %w", err))
	}

	var all []domain.LatencySample
	for _, s := range sum.Sessions {
		all = append(all, s.Samples...)
		sum.Samples += len(s.Samples)
		sum.Written += s.Written
		sum.StatementErrors += s.StatementErrors
		sum.AbortedTransactions += s.AbortedTransactions
		sum.Anomalies += s.Anomalies
		sum.Reconnects += s.Reconnects

		logger.Info("session finished",
			log.String("session", s.Name),
			log.String("state", s.State.String()),
			log.Int("samples", len(s.Samples)),
			log.Float64("mean_latency_us", meanLatency(s.Samples)),
			log.Int("statement_errors", s.StatementErrors),
			log.Int("aborted_transactions", s.AbortedTransactions),
			log.Int("anomalies", s.Anomalies),
			log.Int("reconnects", s.Reconnects),
			log.Duration("elapsed", s.Elapsed),
		)
	}

	if templates != nil && cfg.TemplatesOut != "" {
		if err := dumpTemplates(templates, cfg.TemplatesOut); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}

	if cfg.Upload != "" {
		ref := UploadRef(cfg.Upload, sum.RunID, cfg.Output)
		if err := upload(ctx, cfg.S3, cfg.Output, ref); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("upload: %w", err))
		} else {
			sum.Uploaded = ref
			logger.Info("latencies uploaded", log.String("ref", ref))
		}
	}

	sum.MeanLatencyMicros = meanLatency(all)
	sum.Elapsed = time.Since(started)
	logger.Info("replay finished",
		log.Int("sessions", len(sum.Sessions)),
		log.Int("samples", sum.Samples),
		log.Float64("mean_latency_us", sum.MeanLatencyMicros),
		log.Int("statement_errors", sum.StatementErrors),
		log.Int("aborted_transactions", sum.AbortedTransactions),
		log.Int("reconnects", sum.Reconnects),
		log.String("output", cfg.Output),
		log.Duration("elapsed", sum.Elapsed),
	)
	return sum, runErr
}

// LoadTraces loads every path concurrently. Any load failure fails the
// whole set.
func LoadTraces(paths []string, unit time.Duration, maxTransactions int, logger log.Logger) ([]domain.Trace, error) {
	traces := make([]domain.Trace, len(paths))
	var g errgroup.Group
	for i, path := range paths {
		g.Go(func() error {
			tr, err := trace.Load(path,
				trace.WithTimeUnit(unit),
				trace.WithMaxTransactions(maxTransactions),
				trace.WithLogger(logger),
			)
			if err != nil {
				return err
			}
			traces[i] = tr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return traces, nil
}

func categorizer(policy string) (replay.Categorizer, *category.Templates, error) {
	switch strings.ToLower(policy) {
	case "", CategoryNone:
		return nil, nil, nil
	case CategoryReadWrite:
		return category.ReadWrite, nil, nil
	case CategoryTemplate:
		t := category.NewTemplates()
		return t.Categorize, t, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown category policy %q", domain.ErrInvalidConfig, policy)
	}
}

func dumpTemplates(t *category.Templates, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("templates: %w", err)
	}
	if err := t.Dump(f); err != nil {
		f.Close()
		return fmt.Errorf("templates: %w", err)
	}
	return f.Close()
}

func upload(ctx context.Context, cfg sink.S3Config, path, ref string) error {
	u, err := sink.NewS3Uploader(ctx, cfg)
	if err != nil {
		return err
	}
	return u.UploadFile(ctx, path, ref)
}

// UploadRef resolves the object an output file is uploaded to.
func UploadRef(upload, runID, output string) string {
	if strings.HasSuffix(upload, "/") {
		return upload + runID + "/" + filepath.Base(output)
	}
	return upload
}

// meanLatency returns the mean sample duration in microseconds, or 0 for no
// samples.
func meanLatency(samples []domain.LatencySample) float64 {
	if len(samples) == 0 {
		return 0
	}
	xs := make([]float64, len(samples))
	for i, s := range samples {
		xs[i] = float64(s.DurationMicros)
	}
	return stats.Mean(xs)
}

func sessionName(source string, i int) string {
	base := filepath.Base(source)
	if base == "" || base == "." {
		base = "trace"
	}
	return fmt.Sprintf("%d-%s", i, base)
}
