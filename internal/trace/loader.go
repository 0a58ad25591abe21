// Package trace loads captured workloads into replayable traces.
//
// A capture is a newline-delimited sequence of JSON records:
//
//	{"sql": "START", "time": 1700000000000000}
//	{"sql": "SELECT * FROM users WHERE id = 7", "time": 1700000000000412}
//	{"sql": "COMMIT", "time": 1700000000000950}
//
// Each record becomes a [domain.Entry] whose offset is the difference between
// its timestamp and the previous record's. Loading is pure parsing: it does
// no network or database access and is safe to call concurrently on distinct
// inputs.
package trace

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bft-labs/sqlreplay/internal/domain"
	"github.com/bft-labs/sqlreplay/pkg/log"
)

// Control tokens recognised in the sql field. Matching is case-sensitive.
const (
	TokenStart  = "START"
	TokenBegin  = "BEGIN"
	TokenCommit = "COMMIT"
)

// record matches one capture line.
type record struct {
	SQL  *string     `json:"sql"`
	Time json.Number `json:"time"`
}

// Option configures a load.
type Option func(*options)

type options struct {
	timeUnit        time.Duration
	maxTransactions int
	logger          log.Logger
}

func defaultOptions() options {
	return options{
		timeUnit: time.Microsecond,
		logger:   log.NewNoopLogger(),
	}
}

// WithTimeUnit sets the unit of the capture's time field. The default is
// microseconds.
func WithTimeUnit(unit time.Duration) Option {
	return func(o *options) {
		if unit > 0 {
			o.timeUnit = unit
		}
	}
}

// WithMaxTransactions stops loading after the n-th COMMIT. Zero means no limit.
func WithMaxTransactions(n int) Option {
	return func(o *options) {
		o.maxTransactions = n
	}
}

// WithLogger sets the logger used to report load statistics and anomalies.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Load reads the capture at path. Files ending in .zst, .zstd or .gz are
// decompressed transparently.
func Load(path string, opts ...Option) (domain.Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.Trace{}, &domain.LoadError{Path: path, Err: err}
	}
	defer f.Close()

	r, closeFn, err := decompress(path, f)
	if err != nil {
		return domain.Trace{}, &domain.LoadError{Path: path, Err: err}
	}
	defer closeFn()

	tr, err := parse(path, r, opts...)
	if err != nil {
		return domain.Trace{}, err
	}
	return tr, nil
}

// Parse reads a capture from r. The returned trace has an empty Source.
func Parse(r io.Reader, opts ...Option) (domain.Trace, error) {
	return parse("", r, opts...)
}

func parse(source string, r io.Reader, opts ...Option) (domain.Trace, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	name := source
	if name == "" {
		name = "<reader>"
	}

	tr := domain.Trace{Source: source}
	br := bufio.NewReaderSize(r, 64*1024)

	var (
		prev    stamp
		hasPrev bool
		lineNo  int
		commits int
	)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			entry, ts, ok, perr := parseLine(line)
			if perr != nil {
				return domain.Trace{}, &domain.LoadError{Path: name, Line: lineNo, Err: perr}
			}
			if ok {
				switch {
				case len(tr.Entries) == 0 || !hasPrev || !ts.valid:
					entry.OffsetMicros = 0
				default:
					entry.OffsetMicros = offsetMicros(prev, ts, o.timeUnit)
				}
				prev, hasPrev = ts, ts.valid

				if entry.OffsetMicros < 0 {
					tr.Anomalies = append(tr.Anomalies, domain.TimingAnomaly{
						Index:        len(tr.Entries),
						OffsetMicros: entry.OffsetMicros,
					})
				}
				tr.Entries = append(tr.Entries, entry)

				if entry.Kind == domain.KindCommit {
					commits++
					if o.maxTransactions > 0 && commits >= o.maxTransactions {
						break
					}
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return domain.Trace{}, &domain.LoadError{Path: name, Line: lineNo, Err: err}
		}
	}

	if len(tr.Anomalies) > 0 {
		o.logger.Warn("negative think times replay with zero wait",
			log.String("trace", name),
			log.Int("anomalies", len(tr.Anomalies)),
		)
	}
	s := Summarize(tr)
	o.logger.Info("workload trace loaded",
		log.String("trace", name),
		log.Int("entries", s.Entries),
		log.Int("reads", s.Reads),
		log.Int("writes", s.Writes),
		log.Int("transactions", s.Transactions),
		log.Duration("mean_think_time", s.MeanThinkTime),
		log.Float64("mean_transaction_size", s.MeanTransactionSize),
	)
	return tr, nil
}

// parseLine decodes one capture line. ok is false for blank lines.
func parseLine(line []byte) (domain.Entry, stamp, bool, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return domain.Entry{}, stamp{}, false, nil
	}

	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		return domain.Entry{}, stamp{}, false, fmt.Errorf("bad record: %w", err)
	}
	if rec.SQL == nil {
		return domain.Entry{}, stamp{}, false, errors.New("bad record: missing sql field")
	}
	ts, err := parseStamp(rec.Time)
	if err != nil {
		return domain.Entry{}, stamp{}, false, fmt.Errorf("bad record: time: %w", err)
	}
	return classify(*rec.SQL), ts, true, nil
}

// classify turns the sql field into a tagged entry.
func classify(sql string) domain.Entry {
	switch strings.TrimSpace(sql) {
	case TokenStart, TokenBegin:
		return domain.Entry{Kind: domain.KindBegin, Statement: strings.TrimSpace(sql)}
	case TokenCommit:
		return domain.Entry{Kind: domain.KindCommit, Statement: TokenCommit}
	default:
		return domain.Entry{Kind: domain.KindStatement, Statement: sql}
	}
}

// stamp is a capture timestamp. Integral values are kept exact.
type stamp struct {
	valid bool
	isInt bool
	i     int64
	f     float64
}

func (s stamp) float() float64 {
	if s.isInt {
		return float64(s.i)
	}
	return s.f
}

func parseStamp(n json.Number) (stamp, error) {
	if n == "" {
		return stamp{}, nil
	}
	if i, err := strconv.ParseInt(string(n), 10, 64); err == nil {
		return stamp{valid: true, isInt: true, i: i}, nil
	}
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil {
		return stamp{}, err
	}
	return stamp{valid: true, f: f}, nil
}

// offsetMicros converts the difference between two stamps to microseconds.
func offsetMicros(prev, cur stamp, unit time.Duration) int64 {
	if prev.isInt && cur.isInt {
		d := cur.i - prev.i
		if unit >= time.Microsecond {
			return d * int64(unit/time.Microsecond)
		}
		return d / int64(time.Microsecond/unit)
	}
	d := cur.float() - prev.float()
	return int64(math.Round(d * float64(unit) / float64(time.Microsecond)))
}
