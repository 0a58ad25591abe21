// Package spool replays capture files as they are dropped into a directory.
package spool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/sqlreplay/pkg/log"
)

// DefaultDebounce is how long a file must stay quiet before it is handled.
const DefaultDebounce = 500 * time.Millisecond

var captureExts = []string{".jsonl", ".json", ".zst", ".zstd", ".gz"}

// Handler processes one capture file.
type Handler func(ctx context.Context, path string) error

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.delay = d
		}
	}
}

// WithLogger sets the watcher logger.
func WithLogger(logger log.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithLedger records handled captures in l and skips captures it already
// holds, so a restarted watcher resumes where it stopped.
func WithLedger(l *Ledger) Option {
	return func(w *Watcher) {
		w.ledger = l
	}
}

// WithRetention trims handled captures after each one completes. It needs a
// ledger to know which captures are safe to remove.
func WithRetention(r Retention) Option {
	return func(w *Watcher) {
		w.retention = r
	}
}

// Watcher hands every capture file in a directory to a Handler exactly once,
// one file at a time.
type Watcher struct {
	dir    string
	handle Handler
	delay  time.Duration
	logger log.Logger

	ledger    *Ledger
	retention Retention

	mu      sync.Mutex
	pending map[string]*time.Timer
	seen    map[string]bool

	// serializes handler calls
	runMu sync.Mutex
	wg    sync.WaitGroup
}

// New creates a watcher for dir.
func New(dir string, handle Handler, opts ...Option) *Watcher {
	w := &Watcher{
		dir:     dir,
		handle:  handle,
		delay:   DefaultDebounce,
		logger:  log.NewNoopLogger(),
		pending: make(map[string]*time.Timer),
		seen:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// IsCapture reports whether name looks like a capture file. Hidden files are
// skipped so that writers can stage a file and rename it into place.
func IsCapture(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	for _, ext := range captureExts {
		if strings.HasSuffix(base, ext) {
			return true
		}
	}
	return false
}

// Run handles files already present in the directory, then watches it until
// ctx is cancelled. In-flight handlers are waited for before returning.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching for captures", log.String("dir", w.dir))

	existing, err := w.scan()
	if err != nil {
		return err
	}
	for _, path := range existing {
		w.schedule(ctx, path, 0)
	}

	defer w.stop()
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !IsCapture(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.schedule(ctx, event.Name, w.delay)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", log.Err(err))
		}
	}
}

func (w *Watcher) scan() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", w.dir, err)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && IsCapture(e.Name()) {
			paths = append(paths, filepath.Join(w.dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// schedule (re)arms the debounce timer for path.
func (w *Watcher) schedule(ctx context.Context, path string, delay time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.seen[path] {
		return
	}
	if w.ledger != nil {
		if _, done := w.ledger.Get(path); done {
			w.seen[path] = true
			return
		}
	}
	if t, ok := w.pending[path]; ok {
		if t.Stop() {
			w.wg.Done()
		}
	}
	w.wg.Add(1)
	w.pending[path] = time.AfterFunc(delay, func() {
		defer w.wg.Done()
		w.fire(ctx, path)
	})
}

func (w *Watcher) fire(ctx context.Context, path string) {
	w.mu.Lock()
	delete(w.pending, path)
	if w.seen[path] || ctx.Err() != nil {
		w.mu.Unlock()
		return
	}
	w.seen[path] = true
	w.mu.Unlock()

	w.runMu.Lock()
	defer w.runMu.Unlock()

	w.logger.Info("capture received", log.String("path", path))
	err := w.handle(ctx, path)
	if err != nil {
		w.logger.Error("capture failed", log.String("path", path), log.Err(err))
	}
	if w.ledger == nil {
		return
	}
	// An interrupted replay is retried on the next start.
	if err != nil && ctx.Err() != nil {
		return
	}
	w.record(path, err)
	if _, err := Trim(ctx, w.dir, w.ledger, w.retention, w.logger); err != nil {
		w.logger.Warn("spool cleanup failed", log.Err(err))
	}
}

func (w *Watcher) record(path string, handleErr error) {
	rec := Record{FinishedAt: time.Now().UTC()}
	if info, err := os.Stat(path); err == nil {
		rec.Size = info.Size()
	}
	if handleErr != nil {
		rec.Error = handleErr.Error()
	}
	if err := w.ledger.Put(path, rec); err != nil {
		w.logger.Warn("ledger update failed", log.String("path", path), log.Err(err))
	}
}

// stop cancels pending timers and waits for running handlers.
func (w *Watcher) stop() {
	w.mu.Lock()
	for path, t := range w.pending {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()
	w.wg.Wait()
}
