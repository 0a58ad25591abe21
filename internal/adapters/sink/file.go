// Package sink writes latency samples to their destinations.
//
// The on-disk format is one sample per line: the duration in microseconds,
// prefixed by "<category>," when the sample carries a category.
package sink

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/bft-labs/sqlreplay/internal/domain"
)

// FileSink appends samples to a file. It is safe for concurrent use by
// several sessions; each Write call lands contiguously.
type FileSink struct {
	mu    sync.Mutex
	path  string
	f     *os.File
	w     *bufio.Writer
	count int
}

// CreateFile truncates or creates path, creating parent directories.
func CreateFile(path string) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sink dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create sink: %w", err)
	}
	return &FileSink{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

// Write appends samples and flushes them to the file.
func (s *FileSink) Write(samples []domain.LatencySample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return os.ErrClosed
	}
	for _, sample := range samples {
		if _, err := s.w.WriteString(FormatSample(sample)); err != nil {
			return err
		}
	}
	if err := s.w.Flush(); err != nil {
		return err
	}
	s.count += len(samples)
	return nil
}

// Count returns the number of samples written so far.
func (s *FileSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Path returns the file the sink writes to.
func (s *FileSink) Path() string { return s.path }

// Close flushes and closes the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return nil
	}
	ferr := s.w.Flush()
	cerr := s.f.Close()
	s.f = nil
	if ferr != nil {
		return ferr
	}
	return cerr
}

// FormatSample renders one sample as a sink line, newline included.
func FormatSample(s domain.LatencySample) string {
	d := strconv.FormatInt(s.DurationMicros, 10)
	if s.Category == "" {
		return d + "\n"
	}
	return s.Category + "," + d + "\n"
}
