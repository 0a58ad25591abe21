package app

import (
	"time"

	"github.com/bft-labs/sqlreplay/internal/domain"
	"github.com/bft-labs/sqlreplay/internal/ports"
)

// Default batcher configuration values.
const (
	DefaultBatchSamples  = 256
	DefaultBatchInterval = 2 * time.Second
)

// Batcher buffers latency samples and writes them to a sink in batches, so
// that a long replay persists its samples as it goes.
type Batcher struct {
	sink       ports.SampleSink
	pending    []domain.LatencySample
	maxSamples int
	interval   time.Duration
	lastFlush  time.Time
	written    int
}

// NewBatcher creates a new batcher with the given configuration.
func NewBatcher(sink ports.SampleSink, maxSamples int, interval time.Duration) *Batcher {
	if maxSamples <= 0 {
		maxSamples = DefaultBatchSamples
	}
	if interval <= 0 {
		interval = DefaultBatchInterval
	}
	return &Batcher{
		sink:       sink,
		maxSamples: maxSamples,
		interval:   interval,
		lastFlush:  time.Now(),
	}
}

// Add adds a sample to the batch.
// Returns true if the batch should be flushed after this add.
func (b *Batcher) Add(s domain.LatencySample) bool {
	b.pending = append(b.pending, s)
	return len(b.pending) >= b.maxSamples || b.ShouldFlush()
}

// ShouldFlush returns true if the batch should be flushed based on time.
func (b *Batcher) ShouldFlush() bool {
	if len(b.pending) == 0 {
		return false
	}
	return time.Since(b.lastFlush) >= b.interval
}

// Flush writes pending samples to the sink. On failure the samples stay
// pending.
func (b *Batcher) Flush() error {
	if len(b.pending) == 0 {
		return nil
	}
	if err := b.sink.Write(b.pending); err != nil {
		return err
	}
	b.written += len(b.pending)
	b.pending = b.pending[:0]
	b.lastFlush = time.Now()
	return nil
}

// HasPending returns true if there are samples waiting to be written.
func (b *Batcher) HasPending() bool {
	return len(b.pending) > 0
}

// Written returns the number of samples written so far.
func (b *Batcher) Written() int {
	return b.written
}
