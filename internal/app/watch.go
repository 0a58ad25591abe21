package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bft-labs/sqlreplay/internal/spool"
	"github.com/bft-labs/sqlreplay/pkg/log"
)

// WatchConfig configures watch mode.
type WatchConfig struct {
	Dir    string
	OutDir string

	// Retention trims replayed captures from Dir.
	Retention spool.Retention
}

// Watch replays every capture that appears in wc.Dir, one at a time, writing
// each to <OutDir>/<name>.lat. Handled captures are recorded in a ledger in
// OutDir so a restart skips them. It returns when ctx is cancelled.
func Watch(ctx context.Context, cfg Config, wc WatchConfig, opts ...Option) error {
	o := runOptions{logger: log.NewNoopLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	outDir := wc.OutDir
	if outDir == "" {
		outDir = wc.Dir
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("out dir: %w", err)
	}
	ledger, err := spool.OpenLedger(outDir)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	w := spool.New(wc.Dir, func(ctx context.Context, path string) error {
		c := cfg
		c.Traces = []string{path}
		c.Output = OutputPath(outDir, path)
		c.Progress = false
		_, err := Run(ctx, c, opts...)
		return err
	},
		spool.WithLogger(o.logger),
		spool.WithLedger(ledger),
		spool.WithRetention(wc.Retention),
	)
	return w.Run(ctx)
}

// OutputPath maps a capture file to its latency file in outDir.
func OutputPath(outDir, capture string) string {
	name := filepath.Base(capture)
	for _, ext := range []string{".zst", ".zstd", ".gz"} {
		name = strings.TrimSuffix(name, ext)
	}
	for _, ext := range []string{".jsonl", ".json"} {
		name = strings.TrimSuffix(name, ext)
	}
	return filepath.Join(outDir, name+".lat")
}
