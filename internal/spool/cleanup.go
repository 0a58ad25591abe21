package spool

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bft-labs/sqlreplay/pkg/log"
)

// Retention bounds the size of a spool directory. When the directory grows
// beyond High bytes, the oldest handled captures are removed until it is
// at or below Low. Captures not yet handled are never removed.
type Retention struct {
	High int64
	Low  int64
}

// Enabled reports whether r trims anything.
func (r Retention) Enabled() bool {
	return r.High > 0
}

// Trim applies r to dir using the ledger's completion order. It returns the
// number of bytes freed.
func Trim(ctx context.Context, dir string, ledger *Ledger, r Retention, logger log.Logger) (int64, error) {
	if !r.Enabled() || ledger == nil {
		return 0, nil
	}
	low := r.Low
	if low <= 0 || low > r.High {
		low = r.High
	}

	curSize, err := dirSize(dir)
	if err != nil {
		return 0, fmt.Errorf("spool size: %w", err)
	}
	if curSize <= r.High {
		return 0, nil
	}

	var removed int64
	for _, name := range ledger.Oldest() {
		if ctx.Err() != nil {
			break
		}
		if curSize <= low {
			break
		}
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			logger.Error("spool cleanup: stat failed", log.String("capture", path), log.Err(err))
			continue
		}
		if err := os.Remove(path); err != nil {
			logger.Error("spool cleanup: remove failed", log.String("capture", path), log.Err(err))
			continue
		}
		if err := ledger.Forget(path); err != nil {
			logger.Warn("spool cleanup: ledger update failed", log.Err(err))
		}
		curSize -= info.Size()
		removed += info.Size()
	}

	if removed > 0 {
		logger.Info("spool cleanup completed",
			log.String("freed", formatBytes(removed)),
			log.String("remaining", formatBytes(curSize)),
		)
	}
	return removed, nil
}

// dirSize sums the sizes of capture files directly in dir.
func dirSize(dir string) (int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		if e.IsDir() || !IsCapture(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}

func formatBytes(b int64) string {
	const (
		_          = iota
		KB float64 = 1 << (10 * iota)
		MB
		GB
	)

	fb := float64(b)
	switch {
	case fb >= GB:
		return fmt.Sprintf("%.2fGiB", fb/GB)
	case fb >= MB:
		return fmt.Sprintf("%.2fMiB", fb/MB)
	case fb >= KB:
		return fmt.Sprintf("%.2fKiB", fb/KB)
	default:
		return fmt.Sprintf("%dB", b)
	}
}
