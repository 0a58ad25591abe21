package spool

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const ledgerFileName = ".sqlreplay-spool.json"

// Record describes one handled capture.
type Record struct {
	Error      string    `json:"error,omitempty"`
	Size       int64     `json:"size"`
	FinishedAt time.Time `json:"finished_at"`
}

// Failed reports whether the capture's handler returned an error.
func (r Record) Failed() bool {
	return r.Error != ""
}

// Ledger persists which captures have been handled so a restarted watcher
// does not replay them again. Entries are keyed by file name.
type Ledger struct {
	path string

	mu      sync.Mutex
	records map[string]Record
}

// OpenLedger loads the ledger kept in dir. A missing ledger file is empty.
func OpenLedger(dir string) (*Ledger, error) {
	l := &Ledger{
		path:    filepath.Join(dir, ledgerFileName),
		records: make(map[string]Record),
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return l, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, &l.records); err != nil {
		return nil, err
	}
	return l, nil
}

// Path returns the full path to the ledger file.
func (l *Ledger) Path() string {
	return l.path
}

// Get returns the record for the capture at path.
func (l *Ledger) Get(path string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[filepath.Base(path)]
	return r, ok
}

// Put stores rec for the capture at path and saves the ledger.
func (l *Ledger) Put(path string, rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[filepath.Base(path)] = rec
	return l.save()
}

// Forget drops the record for path and saves the ledger.
func (l *Ledger) Forget(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, filepath.Base(path))
	return l.save()
}

// Oldest returns handled capture names ordered by completion time.
func (l *Ledger) Oldest() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.records))
	for name := range l.records {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := l.records[names[i]], l.records[names[j]]
		if !a.FinishedAt.Equal(b.FinishedAt) {
			return a.FinishedAt.Before(b.FinishedAt)
		}
		return names[i] < names[j]
	})
	return names
}

// save writes the ledger atomically. Callers hold mu.
func (l *Ledger) save() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(l.records, "", "  ")
	if err != nil {
		return err
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, l.path)
}
