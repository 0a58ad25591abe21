// Package stats compares two latency sample files, a baseline run and an
// experimental run, and reports speedups under several aggregators.
package stats

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// DefaultGroup holds samples written without a category.
const DefaultGroup = "all"

// Latencies is a set of samples keyed by group, in first-seen group order.
type Latencies struct {
	groups map[string][]float64
	order  []string
}

// NewLatencies creates an empty set.
func NewLatencies() *Latencies {
	return &Latencies{groups: make(map[string][]float64)}
}

// Add appends a sample to group.
func (l *Latencies) Add(group string, micros float64) {
	if _, ok := l.groups[group]; !ok {
		l.order = append(l.order, group)
	}
	l.groups[group] = append(l.groups[group], micros)
}

// Groups returns group names in first-seen order.
func (l *Latencies) Groups() []string {
	return append([]string(nil), l.order...)
}

// Samples returns the samples of group and whether the group exists.
func (l *Latencies) Samples(group string) ([]float64, bool) {
	s, ok := l.groups[group]
	return s, ok
}

// Len returns the total number of samples.
func (l *Latencies) Len() int {
	n := 0
	for _, s := range l.groups {
		n += len(s)
	}
	return n
}

// LoadFile reads a latency file written by the replay sink.
func LoadFile(path string) (*Latencies, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	l, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

// Load reads "<micros>" or "<group>,<micros>" lines. Blank lines are skipped.
func Load(r io.Reader) (*Latencies, error) {
	l := NewLatencies()
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		group, value := DefaultGroup, line
		if i := strings.LastIndexByte(line, ','); i >= 0 {
			group, value = strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:])
		}
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad latency %q", lineNo, value)
		}
		l.Add(group, v)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return l, nil
}
