package domain

import (
	"strings"
	"time"
)

// Kind tags what a trace entry asks the replayer to do.
type Kind uint8

const (
	// KindStatement is an opaque statement forwarded verbatim.
	KindStatement Kind = iota
	// KindBegin arms transaction timing. It is never sent to the backend.
	KindBegin
	// KindCommit ends the open transaction and commits the connection.
	KindCommit
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindStatement:
		return "Statement"
	case KindBegin:
		return "Begin"
	case KindCommit:
		return "Commit"
	default:
		return "Unknown"
	}
}

// Entry is one captured operation.
type Entry struct {
	Kind Kind

	// Statement holds the SQL text for KindStatement entries and the raw
	// control token otherwise.
	Statement string

	// OffsetMicros is the time elapsed since the previous entry was issued
	// at capture time. It may be negative for out-of-order captures.
	OffsetMicros int64
}

// Offset returns the think time to reproduce before the entry. Negative
// offsets clamp to zero.
func (e Entry) Offset() time.Duration {
	if e.OffsetMicros <= 0 {
		return 0
	}
	return time.Duration(e.OffsetMicros) * time.Microsecond
}

// IsRead reports whether the entry is a SELECT statement.
func (e Entry) IsRead() bool {
	if e.Kind != KindStatement {
		return false
	}
	s := strings.TrimSpace(e.Statement)
	return len(s) >= 6 && strings.EqualFold(s[:6], "SELECT")
}

// TimingAnomaly reports an entry whose computed offset is negative. It is
// advisory: such entries replay with zero wait.
type TimingAnomaly struct {
	Index        int
	OffsetMicros int64
}

// Trace is the ordered sequence of entries of one captured client session.
// A Trace must not be modified once loaded.
type Trace struct {
	// Source names where the trace was loaded from (usually a file path).
	Source string

	Entries   []Entry
	Anomalies []TimingAnomaly
}

// Len returns the number of entries in the trace.
func (t Trace) Len() int {
	return len(t.Entries)
}

// Commits returns the number of COMMIT tokens in the trace.
func (t Trace) Commits() int {
	n := 0
	for _, e := range t.Entries {
		if e.Kind == KindCommit {
			n++
		}
	}
	return n
}
