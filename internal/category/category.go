// Package category attaches a group label to each replayed transaction.
//
// Categorization is caller policy: the replay engine hands the statements of
// a completed transaction to a categorizer and records whatever label comes
// back next to the latency sample.
package category

import "strings"

// Labels returned by ReadWrite.
const (
	Read  = "read"
	Write = "write"
	Mixed = "mixed"
)

// ReadWrite labels a transaction read when every statement is a SELECT,
// write when none is, and mixed otherwise. An empty transaction is a read.
func ReadWrite(statements []string) string {
	reads, writes := 0, 0
	for _, s := range statements {
		if isSelect(s) {
			reads++
		} else {
			writes++
		}
	}
	switch {
	case writes == 0:
		return Read
	case reads == 0:
		return Write
	default:
		return Mixed
	}
}

func isSelect(stmt string) bool {
	s := strings.TrimSpace(stmt)
	return len(s) >= 6 && strings.EqualFold(s[:6], "SELECT")
}
