package trace

import (
	"time"

	"github.com/bft-labs/sqlreplay/internal/domain"
)

// Summary describes the shape of a loaded workload.
type Summary struct {
	Entries      int
	Statements   int
	Reads        int
	Writes       int
	Transactions int
	Anomalies    int

	// MeanThinkTime is the mean non-negative offset across statements.
	MeanThinkTime time.Duration

	// MeanTransactionSize is the mean number of statements between a
	// BEGIN and its COMMIT.
	MeanTransactionSize float64
}

// Summarize computes workload statistics for tr.
func Summarize(tr domain.Trace) Summary {
	s := Summary{Entries: tr.Len(), Anomalies: len(tr.Anomalies)}

	var (
		thinkTotal int64
		sizeTotal  int
		curSize    int
		inTxn      bool
	)
	for _, e := range tr.Entries {
		switch e.Kind {
		case domain.KindBegin:
			inTxn, curSize = true, 0
		case domain.KindCommit:
			if inTxn {
				s.Transactions++
				sizeTotal += curSize
			}
			inTxn = false
		default:
			s.Statements++
			if e.IsRead() {
				s.Reads++
			} else {
				s.Writes++
			}
			if e.OffsetMicros > 0 {
				thinkTotal += e.OffsetMicros
			}
			curSize++
		}
	}
	if s.Statements > 0 {
		s.MeanThinkTime = time.Duration(thinkTotal/int64(s.Statements)) * time.Microsecond
	}
	if s.Transactions > 0 {
		s.MeanTransactionSize = float64(sizeTotal) / float64(s.Transactions)
	}
	return s
}
