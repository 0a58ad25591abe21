package ports

import "github.com/bft-labs/sqlreplay/internal/domain"

// Observer is notified by the replay engine as it advances. Calls are made
// synchronously from the replay goroutine and must not block for long.
type Observer interface {
	// OnProgress is called before each entry with the 1-based entry number.
	OnProgress(done, total int)

	// OnSample is called for each completed transaction.
	OnSample(sample domain.LatencySample)

	// OnStatementError is called for each recoverable statement failure.
	OnStatementError(err *domain.StatementError)
}
