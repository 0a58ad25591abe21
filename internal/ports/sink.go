package ports

import "github.com/bft-labs/sqlreplay/internal/domain"

// SampleSink receives the latency samples of a replay session.
// Implementations must be safe for concurrent use when several sessions
// share one sink.
type SampleSink interface {
	Write(samples []domain.LatencySample) error
}
