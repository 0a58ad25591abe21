package domain

// LatencySample is the measured wall-clock duration of one completed
// transaction, from its BEGIN to the return of its COMMIT.
type LatencySample struct {
	DurationMicros int64

	// Category is an optional caller-supplied grouping key.
	Category string

	// Index is the position of the COMMIT entry in the trace.
	Index int
}
