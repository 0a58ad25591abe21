// Package domain contains the core entities and value objects for sqlreplay.
//
// This package has no dependencies on infrastructure concerns (database
// drivers, file system, logging) and contains only the replay vocabulary.
//
// # Entities
//
//   - [Entry]: one captured operation, either an opaque statement or a
//     transaction control token, with its inter-arrival offset
//   - [Trace]: the ordered, immutable sequence of entries of one client session
//   - [LatencySample]: the measured duration of one completed transaction
//
// # Errors
//
//   - [LoadError]: unreadable or malformed capture
//   - [ConnectionError]: fatal loss of the database connection
//   - [StatementError]: a single statement rejected by the backend
//   - [TimingAnomaly]: advisory note about a negative think time
package domain
