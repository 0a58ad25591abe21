// Package ports defines the interfaces that connect the replay core to
// infrastructure adapters.
//
// # Port Interfaces
//
//   - [Conn]: executes statements and commits on one database connection
//   - [SampleSink]: receives latency samples at the end of a session
//   - [Observer]: receives progress and error notifications from the engine
//
// The replay engine (internal/replay) depends only on these interfaces.
// Adapters (internal/adapters) implement them with database/sql drivers and
// files.
package ports
