// Package log provides the logging abstraction used by sqlreplay components.
//
// Library packages accept a [Logger] and never log through a global. The
// zerolog adapter is what the CLI wires in; [NoopLogger] is the default when
// no logger is supplied.
//
//	logger := log.NewZerologAdapterWithLogger(zerolog.New(os.Stderr))
//	engine := replay.New(conn, replay.WithLogger(logger))
package log
