// Package logging constructs the shared zap logger used across the engine.
package logging

import "go.uber.org/zap"

// New returns a production logger, or a development logger with caller
// info and debug level when debug is true.
func New(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// NewNop returns a no-op logger, useful in tests that don't assert on
// log output.
func NewNop() *zap.Logger {
	return zap.NewNop()
}
