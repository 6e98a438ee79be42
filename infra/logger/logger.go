package logger

import corelogger "github.com/kilianp07/lastmile/core/logger"

// Logger mirrors the core logger interface.
type Logger = corelogger.Logger

// NopLogger discards everything.
type NopLogger = corelogger.NopLogger

// New returns a Logger for the given component. The output format follows
// the global options set by Configure.
func New(component string) Logger {
	return NewZerologLogger(component)
}
