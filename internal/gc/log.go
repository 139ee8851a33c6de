package gc

// logging functions

import (
	"github.com/intuitivelabs/slog"
)

// Log is the generic collector log.
var Log slog.Log = slog.New(slog.LWARN, slog.LlocInfoL, slog.LStdErr)

// SetLogLevel replaces the collector log with one at the given level.
func SetLogLevel(lev slog.LogLevel) {
	Log = slog.New(lev, slog.LlocInfoL, slog.LStdErr)
}

// INFO is a shorthand for logging an informational message.
func INFO(f string, a ...interface{}) {
	Log.LLog(slog.LINFO, 1, "INFO: gc: ", f, a...)
}

// WARN is a shorthand for logging a warning message.
func WARN(f string, a ...interface{}) {
	Log.LLog(slog.LWARN, 1, "WARNING: gc: ", f, a...)
}

// ERR is a shorthand for logging an error message.
func ERR(f string, a ...interface{}) {
	Log.LLog(slog.LERR, 1, "ERROR: gc: ", f, a...)
}
