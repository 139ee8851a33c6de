//go:build !nodebug

package gc

// logging functions, debug version

import (
	"github.com/intuitivelabs/slog"
)

// DBGon is a shorthand for checking if debug logging is enabled.
func DBGon() bool {
	return Log.DBGon()
}

// DBG is a shorthand for logging a debug message.
func DBG(f string, a ...interface{}) {
	Log.LLog(slog.LDBG, 1, "DBG: gc: ", f, a...)
}
