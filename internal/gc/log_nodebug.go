//go:build nodebug

package gc

// logging functions, no debug version (empty, do nothing functions)

// DBGon is a shorthand for checking if debug logging is enabled.
func DBGon() bool {
	return false
}

// DBG is a shorthand for logging a debug message.
func DBG(f string, a ...interface{}) {
}
