package gc

import "unsafe"

// global is the optional process-wide collector. Bind it once at startup;
// the package-level allocation functions panic when it is unbound.
var global *Collector

// Bind installs c as the process-wide collector.
func Bind(c *Collector) {
	global = c
}

// Global returns the process-wide collector, or nil if none is bound.
func Global() *Collector {
	return global
}

// Malloc allocates through the process-wide collector.
func Malloc(size uintptr) unsafe.Pointer {
	if global == nil {
		panic("gc: global collector not bound")
	}
	return global.Malloc(size)
}

// Calloc allocates zeroed memory through the process-wide collector.
func Calloc(count, size uintptr) unsafe.Pointer {
	if global == nil {
		panic("gc: global collector not bound")
	}
	return global.Calloc(count, size)
}

// Free releases p through the process-wide collector.
func Free(p unsafe.Pointer) {
	if global == nil {
		panic("gc: global collector not bound")
	}
	global.Free(p)
}

// Run forces a collection on the process-wide collector.
func Run() uintptr {
	if global == nil {
		panic("gc: global collector not bound")
	}
	return global.Run()
}
