// Package gc implements a conservative, stop-the-world, mark-and-sweep
// garbage collector for the stutter runtime. Client code allocates through
// a Collector instead of the raw system allocator; the collector tracks
// every live allocation in a prime-sized hash table keyed by address and
// reclaims allocations no longer reachable from the stack or from
// registered roots. Reachability is conservative: any word whose value
// matches a managed address keeps that allocation alive.
//
// The design assumes a single mutator. Start must be called from a stack
// frame that outlives every frame that allocates, with the address of a
// local in that frame as the bottom-of-stack; Stop belongs in the same
// frame. Every allocation is a potential collection point.
package gc

import (
	"errors"
	"unsafe"

	"github.com/stutter-lang/stutter/internal/sysalloc"
)

// Default registry tuning, used wherever a knob is left unset.
const (
	DefaultInitialCapacity = 1024
	DefaultMinCapacity     = 1024
	DefaultDownsizeFactor  = 0.2
	DefaultUpsizeFactor    = 0.8
	DefaultSweepFactor     = 0.5
)

var (
	// ErrOutOfMemory is returned by Realloc when the system allocator
	// refuses memory; no collection is forced before it is reported.
	ErrOutOfMemory = errors.New("gc: out of memory")
	// ErrUnmanagedPointer is returned by Realloc for a non-nil pointer the
	// collector does not own.
	ErrUnmanagedPointer = errors.New("gc: pointer is not managed by this collector")
)

// Collector owns one allocation registry, the bottom-of-stack recorded at
// start, and a paused flag. While paused, automatic collection is
// suppressed; explicit Run still works.
type Collector struct {
	registry  *registry
	allocator sysalloc.Allocator
	stack     StackSource
	bos       uintptr
	paused    bool

	runs       uint64
	freedTotal uintptr
}

// Option adjusts collector construction.
type Option func(*Collector)

// WithAllocator substitutes the system allocator the collector draws
// client memory from.
func WithAllocator(a sysalloc.Allocator) Option {
	return func(c *Collector) { c.allocator = a }
}

// WithStackSource substitutes the stack words scanned during mark.
func WithStackSource(s StackSource) Option {
	return func(c *Collector) { c.stack = s }
}

// Start creates a collector with default tuning. bos is the address of a
// local variable in the caller's frame, taken as uintptr(unsafe.Pointer(&v))
// so the variable itself stays on the stack; it bounds the far end of the
// stack region scanned during mark.
func Start(bos uintptr, options ...Option) *Collector {
	return StartExt(bos, DefaultInitialCapacity, DefaultMinCapacity,
		DefaultDownsizeFactor, DefaultUpsizeFactor, DefaultSweepFactor, options...)
}

// StartExt creates a collector with explicit tuning. Non-positive factors
// fall back to their defaults, and initialCapacity is raised to
// minCapacity if smaller.
func StartExt(bos uintptr, initialCapacity, minCapacity uintptr,
	downsizeFactor, upsizeFactor, sweepFactor float64, options ...Option) *Collector {
	if downsizeFactor <= 0 {
		downsizeFactor = DefaultDownsizeFactor
	}
	if upsizeFactor <= 0 {
		upsizeFactor = DefaultUpsizeFactor
	}
	if sweepFactor <= 0 {
		sweepFactor = DefaultSweepFactor
	}
	if initialCapacity < minCapacity {
		initialCapacity = minCapacity
	}

	c := &Collector{
		bos:      bos,
		registry: newRegistry(minCapacity, initialCapacity, sweepFactor, downsizeFactor, upsizeFactor),
	}
	for _, opt := range options {
		opt(c)
	}
	if c.allocator == nil {
		c.allocator = sysalloc.NewHeapAllocator()
	}
	if c.stack == nil {
		c.stack = &machineStack{bos: c.bos}
	}
	DBG("created new garbage collector (cap=%d, siz=%d)", c.registry.capacity, c.registry.size)

	return c
}

// Stop runs a final collection and tears the registry down. Client memory
// that is still reachable is NOT released; callers wanting a leak-free
// shutdown should unroot their statics and Run before Stop.
func (c *Collector) Stop() {
	c.Run()
	DBG("deleting allocation registry (cap=%d, siz=%d)", c.registry.capacity, c.registry.size)
	c.registry.buckets = nil
	c.registry.size = 0
	c.registry.capacity = 0
}

// Pause suppresses automatic collection on the allocation path.
func (c *Collector) Pause() {
	c.paused = true
}

// Resume re-enables automatic collection.
func (c *Collector) Resume() {
	c.paused = false
}

// Paused reports whether automatic collection is suppressed.
func (c *Collector) Paused() bool {
	return c.paused
}

// Malloc allocates size bytes of managed, uninitialized memory.
func (c *Collector) Malloc(size uintptr) unsafe.Pointer {
	return c.MallocExt(size, nil)
}

// MallocExt allocates size bytes of managed, uninitialized memory with a
// finalizer.
func (c *Collector) MallocExt(size uintptr, finalizer Finalizer) unsafe.Pointer {
	return c.allocate(0, size, finalizer)
}

// Calloc allocates count*size bytes of managed, zero-initialized memory.
// A zero count allocates size bytes without zeroing, as Malloc does.
func (c *Collector) Calloc(count, size uintptr) unsafe.Pointer {
	return c.CallocExt(count, size, nil)
}

// CallocExt allocates count*size bytes of managed, zero-initialized memory
// with a finalizer. A zero count allocates size bytes without zeroing.
func (c *Collector) CallocExt(count, size uintptr, finalizer Finalizer) unsafe.Pointer {
	return c.allocate(count, size, finalizer)
}

// allocate generalizes over Malloc and Calloc. A zero count requests an
// uninitialized region of size bytes; a nonzero count requests count*size
// zeroed bytes.
func (c *Collector) allocate(count, size uintptr, finalizer Finalizer) unsafe.Pointer {
	length := size
	if count > 0 {
		length = count * size
		if size != 0 && length/size != count {
			return nil // overflow
		}
	}
	if length == 0 {
		return nil
	}

	ptr := c.sysAlloc(count, length)
	// If allocation fails, attempt to free some memory and try again.
	if ptr == nil && !c.paused {
		c.Run()
		ptr = c.sysAlloc(count, length)
	}
	if ptr == nil {
		return nil
	}
	DBG("allocated %d bytes at %#x", length, uintptr(ptr))

	rec := c.registry.put(ptr, length, finalizer)
	if rec == nil {
		// Failed to allocate the metadata: give it another try, or at
		// least fail cleanly.
		c.Run()
		rec = c.registry.put(ptr, length, finalizer)
		if rec == nil {
			c.allocator.Free(ptr)
			return nil
		}
	}

	if !c.paused && c.registry.size > c.registry.sweepLimit {
		// The fresh region is not yet referenced from anywhere the scan
		// sees; root it for this cycle so it is not swept before return.
		rec.tag |= tagRoot
		freed := c.Run()
		rec.tag &^= tagRoot
		DBG("collection cleaned up %d bytes", freed)
	}

	return rec.ptr
}

func (c *Collector) sysAlloc(count, length uintptr) unsafe.Pointer {
	if count == 0 {
		return c.allocator.Alloc(length)
	}
	return c.allocator.AllocZeroed(length)
}

// Realloc resizes the managed region at p to size bytes. A nil p behaves
// like a fresh allocation with no finalizer. A non-nil p the collector
// does not own fails with ErrUnmanagedPointer without touching memory. On
// allocator failure the old region stays intact. When the region moves,
// the record follows it to the new address and keeps its finalizer.
func (c *Collector) Realloc(p unsafe.Pointer, size uintptr) (unsafe.Pointer, error) {
	rec := c.registry.get(uintptr(p))
	if p != nil && rec == nil {
		// The caller passed an unknown pointer.
		return nil, ErrUnmanagedPointer
	}

	if size == 0 {
		if p != nil {
			c.Free(p)
		}
		return nil, nil
	}

	q := c.allocator.Realloc(p, size)
	if q == nil {
		// Realloc failed but p is still valid.
		return nil, ErrOutOfMemory
	}

	if p == nil {
		// Allocation, not reallocation.
		fresh := c.registry.put(q, size, nil)
		if fresh == nil {
			c.allocator.Free(q)
			return nil, ErrOutOfMemory
		}
		return fresh.ptr, nil
	}

	if p == q {
		// Successful reallocation without a move.
		rec.size = size
	} else {
		// The region moved: re-home the record under the new address,
		// carrying the finalizer over.
		finalizer := rec.finalizer
		c.registry.remove(uintptr(p))
		c.registry.put(q, size, finalizer)
	}

	return q, nil
}

// Free releases the managed region at p immediately, invoking its
// finalizer first. Unknown pointers are logged and ignored.
func (c *Collector) Free(p unsafe.Pointer) {
	rec := c.registry.get(uintptr(p))
	if rec == nil {
		WARN("ignoring request to free unknown pointer %#x", uintptr(p))
		return
	}
	if rec.finalizer != nil {
		rec.finalizer(p)
	}
	c.allocator.Free(p)
	c.registry.remove(uintptr(p))
}

// MakeStatic tags the allocation at p as a root, keeping it and everything
// it references alive independent of stack reachability. Unknown pointers
// are ignored.
func (c *Collector) MakeStatic(p unsafe.Pointer) {
	if rec := c.registry.get(uintptr(p)); rec != nil {
		rec.tag |= tagRoot
	}
}

// UnmakeStatic clears the root tag on the allocation at p. Unknown
// pointers are ignored.
func (c *Collector) UnmakeStatic(p unsafe.Pointer) {
	if rec := c.registry.get(uintptr(p)); rec != nil {
		rec.tag &^= tagRoot
	}
}

// Run forces a full mark and sweep cycle and returns the number of client
// bytes freed.
func (c *Collector) Run() uintptr {
	DBG("initiating collection run")
	c.mark()
	freed := c.sweep()
	c.runs++
	c.freedTotal += freed

	return freed
}

// Strdup allocates a managed copy of s followed by a terminating zero
// byte, matching the layout the C-string consumers of the runtime expect.
// Returns nil on allocation failure.
func (c *Collector) Strdup(s string) unsafe.Pointer {
	ptr := c.Malloc(uintptr(len(s)) + 1)
	if ptr == nil {
		return nil
	}
	dst := unsafe.Slice((*byte)(ptr), len(s)+1)
	copy(dst, s)
	dst[len(s)] = 0

	return ptr
}

// GoString reads the managed C string at p back into a Go string.
func GoString(p unsafe.Pointer) string {
	if p == nil {
		return ""
	}
	n := uintptr(0)
	for *(*byte)(unsafe.Pointer(uintptr(p) + n)) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(p), n))
}
