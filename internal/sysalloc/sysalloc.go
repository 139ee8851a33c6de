// Package sysalloc provides the raw memory source underneath the stutter
// garbage collector. The collector asks an Allocator for client regions and
// is the only component that ever releases them; the allocator itself does
// no reachability tracking.
//
// Two implementations are provided: a heap allocator backed by Go slices,
// which is the default, and a page allocator that maps pages directly from
// the operating system. Regions never move for the lifetime of an
// allocation with either implementation.
package sysalloc

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// Allocator is the interface the collector allocates through.
//
// Alloc returns nil when the allocator cannot satisfy the request, either
// because the system refused memory or because the configured memory limit
// would be exceeded. Realloc returns nil on failure and leaves the old
// region intact; when it succeeds it may return the same address (resize in
// place) or a new one, in which case the old region has been released.
type Allocator interface {
	Alloc(size uintptr) unsafe.Pointer
	AllocZeroed(size uintptr) unsafe.Pointer
	Realloc(ptr unsafe.Pointer, newSize uintptr) unsafe.Pointer
	Free(ptr unsafe.Pointer)
	Stats() Stats
}

// Stats provides allocation statistics.
type Stats struct {
	TotalAllocated    uintptr
	TotalFreed        uintptr
	ActiveAllocations int
	AllocationCount   uint64
	FreeCount         uint64
	BytesInUse        uintptr
}

// Config carries the allocator knobs.
type Config struct {
	// MemoryLimit bounds BytesInUse; 0 means unlimited. Requests that
	// would cross the limit fail with a nil pointer.
	MemoryLimit uintptr
	// AlignmentSize is the minimum alignment of returned regions.
	AlignmentSize uintptr
}

// Option mutates a Config.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		MemoryLimit:   0,
		AlignmentSize: 8,
	}
}

// WithMemoryLimit bounds the total bytes the allocator will hand out.
func WithMemoryLimit(limit uintptr) Option {
	return func(c *Config) { c.MemoryLimit = limit }
}

// WithAlignment sets the minimum alignment of returned regions.
func WithAlignment(alignment uintptr) Option {
	return func(c *Config) { c.AlignmentSize = alignment }
}

// HeapAllocator hands out regions backed by Go byte slices. The backing
// slice of every live region is retained in a table so the address stays
// valid until Free drops it.
type HeapAllocator struct {
	config  *Config
	regions map[unsafe.Pointer][]byte

	totalAllocated uintptr
	totalFreed     uintptr
	allocCount     uint64
	freeCount      uint64

	mu sync.Mutex
}

// NewHeapAllocator creates a slice-backed allocator.
func NewHeapAllocator(options ...Option) *HeapAllocator {
	config := defaultConfig()
	for _, opt := range options {
		opt(config)
	}

	return &HeapAllocator{
		config:  config,
		regions: make(map[unsafe.Pointer][]byte),
	}
}

// Alloc allocates size bytes and returns their address, or nil on failure.
func (ha *HeapAllocator) Alloc(size uintptr) unsafe.Pointer {
	if size == 0 {
		return nil
	}

	alignedSize := alignUp(size, ha.config.AlignmentSize)
	if alignedSize < size {
		return nil // overflow
	}

	if !ha.reserve(alignedSize) {
		return nil
	}

	backing := make([]byte, alignedSize)
	ptr := unsafe.Pointer(&backing[0])

	ha.mu.Lock()
	ha.regions[ptr] = backing
	ha.mu.Unlock()

	atomic.AddUint64(&ha.allocCount, 1)

	return ptr
}

// AllocZeroed allocates size bytes of zeroed memory. Go slices are zeroed
// on creation, so this is Alloc under a name matching the request.
func (ha *HeapAllocator) AllocZeroed(size uintptr) unsafe.Pointer {
	return ha.Alloc(size)
}

// Realloc resizes the region at ptr to newSize bytes. Shrinking and
// growing within the backing capacity keeps the address; otherwise a new
// region is allocated, the contents copied, and the old region released.
func (ha *HeapAllocator) Realloc(ptr unsafe.Pointer, newSize uintptr) unsafe.Pointer {
	if ptr == nil {
		return ha.Alloc(newSize)
	}

	if newSize == 0 {
		ha.Free(ptr)
		return nil
	}

	ha.mu.Lock()
	backing, known := ha.regions[ptr]
	ha.mu.Unlock()

	if !known {
		return nil
	}

	if newSize <= uintptr(cap(backing)) {
		// Resize in place.
		return ptr
	}

	newPtr := ha.Alloc(newSize)
	if newPtr == nil {
		return nil
	}

	copyMemory(newPtr, ptr, uintptr(len(backing)))
	ha.Free(ptr)

	return newPtr
}

// Free releases the region at ptr. Unknown pointers are ignored.
func (ha *HeapAllocator) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}

	var size uintptr

	ha.mu.Lock()
	if backing, known := ha.regions[ptr]; known {
		size = uintptr(len(backing))
		delete(ha.regions, ptr)
	}
	ha.mu.Unlock()

	if size > 0 {
		atomic.AddUintptr(&ha.totalFreed, size)
		atomic.AddUint64(&ha.freeCount, 1)
	}
}

// Stats returns allocation statistics.
func (ha *HeapAllocator) Stats() Stats {
	ha.mu.Lock()
	active := len(ha.regions)
	ha.mu.Unlock()

	allocated := atomic.LoadUintptr(&ha.totalAllocated)
	freed := atomic.LoadUintptr(&ha.totalFreed)

	return Stats{
		TotalAllocated:    allocated,
		TotalFreed:        freed,
		ActiveAllocations: active,
		AllocationCount:   atomic.LoadUint64(&ha.allocCount),
		FreeCount:         atomic.LoadUint64(&ha.freeCount),
		BytesInUse:        allocated - freed,
	}
}

// reserve charges size against the memory limit, failing the request when
// the limit would be crossed.
func (ha *HeapAllocator) reserve(size uintptr) bool {
	if ha.config.MemoryLimit > 0 {
		inUse := atomic.LoadUintptr(&ha.totalAllocated) - atomic.LoadUintptr(&ha.totalFreed)
		if inUse+size > ha.config.MemoryLimit {
			return false
		}
	}

	atomic.AddUintptr(&ha.totalAllocated, size)

	return true
}

// PageAllocator hands out regions mapped directly from the operating
// system. Requests are rounded up to whole pages.
type PageAllocator struct {
	config  *Config
	regions map[unsafe.Pointer][]byte

	totalAllocated uintptr
	totalFreed     uintptr
	allocCount     uint64
	freeCount      uint64

	mu sync.Mutex
}

// NewPageAllocator creates an allocator mapping pages from the OS.
func NewPageAllocator(options ...Option) *PageAllocator {
	config := defaultConfig()
	for _, opt := range options {
		opt(config)
	}

	return &PageAllocator{
		config:  config,
		regions: make(map[unsafe.Pointer][]byte),
	}
}

// Alloc maps at least size bytes of fresh pages, or returns nil.
func (pa *PageAllocator) Alloc(size uintptr) unsafe.Pointer {
	if size == 0 {
		return nil
	}

	mapped := alignUp(size, pageSize())
	if mapped < size {
		return nil // overflow
	}

	if pa.config.MemoryLimit > 0 {
		inUse := atomic.LoadUintptr(&pa.totalAllocated) - atomic.LoadUintptr(&pa.totalFreed)
		if inUse+mapped > pa.config.MemoryLimit {
			return nil
		}
	}

	backing, err := pageMap(mapped)
	if err != nil {
		return nil
	}

	ptr := unsafe.Pointer(&backing[0])

	pa.mu.Lock()
	pa.regions[ptr] = backing
	pa.mu.Unlock()

	atomic.AddUintptr(&pa.totalAllocated, mapped)
	atomic.AddUint64(&pa.allocCount, 1)

	return ptr
}

// AllocZeroed maps at least size bytes of zeroed pages. Fresh pages from
// the OS are already zeroed.
func (pa *PageAllocator) AllocZeroed(size uintptr) unsafe.Pointer {
	return pa.Alloc(size)
}

// Realloc resizes the mapping at ptr. Within the mapped page span the
// address is kept; otherwise new pages are mapped and the contents copied.
func (pa *PageAllocator) Realloc(ptr unsafe.Pointer, newSize uintptr) unsafe.Pointer {
	if ptr == nil {
		return pa.Alloc(newSize)
	}

	if newSize == 0 {
		pa.Free(ptr)
		return nil
	}

	pa.mu.Lock()
	backing, known := pa.regions[ptr]
	pa.mu.Unlock()

	if !known {
		return nil
	}

	if newSize <= uintptr(len(backing)) {
		return ptr
	}

	newPtr := pa.Alloc(newSize)
	if newPtr == nil {
		return nil
	}

	copyMemory(newPtr, ptr, uintptr(len(backing)))
	pa.Free(ptr)

	return newPtr
}

// Free unmaps the region at ptr. Unknown pointers are ignored.
func (pa *PageAllocator) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}

	pa.mu.Lock()
	backing, known := pa.regions[ptr]
	if known {
		delete(pa.regions, ptr)
	}
	pa.mu.Unlock()

	if !known {
		return
	}

	size := uintptr(len(backing))
	if err := pageUnmap(backing); err != nil {
		// The mapping is gone from the table either way; the pages leak.
		return
	}

	atomic.AddUintptr(&pa.totalFreed, size)
	atomic.AddUint64(&pa.freeCount, 1)
}

// Stats returns allocation statistics.
func (pa *PageAllocator) Stats() Stats {
	pa.mu.Lock()
	active := len(pa.regions)
	pa.mu.Unlock()

	allocated := atomic.LoadUintptr(&pa.totalAllocated)
	freed := atomic.LoadUintptr(&pa.totalFreed)

	return Stats{
		TotalAllocated:    allocated,
		TotalFreed:        freed,
		ActiveAllocations: active,
		AllocationCount:   atomic.LoadUint64(&pa.allocCount),
		FreeCount:         atomic.LoadUint64(&pa.freeCount),
		BytesInUse:        allocated - freed,
	}
}

// alignUp aligns a size up to the nearest multiple of alignment.
func alignUp(size, alignment uintptr) uintptr {
	return (size + alignment - 1) &^ (alignment - 1)
}

// copyMemory copies size bytes from src to dst.
func copyMemory(dst, src unsafe.Pointer, size uintptr) {
	dstSlice := unsafe.Slice((*byte)(dst), size)
	srcSlice := unsafe.Slice((*byte)(src), size)
	copy(dstSlice, srcSlice)
}
