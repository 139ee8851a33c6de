package gc

import "unsafe"

// Finalizer is a per-allocation callback invoked immediately before the
// collector releases that allocation's memory. A finalizer must not
// allocate through the collector, change roots, or free other managed
// pointers; the sweep may be iterating the very chain such a call would
// touch.
type Finalizer func(ptr unsafe.Pointer)

// Allocations can temporarily be tagged as marked during a collection
// cycle, or tagged as roots which are never swept automatically. The
// latter allows global variables to live in managed memory.
type tag uint8

const (
	tagNone tag = 0x0
	tagRoot tag = 0x1
	tagMark tag = 0x2
)

// Allocation is the bookkeeping record for one managed region.
type Allocation struct {
	ptr       unsafe.Pointer
	size      uintptr
	tag       tag
	finalizer Finalizer
	next      *Allocation // separate chaining
}

// Ptr returns the address of the client region.
func (a *Allocation) Ptr() unsafe.Pointer { return a.ptr }

// Size returns the byte length of the client region.
func (a *Allocation) Size() uintptr { return a.size }

// Rooted reports whether the allocation is tagged as a root.
func (a *Allocation) Rooted() bool { return a.tag&tagRoot != 0 }

func (a *Allocation) marked() bool { return a.tag&tagMark != 0 }
