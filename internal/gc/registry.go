package gc

import (
	"unsafe"

	"github.com/stutter-lang/stutter/internal/primes"
)

// registry is the allocation table: a separately-chained hash map from raw
// address to Allocation. Capacity is always prime so the modulus spreads
// the high bits of the shifted address.
type registry struct {
	buckets        []*Allocation
	capacity       uintptr
	size           uintptr
	minCapacity    uintptr
	downsizeFactor float64
	upsizeFactor   float64
	sweepFactor    float64
	sweepLimit     uintptr
}

// hashAddr hashes a raw address. Allocations from the system allocator are
// aligned, so the low bits carry no information and are dropped.
func hashAddr(addr uintptr) uintptr {
	return addr >> 3
}

func newRegistry(minCapacity, capacity uintptr, sweepFactor, downsizeFactor, upsizeFactor float64) *registry {
	minCapacity = uintptr(primes.NextPrime(uint64(minCapacity)))
	capacity = uintptr(primes.NextPrime(uint64(capacity)))
	if capacity < minCapacity {
		capacity = minCapacity
	}

	r := &registry{
		buckets:        make([]*Allocation, capacity),
		capacity:       capacity,
		minCapacity:    minCapacity,
		downsizeFactor: downsizeFactor,
		upsizeFactor:   upsizeFactor,
		sweepFactor:    sweepFactor,
		sweepLimit:     uintptr(sweepFactor * float64(capacity)),
	}
	DBG("created allocation registry (cap=%d, siz=%d)", r.capacity, r.size)

	return r
}

func (r *registry) index(addr uintptr) uintptr {
	return hashAddr(addr) % r.capacity
}

func (r *registry) loadFactor() float64 {
	return float64(r.size) / float64(r.capacity)
}

// put installs a record for ptr. A record with an equal address is
// replaced in place with the fresh size and finalizer; otherwise the new
// record is prepended to its chain. Crossing the upsize load factor grows
// the table to the next prime past twice the capacity.
func (r *registry) put(ptr unsafe.Pointer, size uintptr, finalizer Finalizer) *Allocation {
	addr := uintptr(ptr)
	index := r.index(addr)
	rec := &Allocation{ptr: ptr, size: size, finalizer: finalizer}

	var prev *Allocation
	for cur := r.buckets[index]; cur != nil; cur = cur.next {
		if uintptr(cur.ptr) == addr {
			rec.next = cur.next
			if prev == nil {
				r.buckets[index] = rec
			} else {
				prev.next = rec
			}
			DBG("registry upsert at ix=%d", index)

			return rec
		}
		prev = cur
	}

	rec.next = r.buckets[index]
	r.buckets[index] = rec
	r.size++
	DBG("registry insert at ix=%d", index)

	if load := r.loadFactor(); load > r.upsizeFactor {
		DBG("load factor %0.3g > %0.3g, upsizing", load, r.upsizeFactor)
		r.resize(uintptr(primes.NextPrime(uint64(r.capacity * 2))))
	}

	return rec
}

// get returns the record whose address equals addr, or nil.
func (r *registry) get(addr uintptr) *Allocation {
	for cur := r.buckets[r.index(addr)]; cur != nil; cur = cur.next {
		if uintptr(cur.ptr) == addr {
			return cur
		}
	}

	return nil
}

// remove unlinks the record for addr, if present, and downsizes the table
// when the load factor drops below the downsize threshold. Unknown
// addresses are ignored.
func (r *registry) remove(addr uintptr) {
	if !r.unlink(addr) {
		return
	}
	r.maybeDownsize()
}

// unlink removes the record for addr without any resize check. Sweep uses
// this directly so a downsize cannot re-home chains mid-traversal.
func (r *registry) unlink(addr uintptr) bool {
	index := r.index(addr)

	var prev *Allocation
	for cur := r.buckets[index]; cur != nil; cur = cur.next {
		if uintptr(cur.ptr) == addr {
			if prev == nil {
				r.buckets[index] = cur.next
			} else {
				prev.next = cur.next
			}
			r.size--

			return true
		}
		prev = cur
	}

	return false
}

// maybeDownsize halves the capacity while the load factor sits below the
// downsize threshold and the halved capacity stays at or above the floor.
func (r *registry) maybeDownsize() {
	for r.loadFactor() < r.downsizeFactor {
		halved := uintptr(primes.NextPrime(uint64(r.capacity / 2)))
		if halved < r.minCapacity || halved >= r.capacity {
			return
		}
		DBG("load factor %0.3g < %0.3g, downsizing", r.loadFactor(), r.downsizeFactor)
		r.resize(halved)
	}
}

// resize re-homes every record under a fresh bucket array of the given
// capacity. Requests below the capacity floor are ignored. The sweep limit
// is rescheduled so the next collection triggers once the configured
// fraction of the remaining free slots has been consumed.
func (r *registry) resize(newCapacity uintptr) {
	if newCapacity < r.minCapacity {
		return
	}
	DBG("resizing registry (cap=%d, siz=%d) -> (cap=%d)", r.capacity, r.size, newCapacity)

	resized := make([]*Allocation, newCapacity)
	for i := uintptr(0); i < r.capacity; i++ {
		rec := r.buckets[i]
		for rec != nil {
			next := rec.next
			newIndex := hashAddr(uintptr(rec.ptr)) % newCapacity
			rec.next = resized[newIndex]
			resized[newIndex] = rec
			rec = next
		}
	}

	r.capacity = newCapacity
	r.buckets = resized
	r.sweepLimit = r.size + uintptr(r.sweepFactor*float64(r.capacity-r.size))
}
