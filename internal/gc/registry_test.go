package gc

import (
	"testing"
	"unsafe"

	"github.com/stutter-lang/stutter/internal/primes"
)

// testPointers returns n distinct stable addresses backed by live slices.
func testPointers(t *testing.T, n int) []unsafe.Pointer {
	t.Helper()
	backing := make([][]byte, n)
	ptrs := make([]unsafe.Pointer, n)
	for i := range backing {
		backing[i] = make([]byte, 16)
		ptrs[i] = unsafe.Pointer(&backing[i][0])
	}
	t.Cleanup(func() { _ = backing })
	return ptrs
}

// checkRegistryInvariants verifies bucket placement, the size count, and
// that the capacity is prime and not below the floor.
func checkRegistryInvariants(t *testing.T, r *registry) {
	t.Helper()
	var counted uintptr
	for i := uintptr(0); i < r.capacity; i++ {
		for rec := r.buckets[i]; rec != nil; rec = rec.next {
			counted++
			if want := hashAddr(uintptr(rec.ptr)) % r.capacity; want != i {
				t.Errorf("record %#x in bucket %d, want %d", uintptr(rec.ptr), i, want)
			}
		}
	}
	if counted != r.size {
		t.Errorf("registry size = %d, records reachable = %d", r.size, counted)
	}
	if r.capacity < r.minCapacity {
		t.Errorf("capacity %d below minimum %d", r.capacity, r.minCapacity)
	}
	if !primes.IsPrime(uint64(r.capacity)) {
		t.Errorf("capacity %d is not prime", r.capacity)
	}
}

func TestRegistryPutGet(t *testing.T) {
	r := newRegistry(8, 8, 0.5, 0.2, 0.8)
	ptrs := testPointers(t, 4)

	t.Run("RoundTrip", func(t *testing.T) {
		fired := false
		r.put(ptrs[0], 64, func(unsafe.Pointer) { fired = true })

		rec := r.get(uintptr(ptrs[0]))
		if rec == nil {
			t.Fatal("get after put returned nil")
		}
		if rec.size != 64 {
			t.Errorf("size = %d, want 64", rec.size)
		}
		if rec.finalizer == nil {
			t.Fatal("finalizer not stored")
		}
		rec.finalizer(rec.ptr)
		if !fired {
			t.Error("stored finalizer is not the one provided")
		}
		checkRegistryInvariants(t, r)
	})

	t.Run("UpsertKeepsSize", func(t *testing.T) {
		r.put(ptrs[1], 32, nil)
		before := r.size
		r.put(ptrs[1], 48, nil)
		if r.size != before {
			t.Errorf("size changed on upsert: %d -> %d", before, r.size)
		}
		if rec := r.get(uintptr(ptrs[1])); rec.size != 48 {
			t.Errorf("upsert did not refresh size: %d", rec.size)
		}
		checkRegistryInvariants(t, r)
	})

	t.Run("GetUnknown", func(t *testing.T) {
		if rec := r.get(uintptr(ptrs[3]) + 1); rec != nil {
			t.Error("get of unknown address returned a record")
		}
	})
}

func TestRegistryRemove(t *testing.T) {
	r := newRegistry(8, 8, 0.5, 0.2, 0.8)
	ptrs := testPointers(t, 3)
	for _, p := range ptrs {
		r.put(p, 8, nil)
	}

	r.remove(uintptr(ptrs[1]))
	if r.get(uintptr(ptrs[1])) != nil {
		t.Error("removed record still retrievable")
	}
	if r.get(uintptr(ptrs[0])) == nil || r.get(uintptr(ptrs[2])) == nil {
		t.Error("remove disturbed unrelated records")
	}
	checkRegistryInvariants(t, r)

	// Unknown addresses are ignored.
	before := r.size
	r.remove(uintptr(ptrs[1]))
	if r.size != before {
		t.Error("remove of unknown address changed size")
	}
}

func TestRegistryResize(t *testing.T) {
	t.Run("UpsizePreservesContents", func(t *testing.T) {
		r := newRegistry(3, 3, 0.5, 0.2, 0.8)
		ptrs := testPointers(t, 64)
		initial := r.capacity
		for _, p := range ptrs {
			r.put(p, 8, nil)
		}
		if r.capacity <= initial {
			t.Fatalf("capacity did not grow: %d", r.capacity)
		}
		for _, p := range ptrs {
			if r.get(uintptr(p)) == nil {
				t.Fatalf("record %#x lost across resize", uintptr(p))
			}
		}
		checkRegistryInvariants(t, r)
	})

	t.Run("DownsizeStopsAtFloor", func(t *testing.T) {
		r := newRegistry(11, 97, 0.5, 0.2, 0.8)
		ptrs := testPointers(t, 60)
		for _, p := range ptrs {
			r.put(p, 8, nil)
		}
		for _, p := range ptrs {
			r.remove(uintptr(p))
		}
		if r.capacity < r.minCapacity {
			t.Errorf("capacity %d fell below floor %d", r.capacity, r.minCapacity)
		}
		checkRegistryInvariants(t, r)
	})

	t.Run("RefusesBelowFloor", func(t *testing.T) {
		r := newRegistry(17, 17, 0.5, 0.2, 0.8)
		r.resize(5)
		if r.capacity != 17 {
			t.Errorf("resize below floor changed capacity to %d", r.capacity)
		}
	})
}

func TestRegistrySweepLimitSchedule(t *testing.T) {
	r := newRegistry(17, 17, 0.5, 0.2, 0.8)
	if r.sweepLimit != uintptr(0.5*float64(r.capacity)) {
		t.Errorf("initial sweep limit = %d", r.sweepLimit)
	}

	ptrs := testPointers(t, 10)
	for _, p := range ptrs {
		r.put(p, 8, nil)
	}

	// After a resize the next collection is scheduled once half the
	// remaining free slots have been consumed.
	r.resize(37)
	want := r.size + uintptr(r.sweepFactor*float64(r.capacity-r.size))
	if r.sweepLimit != want {
		t.Errorf("sweep limit after resize = %d, want %d", r.sweepLimit, want)
	}
}
