package gc

import "github.com/stutter-lang/stutter/internal/sysalloc"

// Stats is a point-in-time view of the collector for observability
// surfaces. It is advisory output; nothing in the collector reads it back.
type Stats struct {
	Capacity        uintptr
	Size            uintptr
	SweepLimit      uintptr
	Roots           int
	Paused          bool
	Runs            uint64
	FreedBytesTotal uintptr
	BytesManaged    uintptr
}

// Stats snapshots the collector state.
func (c *Collector) Stats() Stats {
	s := Stats{
		Capacity:        c.registry.capacity,
		Size:            c.registry.size,
		SweepLimit:      c.registry.sweepLimit,
		Paused:          c.paused,
		Runs:            c.runs,
		FreedBytesTotal: c.freedTotal,
	}
	for i := uintptr(0); i < c.registry.capacity; i++ {
		for rec := c.registry.buckets[i]; rec != nil; rec = rec.next {
			s.BytesManaged += rec.size
			if rec.Rooted() {
				s.Roots++
			}
		}
	}

	return s
}

// AllocatorStats exposes the counters of the system allocator underneath
// the collector.
func (c *Collector) AllocatorStats() sysalloc.Stats {
	return c.allocator.Stats()
}

// HeapRecord describes one managed allocation for inspection surfaces.
type HeapRecord struct {
	Addr   uintptr `json:"addr"`
	Size   uintptr `json:"size"`
	Rooted bool    `json:"rooted"`
}

// Snapshot lists every managed allocation in bucket order.
func (c *Collector) Snapshot() []HeapRecord {
	out := make([]HeapRecord, 0, c.registry.size)
	for i := uintptr(0); i < c.registry.capacity; i++ {
		for rec := c.registry.buckets[i]; rec != nil; rec = rec.next {
			out = append(out, HeapRecord{
				Addr:   uintptr(rec.ptr),
				Size:   rec.size,
				Rooted: rec.Rooted(),
			})
		}
	}

	return out
}
