// Package strmap implements the string-keyed hash map the stutter
// interpreter stores bindings in. Keys and values live in memory managed
// by the garbage collector; every stored region is rooted so only the map
// itself decides when an entry dies.
package strmap

import (
	"unsafe"

	"github.com/stutter-lang/stutter/internal/gc"
	"github.com/stutter-lang/stutter/internal/primes"
)

// entry is one key/value binding in a bucket chain.
type entry struct {
	key   unsafe.Pointer // managed zero-terminated key copy
	value unsafe.Pointer // managed value bytes
	size  uintptr
	next  *entry
}

// Map is a separately-chained hash table with prime capacity, keyed by
// string.
type Map struct {
	c        *gc.Collector
	buckets  []*entry
	capacity uintptr
	size     uintptr
}

const (
	upsizeLoad   = 0.7
	downsizeLoad = 0.1
)

// New creates a map drawing its storage from the given collector.
func New(c *gc.Collector, capacity uintptr) *Map {
	sized := uintptr(primes.NextPrime(uint64(capacity)))

	return &Map{
		c:        c,
		buckets:  make([]*entry, sized),
		capacity: sized,
	}
}

// djb2 is the classic string hash by Dan Bernstein.
func djb2(key string) uint64 {
	hash := uint64(5381)
	for i := 0; i < len(key); i++ {
		hash = hash<<5 + hash + uint64(key[i])
	}

	return hash
}

func (m *Map) index(key string) uintptr {
	return uintptr(djb2(key) % uint64(m.capacity))
}

func (m *Map) loadFactor() float64 {
	return float64(m.size) / float64(m.capacity)
}

// newEntry copies key and value into rooted managed memory.
func (m *Map) newEntry(key string, value []byte) *entry {
	e := &entry{size: uintptr(len(value))}

	e.key = m.c.Strdup(key)
	if e.key == nil {
		return nil
	}
	m.c.MakeStatic(e.key)

	if len(value) > 0 {
		e.value = m.c.Malloc(uintptr(len(value)))
		if e.value == nil {
			m.freeRegion(e.key)
			return nil
		}
		m.c.MakeStatic(e.value)
		copy(unsafe.Slice((*byte)(e.value), len(value)), value)
	}

	return e
}

// deleteEntry releases an entry's managed regions back to the collector.
func (m *Map) deleteEntry(e *entry) {
	m.freeRegion(e.key)
	if e.value != nil {
		m.freeRegion(e.value)
	}
}

func (m *Map) freeRegion(p unsafe.Pointer) {
	m.c.UnmakeStatic(p)
	m.c.Free(p)
}

// Put stores a copy of value under key, replacing any previous binding.
func (m *Map) Put(key string, value []byte) bool {
	index := m.index(key)

	item := m.newEntry(key, value)
	if item == nil {
		return false
	}

	var prev *entry
	for cur := m.buckets[index]; cur != nil; cur = cur.next {
		if gc.GoString(cur.key) == key {
			item.next = cur.next
			if prev == nil {
				m.buckets[index] = item
			} else {
				prev.next = item
			}
			m.deleteEntry(cur)

			return true
		}
		prev = cur
	}

	item.next = m.buckets[index]
	m.buckets[index] = item
	m.size++

	if m.loadFactor() > upsizeLoad {
		m.resize(uintptr(primes.NextPrime(uint64(m.capacity * 2))))
	}

	return true
}

// Get returns a view of the value bound to key, or nil when the key is
// absent. The view stays valid until the binding is replaced or removed.
func (m *Map) Get(key string) []byte {
	for cur := m.buckets[m.index(key)]; cur != nil; cur = cur.next {
		if gc.GoString(cur.key) == key {
			if cur.value == nil {
				return []byte{}
			}
			return unsafe.Slice((*byte)(cur.value), cur.size)
		}
	}

	return nil
}

// Remove drops the binding for key. Unknown keys are ignored.
func (m *Map) Remove(key string) {
	index := m.index(key)

	var prev *entry
	for cur := m.buckets[index]; cur != nil; cur = cur.next {
		if gc.GoString(cur.key) == key {
			if prev == nil {
				m.buckets[index] = cur.next
			} else {
				prev.next = cur.next
			}
			m.deleteEntry(cur)
			m.size--
			break
		}
		prev = cur
	}

	if m.loadFactor() < downsizeLoad {
		m.resize(uintptr(primes.NextPrime(uint64(m.capacity / 2))))
	}
}

// Len returns the number of bindings.
func (m *Map) Len() int {
	return int(m.size)
}

// Delete releases every binding and empties the map.
func (m *Map) Delete() {
	for i := uintptr(0); i < m.capacity; i++ {
		for cur := m.buckets[i]; cur != nil; {
			next := cur.next
			m.deleteEntry(cur)
			cur = next
		}
		m.buckets[i] = nil
	}
	m.size = 0
}

// resize re-homes every entry under a fresh bucket array.
func (m *Map) resize(newCapacity uintptr) {
	if newCapacity == m.capacity {
		return
	}

	resized := make([]*entry, newCapacity)
	for i := uintptr(0); i < m.capacity; i++ {
		cur := m.buckets[i]
		for cur != nil {
			next := cur.next
			newIndex := uintptr(djb2(gc.GoString(cur.key)) % uint64(newCapacity))
			cur.next = resized[newIndex]
			resized[newIndex] = cur
			cur = next
		}
	}

	m.capacity = newCapacity
	m.buckets = resized
}
