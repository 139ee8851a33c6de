package strmap

import (
	"fmt"
	"testing"
	"unsafe"

	"github.com/stutter-lang/stutter/internal/gc"
)

func newTestMap(t *testing.T, capacity uintptr) (*Map, *gc.Collector) {
	t.Helper()
	var frame int
	c := gc.Start(uintptr(unsafe.Pointer(&frame)))
	t.Cleanup(c.Stop)
	return New(c, capacity), c
}

func TestPutGet(t *testing.T) {
	m, _ := newTestMap(t, 11)

	if !m.Put("answer", []byte{42}) {
		t.Fatal("Put failed")
	}
	got := m.Get("answer")
	if len(got) != 1 || got[0] != 42 {
		t.Fatalf("Get = %v, want [42]", got)
	}
	if m.Get("missing") != nil {
		t.Error("Get of unknown key returned a value")
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}
}

func TestPutReplaces(t *testing.T) {
	m, _ := newTestMap(t, 11)

	m.Put("k", []byte("old"))
	m.Put("k", []byte("newer"))

	if got := string(m.Get("k")); got != "newer" {
		t.Errorf("Get = %q, want %q", got, "newer")
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d after replace, want 1", m.Len())
	}
}

func TestEmptyValue(t *testing.T) {
	m, _ := newTestMap(t, 11)

	m.Put("empty", nil)
	got := m.Get("empty")
	if got == nil || len(got) != 0 {
		t.Errorf("Get of empty binding = %v, want empty non-nil", got)
	}
}

func TestRemove(t *testing.T) {
	m, _ := newTestMap(t, 11)

	m.Put("a", []byte{1})
	m.Put("b", []byte{2})
	m.Remove("a")

	if m.Get("a") != nil {
		t.Error("removed key still present")
	}
	if m.Get("b") == nil {
		t.Error("remove disturbed another key")
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}

	m.Remove("never-there")
}

func TestResizePreservesBindings(t *testing.T) {
	m, _ := newTestMap(t, 3)
	initial := m.capacity

	for i := 0; i < 64; i++ {
		key := fmt.Sprintf("key-%d", i)
		m.Put(key, []byte(key))
	}
	if m.capacity <= initial {
		t.Fatalf("capacity did not grow: %d", m.capacity)
	}

	for i := 0; i < 64; i++ {
		key := fmt.Sprintf("key-%d", i)
		if got := string(m.Get(key)); got != key {
			t.Fatalf("Get(%q) = %q after resize", key, got)
		}
	}
}

func TestBindingsSurviveCollection(t *testing.T) {
	m, c := newTestMap(t, 11)

	for i := 0; i < 16; i++ {
		key := fmt.Sprintf("key-%d", i)
		m.Put(key, []byte(key))
	}

	// Stored regions are rooted, so a full cycle must not touch them.
	c.Run()
	for i := 0; i < 16; i++ {
		key := fmt.Sprintf("key-%d", i)
		if got := string(m.Get(key)); got != key {
			t.Fatalf("binding %q lost across collection: %q", key, got)
		}
	}
}

func TestDelete(t *testing.T) {
	m, _ := newTestMap(t, 11)

	for i := 0; i < 8; i++ {
		m.Put(fmt.Sprintf("key-%d", i), []byte{byte(i)})
	}
	m.Delete()

	if m.Len() != 0 {
		t.Errorf("Len = %d after Delete", m.Len())
	}
	for i := 0; i < 8; i++ {
		if m.Get(fmt.Sprintf("key-%d", i)) != nil {
			t.Fatal("binding survived Delete")
		}
	}
}
