// Package telemetry publishes one collector's state over HTTP: a text
// exposition of its gauges under /metrics and a JSON heap dump under
// /heap. The gauge set is fixed by the collector's Stats shape, so the
// exposition is stable across scrapes without any name mangling.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/stutter-lang/stutter/internal/gc"
)

// Exporter serves the observability endpoints of a single collector.
type Exporter struct {
	c *gc.Collector
}

// NewExporter creates an exporter over c.
func NewExporter(c *gc.Collector) *Exporter {
	return &Exporter{c: c}
}

// Handler returns the telemetry mux.
func (e *Exporter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", e.metrics)
	mux.HandleFunc("/heap", e.heap)

	return mux
}

func (e *Exporter) metrics(w http.ResponseWriter, r *http.Request) {
	s := e.c.Stats()
	a := e.c.AllocatorStats()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	gauge(w, "stutter_gc_registry_capacity", uint64(s.Capacity))
	gauge(w, "stutter_gc_registry_size", uint64(s.Size))
	gauge(w, "stutter_gc_sweep_limit", uint64(s.SweepLimit))
	gauge(w, "stutter_gc_roots", uint64(s.Roots))
	gauge(w, "stutter_gc_paused", boolGauge(s.Paused))
	gauge(w, "stutter_gc_runs_total", s.Runs)
	gauge(w, "stutter_gc_freed_bytes_total", uint64(s.FreedBytesTotal))
	gauge(w, "stutter_gc_managed_bytes", uint64(s.BytesManaged))
	gauge(w, "stutter_gc_allocator_bytes_in_use", uint64(a.BytesInUse))
	gauge(w, "stutter_gc_allocator_allocs_total", a.AllocationCount)
	gauge(w, "stutter_gc_allocator_frees_total", a.FreeCount)
}

// heapDump is the /heap response: the managed allocations in address
// order, with their total for a quick read.
type heapDump struct {
	Count   int             `json:"count"`
	Bytes   uint64          `json:"bytes"`
	Records []gc.HeapRecord `json:"records"`
}

func (e *Exporter) heap(w http.ResponseWriter, r *http.Request) {
	records := e.c.Snapshot()
	sort.Slice(records, func(i, j int) bool { return records[i].Addr < records[j].Addr })

	dump := heapDump{Count: len(records), Records: records}
	for _, rec := range records {
		dump.Bytes += uint64(rec.Size)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(dump)
}

func gauge(w io.Writer, name string, v uint64) {
	fmt.Fprintf(w, "%s %d\n", name, v)
}

func boolGauge(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// StartServer serves the exporter on addr (host:port). It returns the
// bound address (which may differ if port 0 was used) and a shutdown
// function.
func StartServer(addr string, e *Exporter) (string, func(ctx context.Context) error, error) {
	srv := &http.Server{Addr: addr, Handler: e.Handler(), ReadHeaderTimeout: 3 * time.Second}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, err
	}

	go func() {
		_ = srv.Serve(ln)
	}()

	return ln.Addr().String(), srv.Shutdown, nil
}
