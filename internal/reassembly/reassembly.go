// Package reassembly keeps per-connection counters for outbound TCP streams
// whose plaintext is delivered already reassembled by TLS termination.
package reassembly

import (
	"sync"
	"sync/atomic"

	"firestige.xyz/leakwatch/internal/core"
	"firestige.xyz/leakwatch/internal/metrics"
)

// Info is the bookkeeping for one outbound connection. InitialAck and
// InitialSeq are fixed at creation; the data length only grows.
type Info struct {
	Key        core.ConnKey
	InitialAck uint32
	InitialSeq uint32

	dataLen atomic.Int64
}

// DataLen returns the cumulative original segment bytes recorded so far.
func (i *Info) DataLen() int64 {
	return i.dataLen.Load()
}

// RecordSegment adds n original bytes and returns the new total. Segments
// are expected in connection order.
func (i *Info) RecordSegment(n int) int64 {
	return i.dataLen.Add(int64(n))
}

// Table maps connection keys to Info. It is shared by all workers and is
// thread-safe. Entries live until Remove; eviction belongs to whoever
// tracks connection state.
type Table struct {
	data  sync.Map // map[core.ConnKey]*Info
	count atomic.Int64
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{}
}

// LookupOrCreate returns the Info for key, creating it with the given
// initial numbers when absent. created reports whether this call stored it.
func (t *Table) LookupOrCreate(key core.ConnKey, initialAck, initialSeq uint32) (info *Info, created bool) {
	if v, ok := t.data.Load(key); ok {
		return v.(*Info), false
	}
	fresh := &Info{Key: key, InitialAck: initialAck, InitialSeq: initialSeq}
	v, loaded := t.data.LoadOrStore(key, fresh)
	if !loaded {
		t.count.Add(1)
		metrics.ReassemblyEntries.Inc()
	}
	return v.(*Info), !loaded
}

// Lookup returns the Info for key.
func (t *Table) Lookup(key core.ConnKey) (*Info, bool) {
	v, ok := t.data.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*Info), true
}

// Remove drops the entry for key, if any.
func (t *Table) Remove(key core.ConnKey) {
	if _, loaded := t.data.LoadAndDelete(key); loaded {
		t.count.Add(-1)
		metrics.ReassemblyEntries.Dec()
	}
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return int(t.count.Load())
}

// Range iterates over all entries until f returns false.
func (t *Table) Range(f func(*Info) bool) {
	t.data.Range(func(_, v any) bool {
		return f(v.(*Info))
	})
}
