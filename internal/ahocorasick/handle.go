package ahocorasick

import (
	"sync/atomic"
)

// Handle publishes the current automaton to scanning goroutines. Publish
// swaps the pointer atomically, so a scan in progress keeps the snapshot it
// started with and any scan begun afterwards sees the new one.
type Handle struct {
	current atomic.Pointer[Automaton]
	enabled atomic.Bool
	version atomic.Uint64
}

// NewHandle returns a disabled handle holding an empty automaton.
func NewHandle() *Handle {
	h := &Handle{}
	empty, _ := Build(nil)
	h.current.Store(empty)
	return h
}

// Load returns the published automaton. It is never nil.
func (h *Handle) Load() *Automaton {
	return h.current.Load()
}

// Publish replaces the automaton and returns the new version.
func (h *Handle) Publish(a *Automaton) uint64 {
	h.current.Store(a)
	return h.version.Add(1)
}

// Version counts publications since creation.
func (h *Handle) Version() uint64 {
	return h.version.Load()
}

func (h *Handle) Enable()       { h.enabled.Store(true) }
func (h *Handle) Disable()      { h.enabled.Store(false) }
func (h *Handle) Enabled() bool { return h.enabled.Load() }

// Scan searches buf with the published automaton. A disabled handle
// reports no matches without consulting the automaton.
func (h *Handle) Scan(buf []byte) []Match {
	if !h.Enabled() {
		return nil
	}
	return h.Load().Scan(buf)
}
