package ahocorasick

import (
	"context"
	"sync"
	"sync/atomic"

	"firestige.xyz/leakwatch/internal/log"
	"firestige.xyz/leakwatch/internal/metrics"
)

// Rebuilder builds automatons off the scanning path and publishes them to
// a Handle. Submissions made while a build is running collapse into one
// follow-up build of the most recent pattern set.
type Rebuilder struct {
	handle *Handle
	build  func([]string) (*Automaton, error)

	mu         sync.Mutex
	pending    []string
	hasPending bool
	trigger    chan struct{}

	builds atomic.Uint64
}

// NewRebuilder returns a rebuilder publishing to h. Call Run to start it.
func NewRebuilder(h *Handle) *Rebuilder {
	return &Rebuilder{
		handle:  h,
		build:   Build,
		trigger: make(chan struct{}, 1),
	}
}

// Submit queues patterns as the next set to build. It never blocks.
func (r *Rebuilder) Submit(patterns []string) {
	r.mu.Lock()
	r.pending = append([]string(nil), patterns...)
	r.hasPending = true
	r.mu.Unlock()

	select {
	case r.trigger <- struct{}{}:
	default:
		// a build is already queued and will pick up this set
	}
}

// Run processes submissions until ctx is cancelled.
func (r *Rebuilder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.trigger:
			r.mu.Lock()
			patterns, ok := r.pending, r.hasPending
			r.pending, r.hasPending = nil, false
			r.mu.Unlock()
			if ok {
				_ = r.Apply(patterns)
			}
		}
	}
}

// Apply builds and publishes patterns synchronously. On failure the
// previously published automaton stays active. An empty set disables
// scanning; a non-empty one enables it after publication.
func (r *Rebuilder) Apply(patterns []string) error {
	logger := log.GetLogger()

	a, err := r.build(patterns)
	if err != nil {
		metrics.AutomatonRebuildsTotal.WithLabelValues("error").Inc()
		logger.WithError(err).Warnf("automaton rebuild with %d patterns failed, keeping version %d",
			len(patterns), r.handle.Version())
		return err
	}

	version := r.handle.Publish(a)
	if a.Len() == 0 {
		r.handle.Disable()
	} else {
		r.handle.Enable()
	}
	r.builds.Add(1)

	metrics.AutomatonRebuildsTotal.WithLabelValues("ok").Inc()
	metrics.AutomatonPatterns.Set(float64(a.Len()))
	logger.Debugf("published automaton version %d with %d patterns", version, a.Len())
	return nil
}

// Builds returns the number of successful builds.
func (r *Rebuilder) Builds() uint64 {
	return r.builds.Load()
}
