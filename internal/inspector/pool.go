package inspector

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"firestige.xyz/leakwatch/internal/core"
	"firestige.xyz/leakwatch/internal/log"
)

// ErrPoolStopped is returned by Submit after Stop.
var ErrPoolStopped = errors.New("leakwatch: inspector pool stopped")

// Job is one raw datagram to inspect. Done, when set, receives exactly
// one Result and must have room for it or a reader waiting.
type Job struct {
	Packet []byte
	Done   chan<- Result
}

// Result carries the verdict for a Job. Packet is the job's buffer,
// redacted in place when the decision hashed anything.
type Result struct {
	Packet   []byte
	Verdict  core.Verdict
	Decision Decision
	Err      error
}

// PoolMetrics tracks pool throughput.
type PoolMetrics struct {
	Submitted atomic.Uint64
	Processed atomic.Uint64
	Errors    atomic.Uint64
}

// PoolConfig sizes a Pool.
type PoolConfig struct {
	Workers   int // 0 = GOMAXPROCS
	QueueSize int
}

// Pool runs InspectDatagram on a fixed set of worker goroutines fed by a
// bounded queue.
type Pool struct {
	inspector *Inspector
	workers   int
	jobs      chan Job

	mu      sync.RWMutex
	closed  bool
	started bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics PoolMetrics
}

// NewPool creates a pool. Call Start before submitting.
func NewPool(insp *Inspector, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		inspector: insp,
		workers:   cfg.Workers,
		jobs:      make(chan Job, cfg.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.processLoop(i)
	}
	log.GetLogger().WithFields(map[string]interface{}{
		"workers": p.workers,
		"queue":   cap(p.jobs),
	}).Info("inspector pool started")
}

// Submit queues job, blocking while the queue is full.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolStopped
	}
	select {
	case p.jobs <- job:
		p.metrics.Submitted.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrPoolStopped
	}
}

// Stop stops accepting jobs, lets the workers drain the queue and waits
// for them to exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()

	log.GetLogger().WithFields(map[string]interface{}{
		"submitted": p.metrics.Submitted.Load(),
		"processed": p.metrics.Processed.Load(),
		"errors":    p.metrics.Errors.Load(),
	}).Info("inspector pool stopped")
}

// Metrics returns the pool counters.
func (p *Pool) Metrics() *PoolMetrics {
	return &p.metrics
}

func (p *Pool) processLoop(id int) {
	defer p.wg.Done()
	log.GetLogger().Debugf("inspector worker %d started", id)

	for job := range p.jobs {
		d, err := p.inspector.InspectDatagram(job.Packet)
		p.metrics.Processed.Add(1)
		if err != nil {
			p.metrics.Errors.Add(1)
		}
		if job.Done != nil {
			job.Done <- Result{Packet: job.Packet, Verdict: d.Verdict, Decision: d, Err: err}
		}
	}
}
