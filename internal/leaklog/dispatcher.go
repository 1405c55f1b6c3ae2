// Package leaklog delivers leak entries to their sinks off the packet path.
package leaklog

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/serialx/hashring"

	"firestige.xyz/leakwatch/internal/config"
	"firestige.xyz/leakwatch/internal/core"
	"firestige.xyz/leakwatch/internal/log"
	"firestige.xyz/leakwatch/internal/metrics"
)

const sinkTimeout = 5 * time.Second

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	Published uint64
	Processed uint64
	Dropped   uint64
	Queued    []int
}

type partition struct {
	id    int
	queue chan core.LeakEntry
}

// Dispatcher queues leak entries in partitions chosen by consistent
// hashing on the app name, so entries of one app keep their order. Each
// partition has one goroutine writing to every sink.
type Dispatcher struct {
	partitions []*partition
	nodes      []string
	ring       *hashring.HashRing
	sinks      []Sink

	mu     sync.RWMutex // guards closed against queue close
	closed bool
	wg     sync.WaitGroup

	published atomic.Uint64
	processed atomic.Uint64
	dropped   atomic.Uint64
}

// NewDispatcher starts partitionCount partitions of queueSize entries.
func NewDispatcher(partitionCount, queueSize int, sinks ...Sink) *Dispatcher {
	if partitionCount <= 0 {
		partitionCount = 1
	}
	if queueSize <= 0 {
		queueSize = 1024
	}

	d := &Dispatcher{
		partitions: make([]*partition, partitionCount),
		nodes:      make([]string, partitionCount),
		sinks:      sinks,
	}
	for i := 0; i < partitionCount; i++ {
		d.nodes[i] = "partition-" + strconv.Itoa(i)
	}
	d.ring = hashring.New(d.nodes)

	for i := 0; i < partitionCount; i++ {
		d.partitions[i] = &partition{id: i, queue: make(chan core.LeakEntry, queueSize)}
		d.wg.Add(1)
		go d.run(d.partitions[i])
	}
	return d
}

// New builds a dispatcher with the sinks named in cfg.
func New(cfg config.LeakLogConfig) (*Dispatcher, error) {
	var sinks []Sink
	for _, name := range cfg.Sinks {
		switch name {
		case "log":
			sinks = append(sinks, NewLogSink())
		case "kafka":
			k, err := NewKafkaSink(cfg.Kafka)
			if err != nil {
				for _, s := range sinks {
					_ = s.Close()
				}
				return nil, err
			}
			sinks = append(sinks, k)
		default:
			return nil, fmt.Errorf("%w: unknown leak log sink %q", core.ErrConfigInvalid, name)
		}
	}
	return NewDispatcher(cfg.Partitions, cfg.QueueSize, sinks...), nil
}

// Record queues entry without blocking. Entries are dropped when the
// partition is full or the dispatcher is closed.
func (d *Dispatcher) Record(entry core.LeakEntry) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop()
		return
	}

	p := d.partitions[d.partitionID(entry.App)]
	select {
	case p.queue <- entry:
		d.published.Add(1)
	default:
		d.drop()
	}
}

func (d *Dispatcher) drop() {
	d.dropped.Add(1)
	metrics.LeakLogDroppedTotal.Inc()
}

// partitionID maps a key to a partition through the hash ring.
func (d *Dispatcher) partitionID(key string) int {
	node, ok := d.ring.GetNode(key)
	if !ok {
		return 0
	}
	for i, n := range d.nodes {
		if n == node {
			return i
		}
	}
	return 0
}

func (d *Dispatcher) run(p *partition) {
	defer d.wg.Done()
	logger := log.GetLogger()

	for entry := range p.queue {
		for _, s := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
			err := s.Write(ctx, entry)
			cancel()
			if err != nil {
				metrics.LeakLogSinkErrorsTotal.WithLabelValues(s.Name()).Inc()
				logger.WithError(err).Errorf("leak log sink %s failed in partition %d", s.Name(), p.id)
			}
		}
		d.processed.Add(1)
	}
}

// Close stops accepting entries, drains the queues and closes the sinks.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, p := range d.partitions {
		close(p.queue)
	}
	d.mu.Unlock()

	d.wg.Wait()

	var first error
	for _, s := range d.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() Stats {
	st := Stats{
		Published: d.published.Load(),
		Processed: d.processed.Load(),
		Dropped:   d.dropped.Load(),
		Queued:    make([]int, len(d.partitions)),
	}
	for i, p := range d.partitions {
		st.Queued[i] = len(p.queue)
	}
	return st
}
