package inspector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/leakwatch/internal/core"
)

func TestPoolProcessesJobs(t *testing.T) {
	f := newFixture(t, true, core.FilterRule{App: "com.example", Value: imei, Action: core.ActionBlock, Enabled: true})
	pool := NewPool(f.insp, PoolConfig{Workers: 4, QueueSize: 8})
	pool.Start()

	const n = 200
	results := make(chan Result, n)
	for i := 0; i < n; i++ {
		payload := "clean"
		if i%2 == 0 {
			payload = "imei=" + imei
		}
		require.NoError(t, pool.Submit(context.Background(), Job{Packet: tcpPacket(t, payload, nil), Done: results}))
	}

	var dropped, forwarded int
	for i := 0; i < n; i++ {
		select {
		case r := <-results:
			require.NoError(t, r.Err)
			if r.Verdict == core.VerdictDrop {
				dropped++
			} else {
				forwarded++
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for results")
		}
	}
	pool.Stop()

	assert.Equal(t, n/2, dropped)
	assert.Equal(t, n/2, forwarded)
	assert.Equal(t, uint64(n), pool.Metrics().Processed.Load())
}

func TestPoolMalformedResult(t *testing.T) {
	f := newFixture(t, true)
	pool := NewPool(f.insp, PoolConfig{Workers: 1})
	pool.Start()
	defer pool.Stop()

	done := make(chan Result, 1)
	require.NoError(t, pool.Submit(context.Background(), Job{Packet: []byte{0x45, 0x00}, Done: done}))
	r := <-done
	assert.ErrorIs(t, r.Err, core.ErrMalformedPacket)
	assert.Equal(t, core.VerdictDrop, r.Verdict)
}

func TestPoolSubmitAfterStop(t *testing.T) {
	pool := NewPool(New(Config{}), PoolConfig{Workers: 1})
	pool.Start()
	pool.Stop()
	pool.Stop()

	assert.ErrorIs(t, pool.Submit(context.Background(), Job{}), ErrPoolStopped)
}

func TestPoolSubmitHonoursContext(t *testing.T) {
	pool := NewPool(New(Config{}), PoolConfig{Workers: 1, QueueSize: 1})
	// not started: the queue fills and the next submit waits
	require.NoError(t, pool.Submit(context.Background(), Job{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pool.Submit(ctx, Job{}), context.DeadlineExceeded)
}
