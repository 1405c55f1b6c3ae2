package ahocorasick

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleDisabledReportsNothing(t *testing.T) {
	h := NewHandle()
	a, err := Build([]string{"secret"})
	require.NoError(t, err)
	h.Publish(a)

	assert.False(t, h.Enabled())
	assert.Nil(t, h.Scan([]byte("a secret")))

	h.Enable()
	assert.Len(t, h.Scan([]byte("a secret")), 1)

	h.Disable()
	assert.Nil(t, h.Scan([]byte("a secret")))
}

func TestHandleConcurrentPublishAndScan(t *testing.T) {
	h := NewHandle()
	h.Enable()
	sets := [][]string{{"alpha"}, {"alpha", "beta"}, {"gamma"}}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := []byte("alpha beta gamma")
			for ctx.Err() == nil {
				a := h.Load()
				// a snapshot is internally consistent: every pattern it
				// holds is found in buf
				assert.Len(t, a.Scan(buf), a.Len())
			}
		}()
	}

	for i := 0; ctx.Err() == nil; i++ {
		a, err := Build(sets[i%len(sets)])
		require.NoError(t, err)
		h.Publish(a)
	}
	wg.Wait()
	assert.Greater(t, h.Version(), uint64(0))
}

func TestRebuilderApplyTogglesHandle(t *testing.T) {
	h := NewHandle()
	r := NewRebuilder(h)

	require.NoError(t, r.Apply([]string{"356938035643809"}))
	assert.True(t, h.Enabled())
	assert.Equal(t, 1, h.Load().Len())

	require.NoError(t, r.Apply(nil))
	assert.False(t, h.Enabled())
	assert.Equal(t, 0, h.Load().Len())
}

func TestRebuilderKeepsPreviousOnFailure(t *testing.T) {
	h := NewHandle()
	r := NewRebuilder(h)
	require.NoError(t, r.Apply([]string{"keep"}))
	before := h.Load()

	err := r.Apply([]string{"x", ""})
	require.Error(t, err)
	assert.Same(t, before, h.Load())
	assert.True(t, h.Enabled())
}

func TestRebuilderCoalescesSubmissions(t *testing.T) {
	h := NewHandle()
	r := NewRebuilder(h)

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var mu sync.Mutex
	var calls [][]string
	r.build = func(p []string) (*Automaton, error) {
		mu.Lock()
		calls = append(calls, p)
		first := len(calls) == 1
		mu.Unlock()
		if first {
			started <- struct{}{}
			<-release
		}
		return Build(p)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	r.Submit([]string{"first"})
	<-started
	for i := 0; i < 10; i++ {
		r.Submit([]string{"later", string(rune('a' + i))})
	}
	close(release)

	assert.Eventually(t, func() bool { return r.Builds() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, uint64(2), r.Builds())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"later", "j"}, calls[1])
	assert.ElementsMatch(t, []string{"later", "j"}, h.Load().Patterns())
}
