package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	key string
	seq int
}

func TestPerKeyOrder(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	var lk sync.Mutex
	seen := make(map[string][]int)
	s := NewScheduler(4, "test-order", func(ctx context.Context, it item) error {
		// jitter so interleaving would show up if ordering were broken
		time.Sleep(time.Duration(it.seq%3) * time.Millisecond)
		lk.Lock()
		seen[it.key] = append(seen[it.key], it.seq)
		lk.Unlock()
		return nil
	})

	keys := []string{"a", "b", "c"}
	for i := 0; i < 20; i++ {
		for _, k := range keys {
			require.NoError(t, s.AddWork(ctx, k, item{key: k, seq: i}))
		}
	}
	s.Shutdown()

	for _, k := range keys {
		require.Equal(t, 20, len(seen[k]), k)
		for i, v := range seen[k] {
			assert.Equal(i, v, k)
		}
	}
	assert.Equal(0, s.Pending())
}

func TestKeysRunInParallel(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	release := make(chan struct{})
	var running atomic.Int32
	started := make(chan struct{}, 2)
	s := NewScheduler(2, "test-parallel", func(ctx context.Context, key string) error {
		running.Add(1)
		started <- struct{}{}
		<-release
		return nil
	})

	require.NoError(t, s.AddWork(ctx, "a", "a"))
	require.NoError(t, s.AddWork(ctx, "b", "b"))
	<-started
	<-started
	assert.Equal(int32(2), running.Load())
	assert.Equal(2, s.Pending())

	close(release)
	s.Shutdown()
}

func TestHandlerFailures(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	var done atomic.Int32
	s := NewScheduler(1, "test-failures", func(ctx context.Context, n int) error {
		defer done.Add(1)
		switch n {
		case 1:
			return errors.New("boom")
		case 2:
			panic("worse")
		}
		return nil
	})
	for i := 0; i < 4; i++ {
		require.NoError(t, s.AddWork(ctx, fmt.Sprint("k", i%2), i))
	}
	s.Shutdown()
	// failing items don't stop the worker or the queue behind them
	assert.Equal(int32(4), done.Load())
}

func TestAddAfterShutdown(t *testing.T) {
	assert := assert.New(t)

	s := NewScheduler(1, "test-shutdown", func(ctx context.Context, n int) error { return nil })
	s.Shutdown()
	assert.ErrorIs(s.AddWork(context.Background(), "k", 1), ErrShutdown)
}
