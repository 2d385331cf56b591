package server

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockWorker submits a task that occupies one worker until release is closed
func blockWorker(t *testing.T, pool *WorkerPool, release <-chan struct{}) {
	t.Helper()
	entered := make(chan struct{})
	require.True(t, pool.TrySubmit(func(ctx context.Context) {
		close(entered)
		select {
		case <-release:
		case <-ctx.Done():
		}
	}))
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not pick up the task")
	}
}

func TestPoolRunsTasks(t *testing.T) {
	pool := NewWorkerPool(4, 16)
	pool.Start()
	defer pool.Stop()

	var done atomic.Int32
	for i := 0; i < 10; i++ {
		require.True(t, pool.TrySubmit(func(context.Context) { done.Add(1) }))
	}

	assert.Eventually(t, func() bool { return done.Load() == 10 }, 5*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return pool.Stats().Completed == 10 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(10), pool.Stats().Submitted)
}

func TestPoolShedsWhenFull(t *testing.T) {
	pool := NewWorkerPool(1, 1)
	pool.Start()
	defer pool.Stop()

	release := make(chan struct{})
	blockWorker(t, pool, release)

	ran := make(chan struct{})
	require.True(t, pool.TrySubmit(func(context.Context) { close(ran) }))
	assert.Equal(t, 1, pool.Len())

	// queue is full, the task is rejected and the queued one is unaffected
	assert.False(t, pool.TrySubmit(func(context.Context) { t.Error("rejected task must not run") }))
	assert.Equal(t, int64(1), pool.Stats().Rejected)
	assert.Equal(t, 1, pool.Len())

	close(release)
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("queued task did not run")
	}
}

func TestPoolStopDiscardsQueuedTasks(t *testing.T) {
	pool := NewWorkerPool(1, 4)
	pool.Start()

	// never released, only the canceled context ends the task
	blockWorker(t, pool, make(chan struct{}))

	for i := 0; i < 3; i++ {
		require.True(t, pool.TrySubmit(func(context.Context) { t.Error("queued task must be discarded") }))
	}

	pool.Stop()

	stats := pool.Stats()
	assert.Equal(t, int64(3), stats.Discarded)
	assert.Equal(t, 0, stats.Queued)
	assert.False(t, pool.TrySubmit(func(context.Context) {}))

	// idempotent
	pool.Stop()
}

func TestPoolRecoversPanics(t *testing.T) {
	pool := NewWorkerPool(1, 4)
	pool.Start()
	defer pool.Stop()

	require.True(t, pool.TrySubmit(func(context.Context) { panic("boom") }))

	ran := make(chan struct{})
	require.True(t, pool.TrySubmit(func(context.Context) { close(ran) }))

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("worker died after panic")
	}
	assert.Equal(t, int64(1), pool.Stats().Panics)
}

func TestPoolDefaults(t *testing.T) {
	pool := NewWorkerPool(0, 0)
	stats := pool.Stats()
	assert.Equal(t, 1, stats.Workers)
	assert.Equal(t, 1, stats.Capacity)
	assert.GreaterOrEqual(t, DefaultWorkers(), 1)
}
