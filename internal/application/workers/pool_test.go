package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPoolRunsJobs(t *testing.T) {
	pool := NewPool(2, 8, nil, zaptest.NewLogger(t), time.Hour)
	require.NoError(t, pool.Start())
	defer pool.Shutdown(context.Background())

	var wg sync.WaitGroup
	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(Job{ID: "job", Run: func(context.Context) {
			ran.Add(1)
			wg.Done()
		}}))
	}
	wg.Wait()
	assert.Equal(t, int32(5), ran.Load())
}

func TestPoolRejectsWhenQueueFull(t *testing.T) {
	pool := NewPool(1, 1, nil, zaptest.NewLogger(t), time.Hour)
	require.NoError(t, pool.Start())

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, pool.Submit(Job{ID: "busy", Run: func(context.Context) {
		close(started)
		<-release
	}}))
	<-started

	require.NoError(t, pool.Submit(Job{ID: "queued", Run: func(context.Context) {}}))
	assert.Equal(t, 1, pool.QueueDepth())

	err := pool.Submit(Job{ID: "rejected", Run: func(context.Context) {}})
	assert.ErrorIs(t, err, ErrQueueFull)

	status := pool.Health().GetStatus()
	assert.Equal(t, 1, status.BusyWorkers)
	assert.Equal(t, 1, status.QueueDepth)
	assert.True(t, status.Healthy, "busy workers are healthy")

	close(release)
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestShutdownCancelsAndDrains(t *testing.T) {
	pool := NewPool(1, 4, nil, zaptest.NewLogger(t), time.Hour)
	require.NoError(t, pool.Start())

	started := make(chan struct{})
	var running, drained atomic.Bool
	require.NoError(t, pool.Submit(Job{ID: "running", Run: func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		running.Store(true)
	}}))
	<-started
	require.NoError(t, pool.Submit(Job{ID: "queued", Run: func(ctx context.Context) {
		drained.Store(errors.Is(ctx.Err(), context.Canceled))
	}}))

	require.NoError(t, pool.Shutdown(context.Background()))
	assert.True(t, running.Load(), "running jobs see the cancelled context")
	assert.True(t, drained.Load(), "queued jobs run with a cancelled context")

	assert.ErrorIs(t, pool.Submit(Job{ID: "late", Run: func(context.Context) {}}), ErrPoolClosed)
	assert.NoError(t, pool.Shutdown(context.Background()), "shutdown is idempotent")
	assert.False(t, pool.Health().IsHealthy())
}

func TestPoolSurvivesPanickingJob(t *testing.T) {
	pool := NewPool(1, 2, nil, zaptest.NewLogger(t), time.Hour)
	require.NoError(t, pool.Start())
	defer pool.Shutdown(context.Background())

	done := make(chan struct{})
	require.NoError(t, pool.Submit(Job{ID: "boom", Run: func(context.Context) { panic("boom") }}))
	require.NoError(t, pool.Submit(Job{ID: "after", Run: func(context.Context) { close(done) }}))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not survive the panic")
	}
}

func TestSubmitValidatesJob(t *testing.T) {
	pool := NewPool(1, 1, nil, nil, 0)
	assert.Error(t, pool.Submit(Job{ID: "empty"}))

	require.NoError(t, pool.Start())
	assert.Error(t, pool.Start(), "second start fails")
	require.NoError(t, pool.Shutdown(context.Background()))
	assert.ErrorIs(t, pool.Start(), ErrPoolClosed)
}

func TestHealthMonitorSamples(t *testing.T) {
	pool := NewPool(1, 1, nil, zaptest.NewLogger(t), 10*time.Millisecond)
	assert.Nil(t, pool.Health().Last())

	require.NoError(t, pool.Start())
	require.Eventually(t, func() bool {
		last := pool.Health().Last()
		return last != nil && last.Healthy
	}, 5*time.Second, 10*time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pool.Submit(Job{ID: "busy", Run: func(context.Context) {
		close(started)
		<-release
	}}))
	<-started
	require.NoError(t, pool.Submit(Job{ID: "queued", Run: func(context.Context) {}}))

	require.Eventually(t, func() bool {
		last := pool.Health().Last()
		return last != nil && last.Saturated()
	}, 5*time.Second, 10*time.Millisecond)

	close(release)
	require.NoError(t, pool.Shutdown(context.Background()))
	assert.False(t, pool.Health().GetStatus().Saturated())
}
