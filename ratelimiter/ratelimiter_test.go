package ratelimiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistered(t *testing.T, spi float64, minSize int64, minDiff, maxDiff float64) (*RateLimiter, *sync.Mutex) {
	t.Helper()
	r, err := New(spi, minSize, minDiff, maxDiff)
	require.NoError(t, err)
	mu := &sync.Mutex{}
	require.NoError(t, r.Register(mu, "test"))
	return r, mu
}

func TestNewValidation(t *testing.T) {
	_, err := New(0, 1, 0, 1)
	assert.Error(t, err)

	_, err = New(1.0, 1, 5, 1)
	assert.Error(t, err)

	_, err = New(1.0, 0, 0, 1)
	assert.Error(t, err)

	_, err = New(1.0, 1, -1, 1)
	assert.NoError(t, err)
}

func TestRegisterOnce(t *testing.T) {
	r, err := New(1.0, 1, -1, 1)
	require.NoError(t, err)

	mu := &sync.Mutex{}
	require.NoError(t, r.Register(mu, "a"))
	assert.ErrorIs(t, r.Register(mu, "b"), ErrAlreadyRegistered)
}

func TestFastPathCounters(t *testing.T) {
	r, mu := newRegistered(t, 1.0, 1, -1, 1)

	mu.Lock()
	defer mu.Unlock()

	require.NoError(t, r.AwaitCanInsert(context.Background()))
	r.Insert()

	require.NoError(t, r.AwaitCanSample(context.Background()))
	r.FinalizeSample()

	info := r.Info()
	assert.Equal(t, int64(1), info.InsertStats.Completed)
	assert.Equal(t, int64(0), info.InsertStats.Limited)
	assert.Equal(t, int64(1), info.SampleStats.Completed)
	assert.Equal(t, int64(0), info.SampleStats.Limited)
}

func TestSampleBlockedUntilMinSize(t *testing.T) {
	r, mu := newRegistered(t, 1.0, 2, -10, 10)

	mu.Lock()
	r.Insert()
	assert.False(t, r.CanSample(1))
	r.Insert()
	assert.True(t, r.CanSample(1))

	// Deletions shrink the size view back below the threshold.
	r.Delete()
	assert.False(t, r.CanSample(1))
	mu.Unlock()
}

func TestSampleAtLowerBoundBlocks(t *testing.T) {
	r, mu := newRegistered(t, 1.0, 1, -1, 1)

	mu.Lock()
	defer mu.Unlock()

	require.NoError(t, r.AwaitCanInsert(context.Background()))
	r.Insert()

	// Cursor 1: first sample moves it to 0, still above min_diff.
	assert.True(t, r.CanSample(1))
	require.NoError(t, r.AwaitCanSample(context.Background()))
	r.FinalizeSample()

	// A second sample would land exactly on min_diff and must wait for
	// an insert.
	assert.False(t, r.CanSample(1))
	assert.True(t, r.CanInsert(1))
}

func TestInsertBlocksUntilSample(t *testing.T) {
	r, mu := newRegistered(t, 1.0, 1, -1, 1)

	mu.Lock()
	require.NoError(t, r.AwaitCanInsert(context.Background()))
	r.Insert()
	assert.False(t, r.CanInsert(1))
	mu.Unlock()

	unblocked := make(chan error, 1)
	go func() {
		mu.Lock()
		defer mu.Unlock()
		err := r.AwaitCanInsert(context.Background())
		if err == nil {
			r.Insert()
		}
		unblocked <- err
	}()

	select {
	case <-unblocked:
		t.Fatal("insert proceeded while limiter was saturated")
	case <-time.After(50 * time.Millisecond):
	}

	mu.Lock()
	require.NoError(t, r.AwaitCanSample(context.Background()))
	r.FinalizeSample()
	mu.Unlock()

	select {
	case err := <-unblocked:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("insert still blocked after offsetting sample")
	}

	mu.Lock()
	info := r.Info()
	mu.Unlock()
	assert.Equal(t, int64(2), info.InsertStats.Completed)
	assert.Equal(t, int64(1), info.InsertStats.Limited)
	assert.Greater(t, info.InsertStats.CompletedWaitTime, time.Duration(0))
}

func TestAwaitContextCancelled(t *testing.T) {
	r, mu := newRegistered(t, 1.0, 1, -1, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	mu.Lock()
	err := r.AwaitCanSample(ctx)
	mu.Unlock()

	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The aborted wait left no trace in the counters.
	mu.Lock()
	info := r.Info()
	mu.Unlock()
	assert.Equal(t, int64(0), info.SampleStats.Completed)
	assert.Equal(t, int64(0), info.SampleStats.Pending)
}

func TestCancelWakesWaiters(t *testing.T) {
	r, mu := newRegistered(t, 1.0, 1, -1, 1)

	done := make(chan error, 1)
	go func() {
		mu.Lock()
		defer mu.Unlock()
		done <- r.AwaitCanSample(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	r.Cancel()
	mu.Unlock()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by Cancel")
	}

	// Cancelled limiters reject new waits immediately.
	mu.Lock()
	err := r.AwaitCanInsert(context.Background())
	mu.Unlock()
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestResetUnblocksSampleDebt(t *testing.T) {
	r, mu := newRegistered(t, 1.0, 1, 0, 3)

	mu.Lock()
	for range 3 {
		require.NoError(t, r.AwaitCanInsert(context.Background()))
		r.Insert()
	}
	assert.False(t, r.CanInsert(1))

	r.Reset()
	assert.True(t, r.CanInsert(1))
	assert.False(t, r.CanSample(1)) // size view is empty again
	mu.Unlock()
}

func TestResetClearsCallStats(t *testing.T) {
	r, mu := newRegistered(t, 1.0, 1, -1, 3)

	mu.Lock()
	require.NoError(t, r.AwaitCanInsert(context.Background()))
	r.Insert()
	require.NoError(t, r.AwaitCanSample(context.Background()))
	r.FinalizeSample()

	r.Reset()
	info := r.Info()
	mu.Unlock()

	assert.Equal(t, int64(0), info.InsertStats.Completed)
	assert.Equal(t, int64(0), info.InsertStats.Limited)
	assert.Equal(t, time.Duration(0), info.InsertStats.CompletedWaitTime)
	assert.Equal(t, int64(0), info.SampleStats.Completed)
	assert.Equal(t, int64(0), info.SampleStats.Limited)
	assert.Equal(t, time.Duration(0), info.SampleStats.CompletedWaitTime)
}

func TestCountersRoundtrip(t *testing.T) {
	r, mu := newRegistered(t, 2.0, 1, -5, 5)

	mu.Lock()
	r.Insert()
	r.Insert()
	r.FinalizeSample()
	r.Delete()

	inserts, samples, deletes := r.Counters()
	assert.Equal(t, int64(2), inserts)
	assert.Equal(t, int64(1), samples)
	assert.Equal(t, int64(1), deletes)
	mu.Unlock()

	restored, mu2 := newRegistered(t, 2.0, 1, -5, 5)
	mu2.Lock()
	restored.RestoreCounters(inserts, samples, deletes)
	got1, got2, got3 := restored.Counters()
	mu2.Unlock()
	assert.Equal(t, inserts, got1)
	assert.Equal(t, samples, got2)
	assert.Equal(t, deletes, got3)
}
