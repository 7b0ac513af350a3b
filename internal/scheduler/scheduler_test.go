package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kithapp/kith/internal/logging"
)

func newScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := New(logging.NewDefault(slog.LevelError))
	t.Cleanup(s.Stop)
	return s
}

func TestRunAndWait(t *testing.T) {
	s := newScheduler(t)

	var ran atomic.Bool
	err := s.RunAndWait(context.Background(), "op", "k1", PriorityNormal, 0, func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})

	require.NoError(t, err)
	assert.True(t, ran.Load())
}

func TestRunAndWait_PropagatesError(t *testing.T) {
	s := newScheduler(t)

	want := errors.New("boom")
	err := s.RunAndWait(context.Background(), "op", "k1", PriorityNormal, 0, func(ctx context.Context) error {
		return want
	})

	assert.ErrorIs(t, err, want)
}

func TestRun_DuplicateKeyDropped(t *testing.T) {
	s := newScheduler(t)

	release := make(chan struct{})
	started := make(chan struct{})
	var runs atomic.Int32

	s.Run("op", "k1", PriorityNormal, 0, func(ctx context.Context) error {
		close(started)
		runs.Add(1)
		<-release
		return nil
	}, nil)
	<-started

	// the key is in flight, so this submission must be dropped, not queued
	err := s.RunAndWait(context.Background(), "op", "k1", PriorityNormal, 0, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	assert.ErrorIs(t, err, ErrThrottled)

	close(release)
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestRun_MinIntervalThrottles(t *testing.T) {
	s := newScheduler(t)
	ctx := context.Background()
	noop := func(ctx context.Context) error { return nil }

	require.NoError(t, s.RunAndWait(ctx, "op", "k1", PriorityNormal, time.Hour, noop))

	// completed moments ago, inside the interval
	err := s.RunAndWait(ctx, "op", "k1", PriorityNormal, time.Hour, noop)
	assert.ErrorIs(t, err, ErrThrottled)

	// a different key is unaffected
	assert.NoError(t, s.RunAndWait(ctx, "op", "k2", PriorityNormal, time.Hour, noop))

	// a zero interval ignores recency
	assert.NoError(t, s.RunAndWait(ctx, "op", "k1", PriorityNormal, 0, noop))
}

func TestRun_MinIntervalElapsed(t *testing.T) {
	s := newScheduler(t)
	ctx := context.Background()

	var runs atomic.Int32
	count := func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}
	const interval = 50 * time.Millisecond

	require.NoError(t, s.RunAndWait(ctx, "op", "k1", PriorityNormal, interval, count))
	assert.ErrorIs(t, s.RunAndWait(ctx, "op", "k1", PriorityNormal, interval, count), ErrThrottled)

	// once the interval has passed, the same key runs again
	time.Sleep(interval + 20*time.Millisecond)
	require.NoError(t, s.RunAndWait(ctx, "op", "k1", PriorityNormal, interval, count))
	assert.Equal(t, int32(2), runs.Load())
}

func TestHighPriorityRunsFirst(t *testing.T) {
	s := newScheduler(t)

	var mu sync.Mutex
	var order []string
	record := func(name string) Operation {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	// hold the loop on a blocker so the queues fill before dispatch
	release := make(chan struct{})
	started := make(chan struct{})
	s.Run("blocker", "b", PriorityNormal, 0, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}, nil)
	<-started

	s.Run("n1", "n1", PriorityNormal, 0, record("n1"), nil)
	s.Run("n2", "n2", PriorityNormal, 0, record("n2"), nil)
	s.Run("h1", "h1", PriorityHigh, 0, record("h1"), nil)
	close(release)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"h1", "n1", "n2"}, order)
}

func TestRun_OnError(t *testing.T) {
	s := newScheduler(t)

	want := errors.New("boom")
	got := make(chan error, 1)
	s.Run("op", "k1", PriorityNormal, 0, func(ctx context.Context) error {
		return want
	}, func(err error) { got <- err })

	select {
	case err := <-got:
		assert.ErrorIs(t, err, want)
	case <-time.After(time.Second):
		t.Fatal("onError was not called")
	}
}

func TestStop_RejectsNewWork(t *testing.T) {
	s := New(logging.NewDefault(slog.LevelError))
	s.Stop()

	err := s.RunAndWait(context.Background(), "op", "k1", PriorityNormal, 0, func(ctx context.Context) error {
		return nil
	})
	assert.ErrorIs(t, err, ErrThrottled)
}
