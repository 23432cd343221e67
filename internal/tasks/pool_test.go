package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPool_SameKeyRunsInOrder(t *testing.T) {
	p := NewPool(4, 100, zap.NewNop())
	p.Start(context.Background())
	defer p.Close()

	var mu sync.Mutex
	var got []int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		p.Dispatch(WebhookKey(1), "record", func(ctx context.Context) error {
			defer wg.Done()
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		})
	}
	wg.Wait()

	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestPool_ErrorsAndPanicsDoNotStopLane(t *testing.T) {
	p := NewPool(1, 10, zap.NewNop())
	p.Start(context.Background())
	defer p.Close()

	done := make(chan struct{})
	p.Dispatch("k", "fails", func(ctx context.Context) error { return errors.New("boom") })
	p.Dispatch("k", "panics", func(ctx context.Context) error { panic("oops") })
	p.Dispatch("k", "ok", func(ctx context.Context) error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("lane stopped after a failing task")
	}
}

func TestPool_DispatchAfter(t *testing.T) {
	p := NewPool(2, 10, zap.NewNop())
	p.Start(context.Background())
	defer p.Close()

	start := time.Now()
	ran := make(chan time.Time, 1)
	p.DispatchAfter(50*time.Millisecond, "k", "delayed", func(ctx context.Context) error {
		ran <- time.Now()
		return nil
	})
	assert.Equal(t, 1, p.Pending())

	select {
	case at := <-ran:
		assert.GreaterOrEqual(t, at.Sub(start), 50*time.Millisecond)
	case <-time.After(5 * time.Second):
		t.Fatal("delayed task did not run")
	}
	assert.Eventually(t, func() bool { return p.Pending() == 0 }, time.Second, 10*time.Millisecond)
}

func TestPool_CloseDropsDelayedTasks(t *testing.T) {
	p := NewPool(1, 10, zap.NewNop())
	p.Start(context.Background())

	ran := make(chan struct{}, 1)
	p.DispatchAfter(time.Hour, "k", "never", func(ctx context.Context) error {
		ran <- struct{}{}
		return nil
	})
	require.NoError(t, p.Close())
	assert.Zero(t, p.Pending())

	p.Dispatch("k", "after close", func(ctx context.Context) error {
		ran <- struct{}{}
		return nil
	})
	select {
	case <-ran:
		t.Fatal("task ran after close")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPool_FullLaneDoesNotBlock(t *testing.T) {
	p := NewPool(1, 1, zap.NewNop())
	p.Start(context.Background())
	defer p.Close()

	var wg sync.WaitGroup
	wg.Add(5)
	p.Dispatch("k", "outer", func(ctx context.Context) error {
		defer wg.Done()
		for i := 0; i < 4; i++ {
			p.Dispatch("k", "inner", func(ctx context.Context) error {
				wg.Done()
				return nil
			})
		}
		return nil
	})

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("self-dispatch on a full lane deadlocked")
	}
}

func TestPool_BusyCountsQueuedAndDelayed(t *testing.T) {
	p := NewPool(1, 10, zap.NewNop())
	p.Start(context.Background())
	defer p.Close()

	release := make(chan struct{})
	p.Dispatch("k", "blocking", func(ctx context.Context) error {
		<-release
		return nil
	})
	p.DispatchAfter(20*time.Millisecond, "k", "delayed", func(ctx context.Context) error { return nil })
	assert.Equal(t, 2, p.Busy())

	close(release)
	assert.Eventually(t, func() bool { return p.Busy() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestPool_CloseDropsQueuedTasks(t *testing.T) {
	p := NewPool(1, 10, zap.NewNop())
	p.Start(context.Background())

	started := make(chan struct{})
	p.Dispatch("k", "blocking", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	})
	<-started

	ran := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		p.Dispatch("k", "queued", func(ctx context.Context) error {
			ran <- struct{}{}
			return nil
		})
	}
	assert.Equal(t, 4, p.Busy())

	require.NoError(t, p.Close())
	assert.Zero(t, p.Busy())
}

func TestPool_GoDoesNotHoldLanes(t *testing.T) {
	p := NewPool(1, 10, zap.NewNop())
	p.Start(context.Background())
	defer p.Close()

	release := make(chan struct{})
	p.Go("slow", func(ctx context.Context) error {
		<-release
		return nil
	})

	done := make(chan struct{})
	p.Dispatch("k", "fast", func(ctx context.Context) error {
		close(done)
		return nil
	})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("lane task waited for a detached task")
	}
	assert.Equal(t, 1, p.Busy())

	close(release)
	assert.Eventually(t, func() bool { return p.Busy() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestPool_GoIsBounded(t *testing.T) {
	p := NewPool(2, 10, zap.NewNop())
	p.Start(context.Background())

	var mu sync.Mutex
	running, peak := 0, 0
	release := make(chan struct{})
	for i := 0; i < 5; i++ {
		p.Go("slow", func(ctx context.Context) error {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()
			<-release
			mu.Lock()
			running--
			mu.Unlock()
			return nil
		})
	}
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return running == 2
	}, 2*time.Second, 10*time.Millisecond)

	close(release)
	assert.Eventually(t, func() bool { return p.Busy() == 0 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, p.Close())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, peak)
}
