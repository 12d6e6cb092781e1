package queue

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolSerializesTasksPerKey(t *testing.T) {
	pool := NewPool(16, slog.New(slog.NewTextHandler(io.Discard, nil)), WithPoolWorkers(4))
	pool.Start()

	var running, overlaps atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		pool.Submit("r1", func(context.Context) {
			defer wg.Done()
			if running.Add(1) > 1 {
				overlaps.Add(1)
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
		})
	}
	wg.Wait()
	if err := pool.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if overlaps.Load() != 0 {
		t.Fatalf("tasks for one key overlapped %d times", overlaps.Load())
	}
}

func TestPoolRecoversPanics(t *testing.T) {
	pool := NewPool(4, slog.New(slog.NewTextHandler(io.Discard, nil)), WithPoolWorkers(1))
	pool.Start()

	done := make(chan struct{})
	pool.Submit("r1", func(context.Context) { panic("boom") })
	pool.Submit("r1", func(context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive a panicking task")
	}
	if err := pool.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestPoolRunsTasksWhenStopped(t *testing.T) {
	pool := NewPool(1, nil)
	done := make(chan struct{})
	pool.Submit("r1", func(context.Context) { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task submitted to a stopped pool never ran")
	}
}

func TestPoolTaskTimeout(t *testing.T) {
	pool := NewPool(1, nil, WithTaskTimeout(10*time.Millisecond))
	pool.Start()
	defer pool.Stop(context.Background())

	result := make(chan error, 1)
	pool.Submit("r1", func(ctx context.Context) {
		<-ctx.Done()
		result <- ctx.Err()
	})
	select {
	case err := <-result:
		if err != context.DeadlineExceeded {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("task context was not cancelled")
	}
}
