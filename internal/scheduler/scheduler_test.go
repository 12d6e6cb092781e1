package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type sweeperFunc func(ctx context.Context) (int, error)

func (f sweeperFunc) SweepAll(ctx context.Context) (int, error) { return f(ctx) }

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNewRejectsBadSchedule(t *testing.T) {
	if _, err := New("every minute", time.Second, sweeperFunc(nil), quiet()); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestRunOnceSkipsOverlappingRuns(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var calls atomic.Int32
	s, err := New("", time.Second, sweeperFunc(func(ctx context.Context) (int, error) {
		calls.Add(1)
		close(entered)
		<-release
		return 1, nil
	}), quiet())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	first := make(chan bool)
	go func() { first <- s.RunOnce(context.Background()) }()
	<-entered
	if s.RunOnce(context.Background()) {
		t.Fatal("overlapping run should be skipped")
	}
	close(release)
	if !<-first {
		t.Fatal("first run should report it ran")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one sweep, got %d", calls.Load())
	}
}

func TestRunOnceAppliesTimeoutAndSurvivesErrors(t *testing.T) {
	s, err := New(DefaultSchedule, 10*time.Millisecond, sweeperFunc(func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, errors.New("deadline")
	}), quiet())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !s.RunOnce(context.Background()) {
		t.Fatal("run should be reported even when the sweep fails")
	}
	if !s.RunOnce(context.Background()) {
		t.Fatal("guard must be released after a failed run")
	}
}

func TestSchedulerFires(t *testing.T) {
	fired := make(chan struct{}, 1)
	s, err := New("@every 1s", time.Second, sweeperFunc(func(context.Context) (int, error) {
		select {
		case fired <- struct{}{}:
		default:
		}
		return 0, nil
	}), quiet())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.Start()
	defer s.Stop(context.Background())

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("sweep never fired")
	}
}
