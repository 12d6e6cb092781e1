// Package scheduler runs the periodic no-show sweep.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule matches the one-minute sweep cadence.
const DefaultSchedule = "@every 60s"

// parser accepts standard 5-field expressions and descriptors like "@every 30s".
var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Sweeper is the job the scheduler fires.
type Sweeper interface {
	SweepAll(ctx context.Context) (int, error)
}

type Scheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	timeout time.Duration
	logger  *slog.Logger
	running atomic.Bool
}

// New validates schedule and registers the sweep. A run that is still going
// when the next tick fires causes that tick to be skipped.
func New(schedule string, timeout time.Duration, sweeper Sweeper, logger *slog.Logger) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	parsed, err := parser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", schedule, err)
	}
	s := &Scheduler{
		cron:    cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC)),
		sweeper: sweeper,
		timeout: timeout,
		logger:  logger,
	}
	s.cron.Schedule(parsed, cron.FuncJob(func() { s.RunOnce(context.Background()) }))
	return s, nil
}

func (s *Scheduler) Start() {
	s.logger.Info("no-show sweep scheduled")
	s.cron.Start()
}

// Stop prevents new runs and waits for an in-flight one, or until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs one sweep unless another is in progress. It reports
// whether it ran.
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("no-show sweep still running, skipping tick")
		return false
	}
	defer s.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	count, err := s.sweeper.SweepAll(ctx)
	if err != nil {
		s.logger.Error("no-show sweep failed", "error", err, "marked", count)
		return true
	}
	if count > 0 {
		s.logger.Info("no-show sweep processed entries", "marked", count)
	}
	return true
}
