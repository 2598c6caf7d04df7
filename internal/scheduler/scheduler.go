// Package scheduler runs the cron-dispatched maintenance jobs. Each tick
// fires at most one job: the first enabled job whose cron expression
// matches the tick minute, in registration order.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/oneirolab/dreamgate/internal/cms"
	"github.com/oneirolab/dreamgate/internal/telemetry"
)

// Job pairs a cron expression with the work it gates.
type Job struct {
	Name    string
	Spec    string
	Enabled bool
	Run     func(ctx context.Context) error
}

// Scheduler evaluates a fixed job list once per minute.
type Scheduler struct {
	jobs      []Job
	schedules []cron.Schedule
	clock     cms.Clock
	logger    *zap.Logger
}

// New parses every job's cron expression up front so a bad expression
// fails at startup rather than at dispatch time.
func New(jobs []Job, clock cms.Clock, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	schedules := make([]cron.Schedule, len(jobs))
	for i, job := range jobs {
		sched, err := cron.ParseStandard(job.Spec)
		if err != nil {
			return nil, fmt.Errorf("parse schedule for %s (%q): %w", job.Name, job.Spec, err)
		}
		schedules[i] = sched
	}
	return &Scheduler{
		jobs:      jobs,
		schedules: schedules,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Tick dispatches the first enabled due job for the given instant, if
// any. It returns the name of the job it ran, or "" when nothing was due.
// Job errors are logged and counted, never propagated: a failing job must
// not stall the loop.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) string {
	tick := now.Truncate(time.Minute)
	for i, job := range s.jobs {
		if !s.due(i, tick) {
			continue
		}
		if !job.Enabled {
			s.logger.Debug("job due but disabled", zap.String("job", job.Name))
			continue
		}
		start := s.clock.Now()
		err := job.Run(ctx)
		elapsed := s.clock.Now().Sub(start)
		if err != nil {
			telemetry.ObserveSchedulerRun(job.Name, "error")
			s.logger.Error("scheduled job failed",
				zap.String("job", job.Name),
				zap.Duration("elapsed", elapsed),
				zap.Error(err))
		} else {
			telemetry.ObserveSchedulerRun(job.Name, "ok")
			s.logger.Info("scheduled job complete",
				zap.String("job", job.Name),
				zap.Duration("elapsed", elapsed))
		}
		return job.Name
	}
	return ""
}

// due reports whether job i's schedule matches the tick minute. Stepping
// one second behind the tick and asking for the next activation gives an
// exact minute match for any standard cron expression.
func (s *Scheduler) due(i int, tick time.Time) bool {
	return s.schedules[i].Next(tick.Add(-time.Second)).Equal(tick)
}

// Run ticks once per wall-clock minute until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case now := <-ticker.C:
			s.Tick(ctx, now)
		}
	}
}
