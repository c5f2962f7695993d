package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/itinera/backend/internal/logger"
)

// DefaultLockSweepSchedule clears expired account locks.
const DefaultLockSweepSchedule = "@every 5m"

// Scheduler runs periodic maintenance jobs.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DefaultLogger),
			cron.SkipIfStillRunning(cron.DefaultLogger),
		)),
		timeout: time.Minute,
	}
}

// Add registers job under name on a cron spec. Each run gets its own timeout context.
func (s *Scheduler) Add(name, spec string, job func(context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		start := time.Now()
		if err := job(ctx); err != nil {
			logger.Log().WithError(err).WithField("job", name).Error("scheduled job failed")
			return
		}
		logger.Log().WithField("job", name).WithField("elapsed", time.Since(start).String()).Debug("scheduled job finished")
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

// AddLockSweep schedules lockout.SweepExpired.
func (s *Scheduler) AddLockSweep(lockout *LockoutService, spec string) error {
	if spec == "" {
		spec = DefaultLockSweepSchedule
	}
	return s.Add("lock-sweep", spec, func(ctx context.Context) error {
		_, err := lockout.SweepExpired(ctx)
		return err
	})
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop prevents new runs and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
