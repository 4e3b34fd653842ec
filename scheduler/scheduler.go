// Package scheduler runs the periodic market data, signal, alert and
// cleanup jobs.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"etf_dashboard/logger"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

const jobTimeout = 30 * time.Minute

// Scheduler manages scheduled jobs
type Scheduler struct {
	cron   *gocron.Scheduler
	jobs   *Jobs
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a UTC scheduler in which no job overlaps itself.
func NewScheduler(jobs *Jobs) *Scheduler {
	cron := gocron.NewScheduler(time.UTC)
	cron.SingletonModeAll()
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron,
		jobs:   jobs,
		log:    logger.With("scheduler"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// wrap runs fn with a bounded context and logs its outcome.
func (s *Scheduler) wrap(name string, fn func(ctx context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
		defer cancel()

		start := time.Now()
		if err := fn(ctx); err != nil {
			s.log.Error().Err(err).Str("job", name).Dur("duration", time.Since(start)).Msg("Job failed")
			return
		}
		s.log.Debug().Str("job", name).Dur("duration", time.Since(start)).Msg("Job finished")
	}
}

// Register adds every job without starting the scheduler.
func (s *Scheduler) Register() error {
	j := s.jobs
	// gocron builds one job at a time on the scheduler itself, so each
	// schedule is created right before its Do.
	register := []struct {
		name string
		when func() *gocron.Scheduler
		fn   func(ctx context.Context) error
	}{
		{"refresh_quotes", func() *gocron.Scheduler { return s.cron.Every(5).Minutes() }, func(ctx context.Context) error {
			_, err := j.RefreshQuotes(ctx)
			return err
		}},
		{"refresh_history", func() *gocron.Scheduler { return s.cron.Every(1).Day().At("22:30") }, func(ctx context.Context) error {
			_, err := j.RefreshAllHistory(ctx)
			return err
		}},
		{"generate_signals", func() *gocron.Scheduler { return s.cron.Every(1).Day().At("23:00") }, func(ctx context.Context) error {
			_, err := j.GenerateAll(ctx)
			return err
		}},
		{"check_alerts", func() *gocron.Scheduler { return s.cron.Every(5).Minutes() }, func(ctx context.Context) error {
			_, err := j.CheckAlerts(ctx)
			return err
		}},
		{"cleanup", func() *gocron.Scheduler { return s.cron.Every(1).Week().Sunday().At("01:00") }, j.Cleanup},
	}

	for _, r := range register {
		if _, err := r.when().Tag(r.name).Do(s.wrap(r.name, r.fn)); err != nil {
			return fmt.Errorf("schedule %s: %w", r.name, err)
		}
	}
	return nil
}

// Start registers the jobs and runs them in the background.
func (s *Scheduler) Start() error {
	if err := s.Register(); err != nil {
		return err
	}
	s.cron.StartAsync()
	s.log.Info().Int("jobs", len(s.cron.Jobs())).Msg("Scheduler started")
	return nil
}

// Stop cancels running jobs and stops the scheduler.
func (s *Scheduler) Stop() {
	s.cancel()
	s.cron.Stop()
	s.log.Info().Msg("Scheduler stopped")
}
