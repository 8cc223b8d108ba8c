package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

// Job is a periodic task run by Cron.
type Job struct {
	Name  string
	Every time.Duration
	// WaitFirst delays the first run by one period instead of running at start.
	WaitFirst bool
	Run       func(ctx context.Context) error
}

// Cron runs fixed-period jobs on gocron. Every job is in singleton mode, so a slow run is never
// overlapped by the next one.
type Cron struct {
	sched  *gocron.Scheduler
	logger zerolog.Logger
}

// NewCron builds an idle cron scheduler on UTC.
func NewCron(logger zerolog.Logger) *Cron {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Cron{sched: s, logger: logger.With().Str("component", "cron").Logger()}
}

// Add registers job. ctx is handed to every run.
func (c *Cron) Add(ctx context.Context, job Job) error {
	if job.Every <= 0 {
		return fmt.Errorf("job %s: period must be positive", job.Name)
	}
	if job.Run == nil {
		return errors.New("job run func is required")
	}

	log := c.logger.With().Str("job", job.Name).Logger()
	s := c.sched.Every(job.Every).Tag(job.Name)
	if job.WaitFirst {
		s = s.WaitForSchedule()
	}
	_, err := s.Do(func() {
		if ctx.Err() != nil {
			return
		}
		started := time.Now()
		if err := job.Run(ctx); err != nil {
			log.Error().Err(err).Msg("job failed")
			return
		}
		log.Debug().Dur("took", time.Since(started)).Msg("job finished")
	})
	if err != nil {
		return fmt.Errorf("schedule job %s: %w", job.Name, err)
	}
	return nil
}

// Run starts the jobs and blocks until ctx is cancelled.
func (c *Cron) Run(ctx context.Context) error {
	c.sched.StartAsync()
	c.logger.Info().Int("jobs", len(c.sched.Jobs())).Msg("cron started")
	<-ctx.Done()
	c.sched.Stop()
	return ctx.Err()
}
