package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/krishng03/yt-sum/shared/logging"
	"github.com/krishng03/yt-sum/shared/monitoring"
)

// Job is a unit of background maintenance.
type Job interface {
	Name() string
	// Run performs one pass and returns a human-readable summary.
	Run(ctx context.Context) (string, error)
}

// Scheduler runs jobs on a cron schedule (seconds field included).
type Scheduler struct {
	schedule string
	monitor  *monitoring.Monitor
	jobs     []Job
	cron     *cron.Cron
	logger   zerolog.Logger
}

func New(schedule string, monitor *monitoring.Monitor, jobs ...Job) *Scheduler {
	logger := logging.WithComponent("scheduler")
	if monitor == nil {
		monitor = monitoring.NewMonitor()
	}
	cronLog := cronLogger{logger}

	return &Scheduler{
		schedule: schedule,
		monitor:  monitor,
		jobs:     jobs,
		logger:   logger,
		// Prevent overlapping runs
		cron: cron.New(cron.WithSeconds(), cron.WithLogger(cronLog), cron.WithChain(
			cron.Recover(cronLog),
			cron.SkipIfStillRunning(cronLog),
		)),
	}
}

// Start schedules the jobs and blocks until ctx is cancelled, then waits for
// a running pass to finish.
func (s *Scheduler) Start(ctx context.Context) error {
	if len(s.jobs) == 0 {
		<-ctx.Done()
		return nil
	}

	_, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.RunOnce(ctx); err != nil {
			s.logger.Error().Err(err).Msg("scheduled maintenance failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.logger.Info().Str("schedule", s.schedule).Int("jobs", len(s.jobs)).Msg("scheduler started")
	s.cron.Start()

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("scheduler stopped")
	return nil
}

// RunOnce runs every job once, in order. A failing job does not stop the
// others; the joined error is returned.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var errs []error
	for _, job := range s.jobs {
		startTime := time.Now()
		name := job.Name()

		s.logger.Debug().Str("job", name).Msg("starting job")
		summary, err := job.Run(ctx)
		duration := time.Since(startTime)

		if err != nil {
			monitoring.RecordMaintenanceRun(name, "error")
			s.monitor.RecordCriticalFailure(fmt.Errorf("%s failed: %w", name, err), duration)
			errs = append(errs, fmt.Errorf("%s run failed: %w", name, err))
			continue
		}
		monitoring.RecordMaintenanceRun(name, "ok")
		s.monitor.RecordSuccess(fmt.Sprintf("%s: %s", name, summary), duration)
	}
	return errors.Join(errs...)
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
