// Package schedule runs the pipeline periodically from a cron expression.
package schedule

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"playlog/internal/logging"
	"playlog/internal/pipeline"
)

// Job is the work a scheduler triggers on each tick.
type Job func(ctx context.Context) error

// Scheduler fires a pipeline run on a cron schedule. A tick that arrives
// while the previous run is still going is skipped, not queued: the next
// run picks up whatever is pending anyway.
type Scheduler struct {
	spec   string
	job    Job
	logger *slog.Logger
}

// New validates the cron expression and builds a scheduler. Standard
// five-field expressions and @-descriptors (@hourly, @every 6h) are
// accepted.
func New(spec string, job Job, logger *slog.Logger) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, pipeline.Wrap(pipeline.ErrConfiguration, "schedule", "parse cron expression", err)
	}
	if job == nil {
		return nil, pipeline.Wrap(pipeline.ErrConfiguration, "schedule", "job required", nil)
	}
	return &Scheduler{spec: spec, job: job, logger: logging.NewComponentLogger(logger, "schedule")}, nil
}

// Run blocks until ctx is cancelled, firing the job per the schedule.
func (s *Scheduler) Run(ctx context.Context) error {
	adapter := cronLogger{logger: s.logger}
	runner := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(adapter),
		cron.Recover(adapter),
	))

	_, err := runner.AddFunc(s.spec, func() {
		s.logger.Info("scheduled run starting")
		if err := s.job(ctx); err != nil {
			s.logger.Error("scheduled run failed", logging.Error(err))
			return
		}
		s.logger.Info("scheduled run finished")
	})
	if err != nil {
		return pipeline.Wrap(pipeline.ErrConfiguration, "schedule", "register job", err)
	}

	s.logger.Info("scheduler started", logging.String("cron", s.spec))
	runner.Start()
	<-ctx.Done()

	// Wait for an in-flight run to finish before returning.
	<-runner.Stop().Done()
	return ctx.Err()
}

// cronLogger adapts slog to the cron logging interface.
type cronLogger struct {
	logger *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.logger.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	args := append([]any{logging.Error(err)}, keysAndValues...)
	c.logger.Error(msg, args...)
}
