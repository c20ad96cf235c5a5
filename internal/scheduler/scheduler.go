package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"

	"github.com/i474232898/weather-publisher/internal/weather"
)

var errInvalidInterval = errors.New("scheduler interval must be positive")

// Runner performs one producer pass.
type Runner interface {
	RunOnce(ctx context.Context) weather.Summary
}

// History records finished passes.
type History interface {
	Save(summary weather.Summary)
}

// Scheduler runs a producer pass every interval. Passes never overlap: a
// pass that outlives the interval delays the next one.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	history   History
	interval  time.Duration
	logger    logrus.FieldLogger
}

// New creates a new Scheduler.
func New(interval time.Duration, runner Runner, history History, logger logrus.FieldLogger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		runner:    runner,
		history:   history,
		interval:  interval,
		logger:    logger,
	}
}

// Start schedules the periodic pass and starts the underlying scheduler.
// The first pass runs immediately. ctx is handed to every pass.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return errInvalidInterval
	}

	_, err := s.scheduler.Every(s.interval).Do(func() {
		s.logger.Info("scheduler: running weather publish pass")
		summary := s.runner.RunOnce(ctx)
		if s.history != nil {
			s.history.Save(summary)
		}
		s.logger.WithField("run_id", summary.RunID).Info("scheduler: completed weather publish pass")
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future passes.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
