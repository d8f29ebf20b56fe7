package scheduler

import (
	"fmt"
	"log/slog"

	"streamads/internal/logger"

	"github.com/robfig/cron/v3"
)

// Sweeper moves expired cooloff keys back to available.
type Sweeper interface {
	Sweep() (int, error)
}

type Scheduler struct {
	sweeper Sweeper
	spec    string
	logger  *slog.Logger
	c       *cron.Cron
}

// NewScheduler creates a scheduler that runs the cooloff sweep on spec.
// A sweep that is still running when the next one is due is skipped.
func NewScheduler(sweeper Sweeper, spec string, log *slog.Logger) *Scheduler {
	log = logger.Component(log, "scheduler")
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(log.Handler(), slog.LevelInfo))
	return &Scheduler{
		sweeper: sweeper,
		spec:    spec,
		logger:  log,
		c: cron.New(
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
	}
}

func (s *Scheduler) Start() error {
	_, err := s.c.AddFunc(s.spec, s.RunSweep)
	if err != nil {
		return fmt.Errorf("error scheduling cooloff sweep %q: %w", s.spec, err)
	}
	s.c.Start()
	s.logger.Info("Scheduler started", "cooloff_sweep", s.spec)
	return nil
}

// RunSweep runs one cooloff sweep.
func (s *Scheduler) RunSweep() {
	expired, err := s.sweeper.Sweep()
	if err != nil {
		s.logger.Error("Error running cooloff sweep", "error", err)
		return
	}
	s.logger.Debug("Cooloff sweep completed", "expired", expired)
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}
