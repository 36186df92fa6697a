// Package scheduler runs the periodic maintenance jobs of the key server.
package scheduler

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler wraps a cron runner. Jobs that panic are recovered and logged.
type Scheduler struct {
	c      *cron.Cron
	logger *slog.Logger
	jobs   []string
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	log := logger.With("component", "scheduler")
	cl := cronLogger{log}
	return &Scheduler{
		c:      cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		logger: log,
	}
}

// Register schedules fn under spec. An empty spec leaves the job disabled.
func (s *Scheduler) Register(name, spec string, fn func()) error {
	if spec == "" {
		s.logger.Info("Job disabled", "job", name)
		return nil
	}
	_, err := s.c.AddFunc(spec, func() {
		s.logger.Debug("Running job", "job", name)
		fn()
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %q: %w", name, err)
	}
	s.jobs = append(s.jobs, name)
	s.logger.Info("Job scheduled", "job", name, "spec", spec)
	return nil
}

// Jobs returns the names of the scheduled jobs in registration order.
func (s *Scheduler) Jobs() []string {
	return append([]string(nil), s.jobs...)
}

func (s *Scheduler) Start() {
	s.c.Start()
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
