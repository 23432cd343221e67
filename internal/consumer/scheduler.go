package consumer

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// CycleFunc runs one killtracker cycle.
type CycleFunc func(ctx context.Context) error

// Scheduler runs a cycle on a cron schedule. A run still in progress when
// the next one is due causes that one to be skipped.
type Scheduler struct {
	schedule string
	logger   *zap.Logger
}

func NewScheduler(schedule string, logger *zap.Logger) *Scheduler {
	return &Scheduler{schedule: schedule, logger: logger.Named("scheduler")}
}

// ParseSchedule reports whether spec is a valid schedule.
func ParseSchedule(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// Start runs once immediately, then on schedule until ctx is done. It
// waits for a running cycle to finish before returning.
func (s *Scheduler) Start(ctx context.Context, run CycleFunc) error {
	if err := ParseSchedule(s.schedule); err != nil {
		return err
	}

	cl := cronLogger{s.logger.Sugar()}
	c := cron.New(cron.WithLogger(cl))
	chain := cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))
	job := cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		if err := run(ctx); err != nil {
			s.logger.Error("cycle failed", zap.Error(err))
		}
	})
	wrapped := chain.Then(job)
	if _, err := c.AddJob(s.schedule, wrapped); err != nil {
		return fmt.Errorf("failed to schedule cycle: %w", err)
	}

	s.logger.Info("scheduler started", zap.String("schedule", s.schedule))
	c.Start()
	var first sync.WaitGroup
	first.Add(1)
	go func() {
		defer first.Done()
		wrapped.Run()
	}()

	<-ctx.Done()
	<-c.Stop().Done()
	first.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
