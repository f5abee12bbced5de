// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Sweep is the callback invoked each time the schedule fires.
type Sweep func(ctx context.Context) error

// Scheduler runs a sweep on a cron schedule. A sweep that is still running
// when the next tick arrives causes that tick to be skipped.
type Scheduler struct {
	schedule string
	sweep    Sweep
	logger   *slog.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field, plus descriptors such as
// "@every 1m".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate reports whether schedule parses.
func Validate(schedule string) error {
	if _, err := cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("parse schedule %q: %w", schedule, err)
	}
	return nil
}

// New creates a Scheduler that runs sweep on schedule.
func New(schedule string, sweep Sweep, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{schedule: schedule, sweep: sweep, logger: logger}
}

func (s *Scheduler) newCron() *cron.Cron {
	return cron.New(
		cron.WithParser(cronParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
}

// Start registers the sweep and starts the cron ticker. Sweeps receive a
// context derived from ctx that is cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.newCron()
	runCtx, cancel := context.WithCancel(ctx)
	_, err := c.AddFunc(s.schedule, func() { s.run(runCtx) })
	if err != nil {
		cancel()
		return fmt.Errorf("parse schedule %q: %w", s.schedule, err)
	}
	s.cron, s.cancel = c, cancel
	c.Start()
	s.logger.Info("scheduled upload sweep", "schedule", s.schedule)
	return nil
}

// Trigger runs the sweep once, outside the schedule, and returns its error.
func (s *Scheduler) Trigger(ctx context.Context) error {
	return s.sweep(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.logger.Debug("cron firing sweep")
	if err := s.sweep(ctx); err != nil {
		s.logger.Error("sweep failed", "error", err)
	}
}

// Reload stops the current ticker and starts one for schedule.
func (s *Scheduler) Reload(ctx context.Context, schedule string) error {
	if err := Validate(schedule); err != nil {
		return err
	}
	s.Stop()
	s.mu.Lock()
	s.schedule = schedule
	s.mu.Unlock()
	return s.Start(ctx)
}

// Stop stops the ticker, cancels the running sweep's context and waits for
// it to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
}
