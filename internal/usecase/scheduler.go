package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	applogger "PatternDesk/pkg/logger"
)

// BatchRunner is what the scheduler triggers.
type BatchRunner interface {
	Run(ctx context.Context) (RunResult, error)
}

// Scheduler triggers analysis runs on a cron schedule. A tick that fires
// while a run is still in progress is skipped.
type Scheduler struct {
	cron     *cron.Cron
	schedule string
	runner   BatchRunner
	l        *applogger.Logger
	running  atomic.Bool
	skipped  atomic.Int64
	ctx      context.Context
	cancel   context.CancelFunc

	mu       sync.Mutex
	stopped  bool
	inFlight sync.WaitGroup
}

// NewScheduler validates schedule (standard 5-field or @descriptor).
func NewScheduler(schedule string, runner BatchRunner, l *applogger.Logger) (*Scheduler, error) {
	if l == nil {
		l = applogger.Nop()
	}
	s := &Scheduler{
		cron:     cron.New(),
		schedule: schedule,
		runner:   runner,
		l:        l.With(applogger.String("component", "scheduler")),
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.Trigger() }); err != nil {
		return nil, fmt.Errorf("schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins firing; runs use ctx and stop when it is cancelled.
// runNow triggers one run immediately in the background.
func (s *Scheduler) Start(ctx context.Context, runNow bool) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.l.Info("scheduler started", applogger.String("schedule", s.schedule))
	if runNow {
		go s.Trigger()
	}
}

// Trigger runs one batch unless another one is in progress. It reports
// whether a run was executed.
func (s *Scheduler) Trigger() bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	if !s.running.CompareAndSwap(false, true) {
		s.mu.Unlock()
		s.skipped.Add(1)
		s.l.Warn("previous run still in progress, tick skipped")
		return false
	}
	s.inFlight.Add(1)
	s.mu.Unlock()
	defer s.inFlight.Done()
	defer s.running.Store(false)

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := s.runner.Run(ctx)
	if err != nil {
		s.l.Error("scheduled run failed", applogger.String("run_id", res.RunID), applogger.Error(err))
		return true
	}
	s.l.Debug("scheduled run done", applogger.String("run_id", res.RunID), applogger.Int("failures", len(res.Failures)))
	return true
}

// Skipped returns how many ticks were dropped because of overlap.
func (s *Scheduler) Skipped() int64 { return s.skipped.Load() }

// Stop stops firing, cancels the run context and waits for the in-flight
// run or ctx, whichever ends first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.cron.Stop()
	if s.cancel != nil {
		s.cancel()
	}
	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.l.Info("scheduler stopped")
	return nil
}
