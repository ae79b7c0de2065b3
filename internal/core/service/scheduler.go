package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const defaultPollInterval = 5 * time.Second

// Cycle is one unit of periodic work, typically a Dispatcher.
type Cycle interface {
	Name() string
	RunOnce(ctx context.Context) (DispatchResult, error)
}

// Scheduler drives every cycle from a single ticker. Cycles run one after the
// other in registration order and a tick never overlaps the previous one.
type Scheduler struct {
	interval time.Duration
	cycles   []Cycle
	logger   *zap.Logger
}

func NewScheduler(interval time.Duration, logger *zap.Logger, cycles ...Cycle) *Scheduler {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		interval: interval,
		cycles:   cycles,
		logger:   logger.With(zap.String("component", "scheduler")),
	}
}

// Run ticks until ctx is cancelled. The first tick runs immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", zap.Duration("interval", s.interval), zap.Int("cycles", len(s.cycles)))
	defer s.logger.Info("scheduler stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				return nil
			}
			s.Tick(ctx)
		}
	}
}

// Tick runs every cycle once. A failing cycle is logged and does not stop the others.
func (s *Scheduler) Tick(ctx context.Context) {
	for _, cycle := range s.cycles {
		if ctx.Err() != nil {
			return
		}

		if _, err := s.runCycle(ctx, cycle); err != nil {
			s.logger.Error("dispatch cycle failed", zap.String("cycle", cycle.Name()), zap.Error(err))
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context, cycle Cycle) (result DispatchResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("dispatch cycle panicked", zap.String("cycle", cycle.Name()), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	return cycle.RunOnce(ctx)
}
