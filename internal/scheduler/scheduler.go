package scheduler

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/rs/zerolog"
)

// TickFunc is invoked once per interval. n counts ticks starting at 1.
type TickFunc func(ctx context.Context, n uint64) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	StartupDelay time.Duration
	// Clock drives the timers; nil means the system clock.
	Clock mclock.Clock
}

// Scheduler drives fixed-interval execution of a tick function.
type Scheduler struct {
	opts   Options
	clock  mclock.Clock
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	clock := opts.Clock
	if clock == nil {
		clock = mclock.System{}
	}
	return &Scheduler{opts: opts, clock: clock, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Interval returns the configured tick interval.
func (s *Scheduler) Interval() time.Duration {
	return s.opts.Interval
}

// Run blocks, invoking tick every interval until ctx is cancelled.
// Ticks that run long are not made up; the next wait starts after tick returns.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := s.wait(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	var n uint64
	for {
		if err := s.wait(ctx, s.opts.Interval); err != nil {
			return err
		}
		n++

		if err := tick(ctx, n); err != nil {
			s.logger.Error().Err(err).Uint64("tick", n).Msg("tick execution failed")
		}
	}
}

func (s *Scheduler) wait(ctx context.Context, d time.Duration) error {
	timer := s.clock.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C():
		return nil
	}
}
