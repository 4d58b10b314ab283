package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerTicksOnClock(t *testing.T) {
	clock := new(mclock.Simulated)
	s := New(Options{Interval: 500 * time.Millisecond, Clock: clock}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var last atomic.Uint64
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context, n uint64) error {
			last.Store(n)
			return nil
		})
	}()

	for i := uint64(1); i <= 3; i++ {
		clock.WaitForTimers(1)
		clock.Run(500 * time.Millisecond)
		require.Eventually(t, func() bool { return last.Load() == i }, time.Second, time.Millisecond)
	}

	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSchedulerKeepsRunningAfterTickError(t *testing.T) {
	clock := new(mclock.Simulated)
	s := New(Options{Interval: time.Second, Clock: clock}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	go func() {
		_ = s.Run(ctx, func(ctx context.Context, n uint64) error {
			calls.Add(1)
			return errors.New("boom")
		})
	}()

	for i := 0; i < 2; i++ {
		clock.WaitForTimers(1)
		clock.Run(time.Second)
	}
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)
}

func TestSchedulerStartupDelay(t *testing.T) {
	clock := new(mclock.Simulated)
	s := New(Options{Interval: time.Second, StartupDelay: 5 * time.Second, Clock: clock}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	go func() {
		_ = s.Run(ctx, func(ctx context.Context, n uint64) error {
			calls.Add(1)
			return nil
		})
	}()

	clock.WaitForTimers(1)
	clock.Run(time.Second)
	clock.WaitForTimers(1)
	assert.Equal(t, int32(0), calls.Load())

	clock.Run(5 * time.Second)
	clock.WaitForTimers(1)
	clock.Run(time.Second)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
}

func TestNewPanicsOnZeroInterval(t *testing.T) {
	assert.Panics(t, func() { New(Options{}, zerolog.Nop()) })
}
