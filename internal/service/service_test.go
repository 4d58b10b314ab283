package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transformer-telemetry/internal/alerting"
	"transformer-telemetry/internal/generator"
	"transformer-telemetry/internal/metrics"
	"transformer-telemetry/internal/state"
	"transformer-telemetry/internal/storage"
	"transformer-telemetry/internal/telemetry"
)

var origin = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testOptions(clock mclock.Clock) Options {
	return Options{
		Tick:           500 * time.Millisecond,
		RouterCapacity: 64,
		WindowSize:     6,
		Params:         generator.DefaultParams(),
		Thresholds:     telemetry.DefaultThresholds(),
		Clock:          clock,
		Origin:         origin,
	}
}

func advance(t *testing.T, clock *mclock.Simulated, timers int, cond func() bool) {
	t.Helper()
	clock.WaitForTimers(timers)
	clock.Run(500 * time.Millisecond)
	require.Eventually(t, cond, 2*time.Second, time.Millisecond)
}

func seriesLen(m *Monitor) int {
	return len(m.Snapshot().Series[telemetry.MetricVoltage])
}

func TestStartProducesSamplesForSelectedEntity(t *testing.T) {
	clock := new(mclock.Simulated)
	m := New(testOptions(clock), state.NewStore(16), nil, nil, nil, zerolog.Nop())

	require.NoError(t, m.Start(context.Background(), []telemetry.EntityID{"A", "B"}, 123))
	defer m.Stop()

	snap := m.Snapshot()
	assert.True(t, snap.Running)
	assert.Equal(t, telemetry.EntityID("A"), snap.SelectedEntity)

	advance(t, clock, 2, func() bool { return seriesLen(m) == 1 })

	snap = m.Snapshot()
	for _, metric := range telemetry.Metrics {
		require.Len(t, snap.Series[metric], 1, metric)
		assert.Equal(t, origin.Add(500*time.Millisecond).UnixMilli(), snap.Series[metric][0].TimestampMillis)
	}
	require.NotNil(t, snap.LastAnomaly)
	assert.Equal(t, telemetry.EntityID("A"), snap.LastAnomaly.EntityID)
}

func TestStartTwiceIsNoop(t *testing.T) {
	clock := new(mclock.Simulated)
	m := New(testOptions(clock), state.NewStore(16), nil, nil, nil, zerolog.Nop())

	ctx := context.Background()
	require.NoError(t, m.Start(ctx, []telemetry.EntityID{"A"}, 1))
	require.NoError(t, m.Start(ctx, []telemetry.EntityID{"A"}, 1))
	defer m.Stop()

	clock.WaitForTimers(1)
	assert.Equal(t, 1, clock.ActiveTimers())

	advance(t, clock, 1, func() bool { return seriesLen(m) == 1 })
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, seriesLen(m))
}

func TestSelectEntityDuringRun(t *testing.T) {
	clock := new(mclock.Simulated)
	m := New(testOptions(clock), state.NewStore(16), nil, nil, nil, zerolog.Nop())

	require.NoError(t, m.Start(context.Background(), []telemetry.EntityID{"A", "B"}, 123))
	defer m.Stop()

	advance(t, clock, 2, func() bool { return m.Processed() == 2 })
	require.NoError(t, m.SelectEntity("B"))

	snap := m.Snapshot()
	assert.Equal(t, telemetry.EntityID("B"), snap.SelectedEntity)
	assert.Empty(t, snap.Series[telemetry.MetricVoltage])

	advance(t, clock, 2, func() bool { return m.Processed() == 4 })
	snap = m.Snapshot()
	require.Len(t, snap.Series[telemetry.MetricLoad], 1)
	require.NotNil(t, snap.LastAnomaly)
	assert.Equal(t, telemetry.EntityID("B"), snap.LastAnomaly.EntityID)
	assert.Equal(t, origin.Add(time.Second).UnixMilli(), snap.Series[telemetry.MetricLoad][0].TimestampMillis)

	assert.ErrorIs(t, m.SelectEntity("Z"), state.ErrUnknownEntity)
}

func TestStopReturnsToNotRunning(t *testing.T) {
	clock := new(mclock.Simulated)
	reg := metrics.New()
	m := New(testOptions(clock), state.NewStore(16), reg, nil, nil, zerolog.Nop())

	assert.ErrorIs(t, m.Stop(), ErrNotRunning)

	require.NoError(t, m.Start(context.Background(), []telemetry.EntityID{"A"}, 1))
	assert.True(t, m.Running())
	require.NoError(t, m.Stop())

	assert.False(t, m.Running())
	assert.False(t, m.Snapshot().Running)
	assert.Nil(t, m.Done())

	require.NoError(t, m.Start(context.Background(), []telemetry.EntityID{"A"}, 1))
	assert.True(t, m.Snapshot().Running)
	require.NoError(t, m.Stop())
}

func TestParentCancelStopsPipeline(t *testing.T) {
	clock := new(mclock.Simulated)
	m := New(testOptions(clock), state.NewStore(16), nil, nil, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Start(ctx, []telemetry.EntityID{"A"}, 1))
	done := m.Done()
	require.NotNil(t, done)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop")
	}
	assert.False(t, m.Running())
}

func TestStartRejectsDuplicateEntities(t *testing.T) {
	m := New(testOptions(new(mclock.Simulated)), state.NewStore(16), nil, nil, nil, zerolog.Nop())
	assert.Error(t, m.Start(context.Background(), []telemetry.EntityID{"A", "A"}, 1))
	assert.Error(t, m.Start(context.Background(), nil, 1))
	assert.False(t, m.Running())
}

func TestReplayMatchesLivePipeline(t *testing.T) {
	clock := new(mclock.Simulated)
	opts := testOptions(clock)
	ids := []telemetry.EntityID{"A", "B"}

	live := New(opts, state.NewStore(16), nil, nil, nil, zerolog.Nop())
	require.NoError(t, live.Start(context.Background(), ids, 123))
	for tick := 1; tick <= 5; tick++ {
		advance(t, clock, 2, func() bool { return seriesLen(live) == tick })
	}
	require.NoError(t, live.Stop())

	offline := state.NewStore(16)
	var visited int
	require.NoError(t, Replay(context.Background(), opts, offline, ids, 123, 5, func(telemetry.SmoothedSample) { visited++ }))

	assert.Equal(t, 10, visited)
	assert.Equal(t, live.Snapshot().Series, offline.Snapshot().Series)
}

func TestReplayHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Replay(ctx, testOptions(nil), state.NewStore(4), []telemetry.EntityID{"A"}, 1, 10, nil)
	assert.ErrorIs(t, err, context.Canceled)

	err = Replay(context.Background(), testOptions(nil), state.NewStore(4), nil, 1, 10, nil)
	assert.ErrorIs(t, err, generator.ErrNoEntities)
}

type captureNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (c *captureNotifier) Notify(_ context.Context, note alerting.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notes = append(c.notes, note)
	return nil
}

func (c *captureNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.notes)
}

type memoryJournal struct {
	mu       sync.Mutex
	events   []storage.AnomalyEvent
	notified map[int64]bool
}

func (j *memoryJournal) InsertAnomaly(_ context.Context, event storage.AnomalyEvent) (storage.AnomalyEvent, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	event.ID = int64(len(j.events) + 1)
	j.events = append(j.events, event)
	return event, nil
}

func (j *memoryJournal) MarkNotified(_ context.Context, id int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.notified == nil {
		j.notified = make(map[int64]bool)
	}
	j.notified[id] = true
	return nil
}

func TestAnomaliesAreGatedJournaledAndNotified(t *testing.T) {
	clock := new(mclock.Simulated)
	opts := testOptions(clock)
	// every sample is a voltage spike
	opts.Thresholds.VoltageLowKV = 0
	opts.Thresholds.VoltageHighKV = 0.001
	opts.AlertCooldown = time.Second

	notifier := &captureNotifier{}
	journal := &memoryJournal{}
	m := New(opts, state.NewStore(16), metrics.New(), journal, notifier, zerolog.Nop())

	require.NoError(t, m.Start(context.Background(), []telemetry.EntityID{"A"}, 7))
	for tick := 1; tick <= 4; tick++ {
		advance(t, clock, 1, func() bool { return seriesLen(m) == tick })
	}
	require.NoError(t, m.Stop())

	// ticks at 0.5s, 1s, 1.5s, 2s; a one second cooldown lets 0.5s and 1.5s through
	require.Equal(t, 2, notifier.count())
	assert.Equal(t, telemetry.AnomalyVoltageSpike, notifier.notes[0].Kind)
	assert.Equal(t, m.SessionID(), notifier.notes[0].SessionID)
	assert.Equal(t, origin.Add(500*time.Millisecond), notifier.notes[0].At)

	journal.mu.Lock()
	defer journal.mu.Unlock()
	require.Len(t, journal.events, 2)
	assert.Equal(t, "voltage_spike", journal.events[0].Kind)
	assert.True(t, journal.notified[1])
	assert.True(t, journal.notified[2])
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "11.25", FormatValue(telemetry.MetricVoltage, 11.2549))
	assert.Equal(t, "150.1", FormatValue(telemetry.MetricCurrent, 150.06))
	assert.Equal(t, "0.457", FormatValue(telemetry.MetricLoad, 0.4567))
}
