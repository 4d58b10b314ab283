package router

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transformer-telemetry/internal/telemetry"
)

func m(id string, ts int64) telemetry.Measurement {
	return telemetry.Measurement{EntityID: telemetry.EntityID(id), TimestampMillis: ts}
}

func drain(t *testing.T, r *Router) []telemetry.Measurement {
	t.Helper()
	var out []telemetry.Measurement
	for v := range r.All(context.Background()) {
		out = append(out, v)
	}
	return out
}

func TestPushRejectsWhenFull(t *testing.T) {
	r := New(2)

	assert.True(t, r.Push(m("A", 1)))
	assert.True(t, r.Push(m("B", 2)))
	assert.False(t, r.Push(m("A", 3)))
	assert.Equal(t, uint64(1), r.Dropped())
	assert.Equal(t, 2, r.Len())

	r.Close()
	assert.Equal(t, []telemetry.Measurement{m("A", 1), m("B", 2)}, drain(t, r))
}

func TestPushAfterCloseIsRejected(t *testing.T) {
	r := New(4)
	r.Close()
	r.Close()
	assert.False(t, r.Push(m("A", 1)))
	assert.Equal(t, uint64(1), r.Dropped())
	assert.Empty(t, drain(t, r))
}

func TestAllStopsOnContext(t *testing.T) {
	r := New(4)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range r.All(ctx) {
		}
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("All did not return after cancel")
	}
}

func TestAllResumesAfterBreak(t *testing.T) {
	r := New(4)
	for i := int64(1); i <= 3; i++ {
		require.True(t, r.Push(m("A", i)))
	}

	for v := range r.All(context.Background()) {
		assert.Equal(t, int64(1), v.TimestampMillis)
		break
	}
	r.Close()
	assert.Equal(t, []telemetry.Measurement{m("A", 2), m("A", 3)}, drain(t, r))
}

func TestConcurrentProducersKeepPerEntityOrder(t *testing.T) {
	const perEntity = 200
	r := New(16)

	got := make(chan []telemetry.Measurement)
	go func() {
		var out []telemetry.Measurement
		for v := range r.All(context.Background()) {
			out = append(out, v)
		}
		got <- out
	}()

	var wg sync.WaitGroup
	for e := 0; e < 4; e++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := int64(1); i <= perEntity; i++ {
				for !r.Push(m(id, i)) {
					time.Sleep(time.Microsecond)
				}
			}
		}(fmt.Sprintf("E%d", e))
	}
	wg.Wait()
	r.Close()

	last := map[telemetry.EntityID]int64{}
	out := <-got
	require.Len(t, out, 4*perEntity)
	for _, v := range out {
		require.Greater(t, v.TimestampMillis, last[v.EntityID])
		last[v.EntityID] = v.TimestampMillis
	}
}

type countingObserver struct {
	mu       sync.Mutex
	accepted map[telemetry.EntityID]int
	dropped  map[telemetry.EntityID]int
}

func (c *countingObserver) Accepted(id telemetry.EntityID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accepted[id]++
}

func (c *countingObserver) Dropped(id telemetry.EntityID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped[id]++
}

func TestObserverSeesOutcomes(t *testing.T) {
	obs := &countingObserver{accepted: map[telemetry.EntityID]int{}, dropped: map[telemetry.EntityID]int{}}
	r := New(1, WithObserver(obs))

	r.Push(m("A", 1))
	r.Push(m("B", 1))

	assert.Equal(t, 1, obs.accepted["A"])
	assert.Equal(t, 1, obs.dropped["B"])
	assert.Equal(t, 1, r.Cap())
}
