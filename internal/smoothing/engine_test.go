package smoothing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transformer-telemetry/internal/telemetry"
)

func reading(id string, i int) telemetry.Measurement {
	f := float64(i)
	return telemetry.Measurement{
		EntityID:        telemetry.EntityID(id),
		TimestampMillis: int64(i),
		VoltageKV:       8 + f*0.5,
		CurrentAmps:     100 + f*10,
		TemperatureC:    40 + f,
		LoadFactor:      0.5,
	}
}

func TestWindowEvictsOldest(t *testing.T) {
	w := NewWindow(3)
	for i := 1; i <= 5; i++ {
		w.Append(reading("A", i))
		require.LessOrEqual(t, w.Len(), 3)
	}
	items := w.Items()
	require.Len(t, items, 3)
	assert.Equal(t, []int64{3, 4, 5}, []int64{items[0].TimestampMillis, items[1].TimestampMillis, items[2].TimestampMillis})
}

func TestSmoothedIsMeanOfLastW(t *testing.T) {
	const size = 6
	e := NewEngine(size, telemetry.DefaultThresholds())

	var history []telemetry.Measurement
	for n := 1; n <= 20; n++ {
		m := reading("A", n)
		history = append(history, m)
		s := e.Process(m)

		lo := len(history) - size
		if lo < 0 {
			lo = 0
		}
		var v, c, tc float64
		for _, h := range history[lo:] {
			v += h.VoltageKV
			c += h.CurrentAmps
			tc += h.TemperatureC
		}
		k := float64(len(history) - lo)

		assert.InDelta(t, v/k, s.SmoothedVoltageKV, 1e-9, "step %d", n)
		assert.InDelta(t, c/k, s.SmoothedCurrentAmps, 1e-9, "step %d", n)
		assert.InDelta(t, tc/k, s.SmoothedTemperatureC, 1e-9, "step %d", n)
		assert.LessOrEqual(t, len(e.Window("A")), size)
		assert.Equal(t, m, s.Raw)
	}
}

func TestWindowsArePerEntity(t *testing.T) {
	e := NewEngine(4, telemetry.DefaultThresholds())

	e.Process(reading("A", 1))
	s := e.Process(reading("B", 10))

	assert.Equal(t, reading("B", 10).VoltageKV, s.SmoothedVoltageKV)
	assert.Len(t, e.Window("A"), 1)
	assert.Len(t, e.Window("B"), 1)
	assert.Nil(t, e.Window("C"))
	assert.Equal(t, 2, e.Entities())

	e.Forget("A")
	assert.Equal(t, 1, e.Entities())
}

func TestAnomalyUsesRawReading(t *testing.T) {
	e := NewEngine(6, telemetry.DefaultThresholds())
	for i := 0; i < 5; i++ {
		e.Process(telemetry.Measurement{EntityID: "A", VoltageKV: 10, CurrentAmps: 100, TemperatureC: 50, LoadFactor: 0.5})
	}

	s := e.Process(telemetry.Measurement{EntityID: "A", VoltageKV: 10, CurrentAmps: 100, TemperatureC: 96, LoadFactor: 0.5})
	assert.Equal(t, telemetry.AnomalyOverheat, s.Anomaly)
	assert.Less(t, s.SmoothedTemperatureC, 95.0)

	s = e.Process(telemetry.Measurement{EntityID: "A", VoltageKV: 20, CurrentAmps: 400, TemperatureC: 50, LoadFactor: 0.5})
	assert.Equal(t, telemetry.AnomalyVoltageSpike, s.Anomaly)
}

func TestNaNPropagates(t *testing.T) {
	e := NewEngine(3, telemetry.DefaultThresholds())
	s := e.Process(telemetry.Measurement{EntityID: "A", VoltageKV: math.NaN(), CurrentAmps: 100, TemperatureC: 50, LoadFactor: 0.5})
	assert.True(t, math.IsNaN(s.SmoothedVoltageKV))
	assert.Equal(t, telemetry.AnomalyNone, s.Anomaly)
}
