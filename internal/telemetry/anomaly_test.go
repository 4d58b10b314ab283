package telemetry

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nominal() Measurement {
	return Measurement{EntityID: "A", VoltageKV: 10, CurrentAmps: 100, TemperatureC: 50, LoadFactor: 0.5}
}

func TestClassifyOrder(t *testing.T) {
	th := DefaultThresholds()

	cases := []struct {
		name string
		mut  func(m *Measurement)
		want AnomalyKind
	}{
		{"nominal", func(m *Measurement) {}, AnomalyNone},
		{"low voltage", func(m *Measurement) { m.VoltageKV = 6.5 }, AnomalyVoltageSpike},
		{"high voltage", func(m *Measurement) { m.VoltageKV = 16.6 }, AnomalyVoltageSpike},
		{"voltage wins over current", func(m *Measurement) { m.VoltageKV = 20; m.CurrentAmps = 400 }, AnomalyVoltageSpike},
		{"overcurrent", func(m *Measurement) { m.CurrentAmps = 351 }, AnomalyOvercurrent},
		{"current wins over heat", func(m *Measurement) { m.CurrentAmps = 360; m.TemperatureC = 100 }, AnomalyOvercurrent},
		{"overheat", func(m *Measurement) { m.TemperatureC = 96 }, AnomalyOverheat},
		{"heat wins over load", func(m *Measurement) { m.TemperatureC = 96; m.LoadFactor = 0.95 }, AnomalyOverheat},
		{"underload", func(m *Measurement) { m.LoadFactor = 0.1 }, AnomalyUnderload},
		{"overload", func(m *Measurement) { m.LoadFactor = 0.95 }, AnomalyOverload},
		{"boundaries are inclusive", func(m *Measurement) {
			m.VoltageKV = 7.0
			m.CurrentAmps = 350
			m.TemperatureC = 95
			m.LoadFactor = 0.9
		}, AnomalyNone},
		{"nan passes through", func(m *Measurement) { m.VoltageKV = math.NaN() }, AnomalyNone},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := nominal()
			tc.mut(&m)
			assert.Equal(t, tc.want, Classify(m, th))
		})
	}
}

func TestClassifyOverheatScenario(t *testing.T) {
	m := Measurement{VoltageKV: 10, CurrentAmps: 100, TemperatureC: 96, LoadFactor: 0.5}
	assert.Equal(t, AnomalyOverheat, Classify(m, DefaultThresholds()))
}

func TestAnomalyKindJSON(t *testing.T) {
	data, err := json.Marshal(AnomalyOvercurrent)
	require.NoError(t, err)
	assert.JSONEq(t, `"overcurrent"`, string(data))

	var k AnomalyKind
	require.NoError(t, json.Unmarshal([]byte(`"underload"`), &k))
	assert.Equal(t, AnomalyUnderload, k)

	assert.Error(t, json.Unmarshal([]byte(`"meltdown"`), &k))
}

func TestNominalForFallsBack(t *testing.T) {
	assert.Equal(t, NominalFor(KindDistribution), NominalFor("unknown"))
	assert.NotEqual(t, NominalFor(KindDistribution), NominalFor(KindPower))
	assert.False(t, ValidKind("unknown"))
}
