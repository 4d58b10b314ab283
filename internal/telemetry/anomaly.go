package telemetry

import (
	"encoding/json"
	"fmt"
)

// AnomalyKind classifies a raw measurement. Kinds are mutually exclusive.
type AnomalyKind uint8

const (
	AnomalyNone AnomalyKind = iota
	AnomalyVoltageSpike
	AnomalyOvercurrent
	AnomalyOverheat
	AnomalyUnderload
	AnomalyOverload
)

var anomalyNames = [...]string{
	AnomalyNone:         "none",
	AnomalyVoltageSpike: "voltage_spike",
	AnomalyOvercurrent:  "overcurrent",
	AnomalyOverheat:     "overheat",
	AnomalyUnderload:    "underload",
	AnomalyOverload:     "overload",
}

func (k AnomalyKind) String() string {
	if int(k) < len(anomalyNames) {
		return anomalyNames[k]
	}
	return fmt.Sprintf("anomaly(%d)", uint8(k))
}

// ParseAnomalyKind is the inverse of String.
func ParseAnomalyKind(s string) (AnomalyKind, error) {
	for i, name := range anomalyNames {
		if name == s {
			return AnomalyKind(i), nil
		}
	}
	return AnomalyNone, fmt.Errorf("unknown anomaly kind %q", s)
}

func (k AnomalyKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *AnomalyKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAnomalyKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Thresholds bound the normal operating envelope.
type Thresholds struct {
	VoltageLowKV     float64 `mapstructure:"voltage_low_kv"`
	VoltageHighKV    float64 `mapstructure:"voltage_high_kv"`
	CurrentHighAmps  float64 `mapstructure:"current_high_amps"`
	TemperatureHighC float64 `mapstructure:"temperature_high_c"`
	LoadLow          float64 `mapstructure:"load_low"`
	LoadHigh         float64 `mapstructure:"load_high"`
}

// DefaultThresholds returns the stock envelope.
func DefaultThresholds() Thresholds {
	return Thresholds{
		VoltageLowKV:     7.0,
		VoltageHighKV:    16.5,
		CurrentHighAmps:  350.0,
		TemperatureHighC: 95.0,
		LoadLow:          0.2,
		LoadHigh:         0.9,
	}
}

// Classify maps a raw measurement to an anomaly kind. Checks run in a fixed
// order and the first match wins. NaN fields never match a check.
func Classify(m Measurement, t Thresholds) AnomalyKind {
	switch {
	case m.VoltageKV < t.VoltageLowKV || m.VoltageKV > t.VoltageHighKV:
		return AnomalyVoltageSpike
	case m.CurrentAmps > t.CurrentHighAmps:
		return AnomalyOvercurrent
	case m.TemperatureC > t.TemperatureHighC:
		return AnomalyOverheat
	case m.LoadFactor < t.LoadLow:
		return AnomalyUnderload
	case m.LoadFactor > t.LoadHigh:
		return AnomalyOverload
	default:
		return AnomalyNone
	}
}
