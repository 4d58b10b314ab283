package telemetry

import "time"

// EntityID identifies a monitored transformer within a session.
type EntityID string

// Kind tags the transformer class; it selects the nominal operating point.
type Kind string

const (
	KindDistribution Kind = "distribution"
	KindPower        Kind = "power"
	KindPadMount     Kind = "pad_mount"
)

// Entity couples an identifier with its transformer kind.
type Entity struct {
	ID   EntityID `json:"id"`
	Kind Kind     `json:"kind"`
}

// OperatingPoint is the centre around which a transformer's readings start.
type OperatingPoint struct {
	VoltageKV    float64
	CurrentAmps  float64
	TemperatureC float64
	LoadFactor   float64
}

// NominalFor returns the operating point for a transformer kind.
// Unknown kinds fall back to the distribution profile.
func NominalFor(kind Kind) OperatingPoint {
	switch kind {
	case KindPower:
		return OperatingPoint{VoltageKV: 15.0, CurrentAmps: 240, TemperatureC: 62, LoadFactor: 0.65}
	case KindPadMount:
		return OperatingPoint{VoltageKV: 11.0, CurrentAmps: 90, TemperatureC: 42, LoadFactor: 0.45}
	default:
		return OperatingPoint{VoltageKV: 11.0, CurrentAmps: 150, TemperatureC: 55, LoadFactor: 0.55}
	}
}

// ValidKind reports whether kind is one of the known transformer classes.
func ValidKind(kind Kind) bool {
	switch kind {
	case KindDistribution, KindPower, KindPadMount:
		return true
	}
	return false
}

// Measurement is one raw reading emitted by a generator tick.
type Measurement struct {
	EntityID        EntityID `json:"entityId"`
	TimestampMillis int64    `json:"timestampMillis"`
	VoltageKV       float64  `json:"voltageKv"`
	CurrentAmps     float64  `json:"currentAmps"`
	TemperatureC    float64  `json:"temperatureC"`
	LoadFactor      float64  `json:"loadFactor"`
}

// Time returns the measurement timestamp in UTC.
func (m Measurement) Time() time.Time {
	return time.UnixMilli(m.TimestampMillis).UTC()
}

// SmoothedSample pairs a raw measurement with its windowed averages and anomaly class.
type SmoothedSample struct {
	Raw                  Measurement `json:"raw"`
	SmoothedVoltageKV    float64     `json:"smoothedVoltageKv"`
	SmoothedCurrentAmps  float64     `json:"smoothedCurrentAmps"`
	SmoothedTemperatureC float64     `json:"smoothedTemperatureC"`
	Anomaly              AnomalyKind `json:"anomaly"`
}

// SeriesPoint is a single display point.
type SeriesPoint struct {
	TimestampMillis int64   `json:"t"`
	Value           float64 `json:"v"`
}

// Metric names a displayed series.
type Metric string

const (
	MetricVoltage     Metric = "voltage"
	MetricCurrent     Metric = "current"
	MetricTemperature Metric = "temperature"
	MetricLoad        Metric = "load"
)

// Metrics lists every displayed series in render order.
var Metrics = []Metric{MetricVoltage, MetricCurrent, MetricTemperature, MetricLoad}

// Value projects a sample onto a metric. Voltage, current and temperature use
// the smoothed values; load has no smoothed form and uses the raw factor.
func (s SmoothedSample) Value(metric Metric) float64 {
	switch metric {
	case MetricVoltage:
		return s.SmoothedVoltageKV
	case MetricCurrent:
		return s.SmoothedCurrentAmps
	case MetricTemperature:
		return s.SmoothedTemperatureC
	case MetricLoad:
		return s.Raw.LoadFactor
	}
	return 0
}
