// Package smoothing turns raw measurements into windowed averages and
// classifies each raw reading.
package smoothing

import "transformer-telemetry/internal/telemetry"

// Engine keeps one rolling window per entity. It has a single owner and is
// not safe for concurrent use.
type Engine struct {
	size       int
	thresholds telemetry.Thresholds
	windows    map[telemetry.EntityID]*Window
}

// NewEngine builds an engine averaging over windowSize measurements.
func NewEngine(windowSize int, thresholds telemetry.Thresholds) *Engine {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Engine{
		size:       windowSize,
		thresholds: thresholds,
		windows:    make(map[telemetry.EntityID]*Window),
	}
}

// Process appends m to its entity window and returns the smoothed sample.
// The anomaly is classified from m itself, never from the averages.
func (e *Engine) Process(m telemetry.Measurement) telemetry.SmoothedSample {
	w, ok := e.windows[m.EntityID]
	if !ok {
		w = NewWindow(e.size)
		e.windows[m.EntityID] = w
	}
	w.Append(m)

	voltage, current, temperature := w.Means()
	return telemetry.SmoothedSample{
		Raw:                  m,
		SmoothedVoltageKV:    voltage,
		SmoothedCurrentAmps:  current,
		SmoothedTemperatureC: temperature,
		Anomaly:              telemetry.Classify(m, e.thresholds),
	}
}

// Window returns a copy of an entity's window contents, oldest first.
func (e *Engine) Window(id telemetry.EntityID) []telemetry.Measurement {
	w, ok := e.windows[id]
	if !ok {
		return nil
	}
	return w.Items()
}

// Forget drops an entity's window.
func (e *Engine) Forget(id telemetry.EntityID) {
	delete(e.windows, id)
}

// Entities returns how many windows are held.
func (e *Engine) Entities() int {
	return len(e.windows)
}
