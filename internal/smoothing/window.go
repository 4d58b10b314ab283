package smoothing

import "transformer-telemetry/internal/telemetry"

// DefaultWindowSize is the number of raw measurements averaged per entity.
const DefaultWindowSize = 6

// Window is a bounded FIFO of the most recent raw measurements of one entity.
type Window struct {
	buf   []telemetry.Measurement
	start int
	size  int
}

// NewWindow allocates a window holding at most capacity measurements.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultWindowSize
	}
	return &Window{buf: make([]telemetry.Measurement, capacity)}
}

// Append adds m, evicting the oldest element when full.
func (w *Window) Append(m telemetry.Measurement) {
	if w.size < len(w.buf) {
		w.buf[(w.start+w.size)%len(w.buf)] = m
		w.size++
		return
	}
	w.buf[w.start] = m
	w.start = (w.start + 1) % len(w.buf)
}

// Len returns the number of held measurements.
func (w *Window) Len() int { return w.size }

// Cap returns the window capacity.
func (w *Window) Cap() int { return len(w.buf) }

// Items returns the contents oldest first.
func (w *Window) Items() []telemetry.Measurement {
	out := make([]telemetry.Measurement, w.size)
	for i := range out {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}

// Means returns the arithmetic means of voltage, current and temperature over
// the current contents. It must not be called on an empty window.
func (w *Window) Means() (voltage, current, temperature float64) {
	for i := 0; i < w.size; i++ {
		m := w.buf[(w.start+i)%len(w.buf)]
		voltage += m.VoltageKV
		current += m.CurrentAmps
		temperature += m.TemperatureC
	}
	n := float64(w.size)
	return voltage / n, current / n, temperature / n
}
