package generator

import (
	"time"

	"transformer-telemetry/internal/telemetry"
)

// Physical limits applied after every tick.
const (
	MinVoltageKV     = 6.0
	MaxVoltageKV     = 18.0
	MinCurrentAmps   = 10.0
	MaxCurrentAmps   = 400.0
	MinTemperatureC  = 20.0
	MaxTemperatureC  = 110.0
	MinLoadFactor    = 0.0
	MaxLoadFactor    = 1.0
	defaultTickDelta = 500 * time.Millisecond
)

// Params shape the stochastic walk of every entity.
type Params struct {
	VoltageStepKV     float64 `mapstructure:"voltage_step_kv"`
	CurrentStepAmps   float64 `mapstructure:"current_step_amps"`
	TemperatureStepC  float64 `mapstructure:"temperature_step_c"`
	LoadStep          float64 `mapstructure:"load_step"`
	SpikeProbability  float64 `mapstructure:"spike_probability"`
	VoltageSpikeKV    float64 `mapstructure:"voltage_spike_kv"`
	CurrentSpikeAmps  float64 `mapstructure:"current_spike_amps"`
	ThermalDrift      float64 `mapstructure:"thermal_drift"`
	VoltageJitterKV   float64 `mapstructure:"voltage_jitter_kv"`
	CurrentJitterAmps float64 `mapstructure:"current_jitter_amps"`
	TemperatureJitter float64 `mapstructure:"temperature_jitter_c"`
	LoadJitter        float64 `mapstructure:"load_jitter"`
}

// DefaultParams returns the stock noise profile.
func DefaultParams() Params {
	return Params{
		VoltageStepKV:     0.15,
		CurrentStepAmps:   4,
		TemperatureStepC:  0.35,
		LoadStep:          0.03,
		SpikeProbability:  0.02,
		VoltageSpikeKV:    5,
		CurrentSpikeAmps:  160,
		ThermalDrift:      1.5,
		VoltageJitterKV:   0.4,
		CurrentJitterAmps: 12,
		TemperatureJitter: 2.5,
		LoadJitter:        0.05,
	}
}

// Process is the evolving state of one entity. It is owned by a single task.
type Process struct {
	entity telemetry.Entity
	params Params
	src    *Source
	origin time.Time
	tick   time.Duration

	voltage     float64
	current     float64
	temperature float64
	load        float64
	n           uint64
}

// NewProcess seeds an entity's state near its nominal operating point.
// Measurement n is stamped origin + n*tick.
func NewProcess(entity telemetry.Entity, seed int64, params Params, origin time.Time, tick time.Duration) *Process {
	if tick <= 0 {
		tick = defaultTickDelta
	}
	src := NewSource(seed, entity.ID)
	op := telemetry.NominalFor(entity.Kind)

	return &Process{
		entity:      entity,
		params:      params,
		src:         src,
		origin:      origin,
		tick:        tick,
		voltage:     clamp(op.VoltageKV+src.Uniform(params.VoltageJitterKV), MinVoltageKV, MaxVoltageKV),
		current:     clamp(op.CurrentAmps+src.Uniform(params.CurrentJitterAmps), MinCurrentAmps, MaxCurrentAmps),
		temperature: clamp(op.TemperatureC+src.Uniform(params.TemperatureJitter), MinTemperatureC, MaxTemperatureC),
		load:        clamp(op.LoadFactor+src.Uniform(params.LoadJitter), MinLoadFactor, MaxLoadFactor),
	}
}

// Entity returns the entity this process generates for.
func (p *Process) Entity() telemetry.Entity {
	return p.entity
}

// Next advances the state by one tick and returns the resulting measurement.
// The order of random draws is fixed; changing it changes every sequence.
func (p *Process) Next() telemetry.Measurement {
	p.n++

	p.load = clamp(p.load+p.src.Uniform(p.params.LoadStep), MinLoadFactor, MaxLoadFactor)

	voltage := p.voltage + p.src.Uniform(p.params.VoltageStepKV) + p.spike(p.params.VoltageSpikeKV)
	p.voltage = clamp(voltage, MinVoltageKV, MaxVoltageKV)

	current := p.current + p.src.Uniform(p.params.CurrentStepAmps) + p.spike(p.params.CurrentSpikeAmps)
	p.current = clamp(current, MinCurrentAmps, MaxCurrentAmps)

	temperature := p.temperature + p.src.Uniform(p.params.TemperatureStepC) + (p.load-0.5)*p.params.ThermalDrift
	p.temperature = clamp(temperature, MinTemperatureC, MaxTemperatureC)

	return telemetry.Measurement{
		EntityID:        p.entity.ID,
		TimestampMillis: p.origin.Add(time.Duration(p.n) * p.tick).UnixMilli(),
		VoltageKV:       p.voltage,
		CurrentAmps:     p.current,
		TemperatureC:    p.temperature,
		LoadFactor:      p.load,
	}
}

// spike always consumes two draws so the stream stays aligned whether or not
// the spike fires.
func (p *Process) spike(magnitude float64) float64 {
	fire := p.src.Chance(p.params.SpikeProbability)
	sign := p.src.Sign()
	if !fire {
		return 0
	}
	return sign * magnitude
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
