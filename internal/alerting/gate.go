package alerting

import (
	"sync"
	"time"

	"transformer-telemetry/internal/telemetry"
)

type gateKey struct {
	entity telemetry.EntityID
	kind   telemetry.AnomalyKind
}

// Gate suppresses repeats of the same anomaly for the same entity within a
// cooldown. Time is taken from the measurement, not the wall clock.
type Gate struct {
	cooldown time.Duration

	mu   sync.Mutex
	last map[gateKey]time.Time
}

// NewGate builds a gate; a non-positive cooldown lets everything through.
func NewGate(cooldown time.Duration) *Gate {
	return &Gate{cooldown: cooldown, last: make(map[gateKey]time.Time)}
}

// Allow reports whether an alert for (entity, kind) at time at should be sent
// and records it if so. AnomalyNone is never allowed.
func (g *Gate) Allow(entity telemetry.EntityID, kind telemetry.AnomalyKind, at time.Time) bool {
	if kind == telemetry.AnomalyNone {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	key := gateKey{entity: entity, kind: kind}
	if prev, ok := g.last[key]; ok && g.cooldown > 0 && at.Sub(prev) < g.cooldown {
		return false
	}
	g.last[key] = at
	return true
}
