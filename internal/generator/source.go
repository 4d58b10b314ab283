package generator

import (
	"hash/fnv"
	"math/rand/v2"

	"transformer-telemetry/internal/telemetry"
)

// Source is a reproducible pseudo-random stream owned by one entity.
type Source struct {
	rng *rand.Rand
}

// NewSource derives an entity stream from the session seed and the entity ID,
// so equal (seed, id) pairs always yield the same sequence and different IDs
// yield unrelated ones.
func NewSource(seed int64, id telemetry.EntityID) *Source {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return &Source{rng: rand.New(rand.NewPCG(uint64(seed), h.Sum64()))}
}

// Uniform returns a value in [-span, span).
func (s *Source) Uniform(span float64) float64 {
	return (s.rng.Float64()*2 - 1) * span
}

// Chance reports true with probability p.
func (s *Source) Chance(p float64) bool {
	return s.rng.Float64() < p
}

// Sign returns +1 or -1 with equal probability.
func (s *Source) Sign() float64 {
	if s.rng.Float64() < 0.5 {
		return -1
	}
	return 1
}
