package throttle

import (
	"context"
	"math/rand"
)

// SimulatedUsageSource synthesizes a noisy usage signal around a base load,
// for tests and demos where no real metrics backend is wired up.
type SimulatedUsageSource struct {
	Base   float64 // 0..100
	Spread float64 // +/- noise applied to Base
	rand   *rand.Rand
}

// NewSimulatedUsageSource constructs a source around the given base load.
func NewSimulatedUsageSource(base, spread float64) *SimulatedUsageSource {
	return &SimulatedUsageSource{Base: base, Spread: spread, rand: rand.New(rand.NewSource(1))}
}

func (s *SimulatedUsageSource) Usage(ctx context.Context) (float64, error) {
	noise := (s.rand.Float64()*2 - 1) * s.Spread
	return clampUsage(s.Base + noise), nil
}
