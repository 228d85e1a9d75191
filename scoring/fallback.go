package scoring

import "math/rand/v2"

const (
	DefaultFallbackMin = 2.0
	DefaultFallbackMax = 4.0
)

// Fallback produces the degraded estimate substituted for a faulted
// in-process score: a uniform value in [Min, Max).
type Fallback struct {
	Min, Max float64
	rand     func() float64
}

// NewFallback returns an estimator over [min, max). A nil src uses the
// global generator.
func NewFallback(min, max float64, src func() float64) *Fallback {
	if src == nil {
		src = rand.Float64
	}
	if max < min {
		min, max = max, min
	}
	return &Fallback{Min: min, Max: max, rand: src}
}

// Estimate returns one degraded score.
func (f *Fallback) Estimate() float64 {
	return f.Min + (f.Max-f.Min)*f.rand()
}
