package scoring

import (
	"context"
	"math"
	"math/rand/v2"
	"os"
)

// Simple is the test stub: it derives a plausible score from the file
// size plus noise and never fails.
type Simple struct {
	rand func() float64
}

// NewSimple returns the stub scorer. A nil src uses the global generator.
func NewSimple(src func() float64) *Simple {
	if src == nil {
		src = rand.Float64
	}
	return &Simple{rand: src}
}

func (s *Simple) Name() string { return string(StrategySimple) }

// Score returns min(4.5, max(2.0, size/50000 + U(1.8, 3.2))) for a readable
// file and U(2.0, 4.0) otherwise.
func (s *Simple) Score(ctx context.Context, wavPath, lang string) (float64, error) {
	info, err := os.Stat(wavPath)
	if err != nil {
		return s.uniform(2.0, 4.0), nil
	}
	score := float64(info.Size())/50000 + s.uniform(1.8, 3.2)
	return math.Min(4.5, math.Max(2.0, score)), nil
}

func (s *Simple) uniform(lo, hi float64) float64 {
	return lo + (hi-lo)*s.rand()
}
