// Package scoring defines the Scorer collaborator and the strategies the
// worker can use to invoke one: a file-size stub, an in-process signal
// model and an external command.
package scoring

import (
	"context"
	"fmt"
	"math"
	"time"
)

const (
	// MinScore and MaxScore bound every score the worker reports.
	MinScore = 0.0
	MaxScore = 5.0
)

// Scorer turns an audio file into a score. Implementations do not limit
// their own running time; callers enforce the budget.
type Scorer interface {
	// Name identifies the strategy in results and logs.
	Name() string
	Score(ctx context.Context, wavPath, lang string) (float64, error)
}

// Loader is implemented by scorers that hold long-lived resources. Load
// runs once before the first Score and Close once at shutdown.
type Loader interface {
	Load(ctx context.Context) error
	Close() error
}

// Clip bounds s to [MinScore, MaxScore].
func Clip(s float64) float64 {
	return math.Max(MinScore, math.Min(MaxScore, s))
}

// Strategy selects how the scorer is invoked.
type Strategy string

const (
	StrategySimple Strategy = "simple"
	StrategyModel  Strategy = "model"
	StrategyExec   Strategy = "exec"
)

// Config configures New.
type Config struct {
	Strategy Strategy

	// FallbackMin and FallbackMax bound the degraded estimate used when the
	// in-process model faults.
	FallbackMin float64
	FallbackMax float64

	// MaxSamples caps how much audio the model reads.
	MaxSamples int

	Exec ExecConfig
}

// New builds the scorer for cfg.Strategy.
func New(cfg Config) (Scorer, error) {
	switch cfg.Strategy {
	case StrategySimple, "":
		return NewSimple(nil), nil
	case StrategyModel:
		return NewModel(cfg.MaxSamples), nil
	case StrategyExec:
		if cfg.Exec.Command == "" {
			return nil, fmt.Errorf("exec strategy requires a command")
		}
		if cfg.Exec.Timeout <= 0 {
			cfg.Exec.Timeout = DefaultTimeout
		}
		return NewExec(cfg.Exec), nil
	default:
		return nil, fmt.Errorf("unknown scorer strategy %q", cfg.Strategy)
	}
}

// Fallback returns the degraded estimator for strategies that use one, or
// nil. Only the in-process model falls back.
func (c Config) Fallback() *Fallback {
	if c.Strategy != StrategyModel {
		return nil
	}
	lo, hi := c.FallbackMin, c.FallbackMax
	if lo == 0 && hi == 0 {
		lo, hi = DefaultFallbackMin, DefaultFallbackMax
	}
	return NewFallback(lo, hi, nil)
}

// DefaultTimeout bounds one external scorer run.
const DefaultTimeout = 60 * time.Second
