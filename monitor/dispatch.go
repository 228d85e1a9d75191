package monitor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/bosley/scorequeue/logx"
	"github.com/bosley/scorequeue/queue"
	"github.com/bosley/scorequeue/scoring"
)

// FallbackModelType is reported when a degraded estimate replaced the
// scorer's value.
const FallbackModelType = "fallback"

// Scored is the outcome of one dispatch.
type Scored struct {
	Score     float64
	ModelType string
	Elapsed   time.Duration
	// Degraded is set when Score came from the fallback. Err then holds
	// the fault that caused it.
	Degraded bool
	Err      error
}

// Dispatcher invokes a scorer under a timing wrapper and turns its answer
// into a result.
type Dispatcher struct {
	scorer   scoring.Scorer
	fallback *scoring.Fallback
}

// NewDispatcher wraps s. A non-nil fallback replaces every scorer fault
// with a degraded estimate.
func NewDispatcher(s scoring.Scorer, fallback *scoring.Fallback) *Dispatcher {
	return &Dispatcher{scorer: s, fallback: fallback}
}

// Dispatch scores one file. It never panics.
func (d *Dispatcher) Dispatch(ctx context.Context, wavPath, lang string) Scored {
	start := time.Now()
	score, err := d.invoke(ctx, wavPath, lang)

	out := Scored{ModelType: d.scorer.Name()}
	switch {
	case err == nil:
		out.Score = scoring.Clip(score)
	case d.fallback != nil:
		logx.Log.Warn().Err(err).Str("wav", wavPath).Msg("Scorer fault, using fallback estimate")
		out.Score = scoring.Clip(d.fallback.Estimate())
		out.ModelType = FallbackModelType
		out.Degraded = true
		out.Err = err
	default:
		out.Err = err
	}
	out.Elapsed = time.Since(start)
	return out
}

func (d *Dispatcher) invoke(ctx context.Context, wavPath, lang string) (score float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &scoring.Fault{Kind: scoring.KindScorer, Message: fmt.Sprintf("scorer panic: %v", r)}
		}
	}()
	score, err = d.scorer.Score(ctx, wavPath, lang)
	if err == nil && (math.IsNaN(score) || math.IsInf(score, 0)) {
		err = &scoring.Fault{Kind: scoring.KindScorer, Message: fmt.Sprintf("non-finite score %v", score)}
	}
	return score, err
}

// Result builds the result record for s.
func (s Scored) Result(lang string, at time.Time) queue.Result {
	if s.Err != nil && !s.Degraded {
		return queue.NewError(s.Err.Error(), at).WithProcessingTime(s.Elapsed)
	}
	return queue.NewSuccess(s.Score, lang, s.ModelType, s.Elapsed, at)
}

// faultKind maps a scorer error onto the job taxonomy.
func faultKind(err error) FaultKind {
	return FaultKind(scoring.KindOf(err))
}
