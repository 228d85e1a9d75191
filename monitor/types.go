package monitor

import (
	"time"

	"github.com/bosley/scorequeue/queue"
)

// State is the poll loop state.
type State string

const (
	StateIdle     State = "idle"
	StateDraining State = "draining"
)

// Outcome is what became of one request.
type Outcome string

const (
	// OutcomeSuccess means a success result was written or attempted.
	OutcomeSuccess Outcome = "success"
	// OutcomeError means an error result was written or attempted.
	OutcomeError Outcome = "error"
	// OutcomeDropped means the request was removed without a result.
	OutcomeDropped Outcome = "dropped"
	// OutcomeSkipped means another worker owns the request.
	OutcomeSkipped Outcome = "skipped"
)

// FaultKind classifies a failure seen while handling a job.
type FaultKind string

const (
	FaultParse           FaultKind = "parse"
	FaultMissingArtifact FaultKind = "missing_artifact"
	FaultScorer          FaultKind = "scorer"
	FaultTimeout         FaultKind = "timeout"
	FaultProcess         FaultKind = "process"
	FaultOutputParse     FaultKind = "output_parse"
	FaultStoreIO         FaultKind = "store_io"
)

// Report describes how one request was handled.
type Report struct {
	Name    string
	WavFile string
	Outcome Outcome
	Faults  []FaultKind
	// Degraded is set when a fallback estimate replaced the scorer's value.
	Degraded bool
	Result   *queue.Result
	Err      error
}

func (r *Report) fault(kind FaultKind, err error) {
	r.Faults = append(r.Faults, kind)
	if err != nil && r.Err == nil {
		r.Err = err
	}
}

// Stats aggregates reports since the monitor started.
type Stats struct {
	Cycles      uint64               `json:"cycles"`
	Jobs        uint64               `json:"jobs"`
	Outcomes    map[Outcome]uint64   `json:"outcomes"`
	Faults      map[FaultKind]uint64 `json:"faults"`
	LastError   string               `json:"last_error,omitempty"`
	LastErrorAt *time.Time           `json:"last_error_at,omitempty"`
}

func (s Stats) clone() Stats {
	c := s
	c.Outcomes = make(map[Outcome]uint64, len(s.Outcomes))
	for k, v := range s.Outcomes {
		c.Outcomes[k] = v
	}
	c.Faults = make(map[FaultKind]uint64, len(s.Faults))
	for k, v := range s.Faults {
		c.Faults[k] = v
	}
	if s.LastErrorAt != nil {
		at := *s.LastErrorAt
		c.LastErrorAt = &at
	}
	return c
}

// Status is the snapshot served on /api/status.
type Status struct {
	State     State     `json:"state"`
	Strategy  string    `json:"strategy"`
	StartedAt time.Time `json:"started_at"`
	Stats     Stats     `json:"stats"`
}

// Event is a result notification sent to websocket subscribers and kept
// in the recent results ring.
type Event struct {
	Type    string       `json:"type"`
	Name    string       `json:"name"`
	WavFile string       `json:"wav_file"`
	Result  queue.Result `json:"result"`
}
