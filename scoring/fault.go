package scoring

import (
	"errors"
	"fmt"
)

// Kind classifies a scorer failure.
type Kind string

const (
	// KindScorer is an internal fault of an in-process scorer.
	KindScorer Kind = "scorer"
	// KindTimeout means an external scorer exceeded its time budget.
	KindTimeout Kind = "timeout"
	// KindProcess means an external scorer could not start or exited non-zero.
	KindProcess Kind = "process"
	// KindOutputParse means an external scorer's output held no usable score.
	KindOutputParse Kind = "output_parse"
)

// Fault is a classified scorer failure with optional process context.
type Fault struct {
	Kind     Kind
	Message  string
	Stderr   string
	ExitCode int
	Err      error
}

// Error formats the fault for logs and error results.
func (f *Fault) Error() string {
	if f == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: %s", f.Kind, f.Message)
	if f.Stderr != "" {
		msg += ": " + f.Stderr
	}
	return msg
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (f *Fault) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.Err
}

// KindOf returns the Kind of the first Fault in err's chain. Errors that
// are not faults count as scorer faults.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindScorer
}
