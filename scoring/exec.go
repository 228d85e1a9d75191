package scoring

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/bosley/scorequeue/logx"
)

// DefaultWaitDelay bounds how long Exec waits for output pipes to close
// once the process group has been killed.
const DefaultWaitDelay = 2 * time.Second

const scorePrefix = "score:"

// ExecConfig describes the external scoring command. Args may reference
// {wav} and {lang}; when neither appears the wav path and language are
// appended.
type ExecConfig struct {
	Command   string
	Args      []string
	Dir       string
	Timeout   time.Duration
	WaitDelay time.Duration
}

// Exec runs an external command per job and reads the score from its
// standard output.
type Exec struct {
	cfg ExecConfig
}

// NewExec returns an out-of-process scorer.
func NewExec(cfg ExecConfig) *Exec {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = DefaultWaitDelay
	}
	return &Exec{cfg: cfg}
}

func (e *Exec) Name() string { return string(StrategyExec) }

// Score runs the command for one file. The whole process group is killed
// when the timeout elapses.
func (e *Exec) Score(ctx context.Context, wavPath, lang string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.cfg.Command, e.args(wavPath, lang)...)
	cmd.Dir = e.cfg.Dir
	cmd.WaitDelay = e.cfg.WaitDelay
	configureProcess(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logx.Log.Debug().Str("command", cmd.String()).Str("dir", cmd.Dir).Msg("Running scorer")

	err := cmd.Run()
	if timedOut(ctx, err) {
		return 0, &Fault{
			Kind:    KindTimeout,
			Message: fmt.Sprintf("scorer timed out after %s", e.cfg.Timeout),
			Stderr:  tail(stderr.String()),
			Err:     ctx.Err(),
		}
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return 0, &Fault{
				Kind:     KindProcess,
				Message:  fmt.Sprintf("scorer exited with status %d", exitErr.ExitCode()),
				Stderr:   tail(stderr.String()),
				ExitCode: exitErr.ExitCode(),
				Err:      err,
			}
		}
		return 0, &Fault{Kind: KindProcess, Message: "failed to run scorer", Err: err}
	}

	score, err := ParseScore(stdout.String())
	if err != nil {
		return 0, &Fault{Kind: KindOutputParse, Message: err.Error(), Stderr: tail(stderr.String())}
	}
	return score, nil
}

func (e *Exec) args(wavPath, lang string) []string {
	r := strings.NewReplacer("{wav}", wavPath, "{lang}", lang)
	args := make([]string, 0, len(e.cfg.Args)+2)
	templated := false
	for _, a := range e.cfg.Args {
		if strings.Contains(a, "{wav}") || strings.Contains(a, "{lang}") {
			templated = true
		}
		args = append(args, r.Replace(a))
	}
	if !templated {
		args = append(args, wavPath, lang)
	}
	return args
}

// timedOut reports whether a failed run was cut short by the deadline. A
// run that completed cleanly keeps its output even if the deadline passed
// right after it.
func timedOut(ctx context.Context, err error) bool {
	return err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// ParseScore returns the value on the first output line containing
// "score:".
func ParseScore(output string) (float64, error) {
	for _, line := range strings.Split(output, "\n") {
		idx := strings.Index(line, scorePrefix)
		if idx < 0 {
			continue
		}
		value := strings.TrimSpace(line[idx+len(scorePrefix):])
		if next := strings.Index(value, scorePrefix); next >= 0 {
			value = strings.TrimSpace(value[:next])
		}
		score, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid score %q", value)
		}
		if math.IsNaN(score) || math.IsInf(score, 0) {
			return 0, fmt.Errorf("non-finite score %q", value)
		}
		return score, nil
	}
	return 0, errors.New("no score line in scorer output")
}

// tail keeps the last part of a process's stderr for error results.
func tail(s string) string {
	const max = 2048
	s = strings.TrimSpace(s)
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}
