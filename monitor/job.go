package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bosley/scorequeue/logx"
	"github.com/bosley/scorequeue/queue"
)

// ErrMissingArtifact means a valid request names audio that is not there.
var ErrMissingArtifact = errors.New("audio file not found")

// Job is a validated request ready for scoring.
type Job struct {
	Request   queue.Request
	AudioPath string
	Lang      string
}

// Validate parses a request payload and resolves its audio file. It
// returns an error wrapping queue.ErrMalformed or ErrMissingArtifact.
func (m *Monitor) Validate(payload []byte) (Job, error) {
	req, err := queue.ParseRequest(payload)
	if err != nil {
		return Job{}, err
	}

	path, err := filepath.Abs(filepath.Join(m.config.AudioDir, req.WavFile))
	if err != nil {
		return Job{}, fmt.Errorf("%w: %s: %v", ErrMissingArtifact, req.WavFile, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return Job{Request: req}, fmt.Errorf("%w: %s: %v", ErrMissingArtifact, req.WavFile, err)
	}
	if info.IsDir() {
		return Job{Request: req}, fmt.Errorf("%w: %s is a directory", ErrMissingArtifact, req.WavFile)
	}

	lang := req.Lang
	if lang == "" {
		lang = m.config.DefaultLanguage
	}
	return Job{Request: req, AudioPath: path, Lang: lang}, nil
}

// handle runs one request end to end. Panics are recovered here so the
// rest of the batch still runs.
func (m *Monitor) handle(ctx context.Context, name string) (rep Report) {
	rep = Report{Name: name}
	var claim *queue.Claim

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err := fmt.Errorf("job panic: %v", r)
		logx.Log.Error().Err(err).Str("request", name).Msg("Recovered job")
		rep.Outcome = OutcomeError
		rep.Err = err
		if claim != nil {
			m.dropAfterPanic(ctx, claim)
		}
	}()

	claim, err := m.config.Queue.Claim(ctx, name)
	if errors.Is(err, queue.ErrAlreadyClaimed) {
		logx.Log.Debug().Str("request", name).Msg("Request taken elsewhere")
		rep.Outcome = OutcomeSkipped
		return rep
	}
	if claim == nil {
		logx.Log.Error().Err(err).Str("request", name).Msg("Failed to claim request")
		rep.Outcome = OutcomeError
		rep.fault(FaultStoreIO, err)
		return rep
	}

	logx.Log.Info().Str("request", name).Msg("Processing request")

	var job Job
	if err == nil {
		job, err = m.Validate(claim.Payload)
	} else {
		err = fmt.Errorf("%w: unreadable request: %v", queue.ErrMalformed, err)
	}

	var res *queue.Result
	switch {
	case errors.Is(err, ErrMissingArtifact):
		logx.Log.Info().Str("request", name).Str("wav", job.Request.WavFile).Msg("Audio not found, dropping request")
		rep.WavFile = job.Request.WavFile
		rep.Outcome = OutcomeDropped
		rep.fault(FaultMissingArtifact, err)

	case err != nil:
		wav := queue.RecoverWavFile(claim.Payload)
		logx.Log.Warn().Err(err).Str("request", name).Str("wav", wav).Msg("Malformed request")
		r := queue.NewError(fmt.Sprintf("invalid request: %v", err), time.Now())
		res = &r
		rep.WavFile = wav
		rep.Outcome = OutcomeError
		rep.fault(FaultParse, err)

	default:
		rep.WavFile = job.Request.WavFile
		scored := m.dispatcher.Dispatch(ctx, job.AudioPath, job.Lang)
		r := scored.Result(job.Lang, time.Now())
		res = &r
		rep.Degraded = scored.Degraded
		if scored.Err != nil {
			rep.fault(faultKind(scored.Err), scored.Err)
		}
		if r.Status == queue.StatusSuccess {
			rep.Outcome = OutcomeSuccess
			logx.Log.Info().
				Str("wav", rep.WavFile).
				Float64("score", *r.Score).
				Str("model_type", r.ModelType).
				Dur("elapsed", scored.Elapsed).
				Msg("Scored request")
		} else {
			rep.Outcome = OutcomeError
			logx.Log.Error().
				Err(scored.Err).
				Str("wav", rep.WavFile).
				Dur("elapsed", scored.Elapsed).
				Msg("Scoring failed")
		}
	}

	rep.Result = res
	if err := m.finish(ctx, claim, rep.WavFile, res); err != nil {
		logx.Log.Error().Err(err).Str("request", name).Msg("Failed to settle request")
		rep.fault(FaultStoreIO, err)
	}
	return rep
}

// finish writes res, when there is one, and then removes the request
// whatever the write did.
func (m *Monitor) finish(ctx context.Context, claim *queue.Claim, wav string, res *queue.Result) error {
	var publishErr error
	if res != nil {
		if err := m.config.Queue.Publish(ctx, wav, *res); err != nil {
			publishErr = fmt.Errorf("failed to write result for %s: %w", wav, err)
		}
	}
	var ackErr error
	if err := m.config.Queue.Ack(ctx, claim); err != nil {
		ackErr = fmt.Errorf("failed to remove request %s: %w", claim.Name, err)
	}
	return errors.Join(publishErr, ackErr)
}

// dropAfterPanic removes a request whose handling panicked so it is not
// retried every cycle.
func (m *Monitor) dropAfterPanic(ctx context.Context, claim *queue.Claim) {
	defer func() {
		if r := recover(); r != nil {
			logx.Log.Error().Interface("panic", r).Str("request", claim.Name).Msg("Failed to remove request after panic")
		}
	}()
	if err := m.config.Queue.Ack(ctx, claim); err != nil {
		logx.Log.Error().Err(err).Str("request", claim.Name).Msg("Failed to remove request after panic")
	}
}
