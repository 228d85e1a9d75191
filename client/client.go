// Package client submits audio to the scoring worker through the queue and
// waits for the score.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bosley/scorequeue/logx"
	"github.com/bosley/scorequeue/queue"
	"github.com/bosley/scorequeue/scoring"
)

const (
	DefaultPollInterval = time.Second
	DefaultTimeout      = 30 * time.Second

	labelType1 = "pron"
	labelType2 = "articulation"
)

var (
	// ErrTimeout means no result appeared before the deadline. The request
	// is left in place; the worker may still answer it.
	ErrTimeout = errors.New("timed out waiting for score")

	// ErrScoringFailed wraps the message of an error result.
	ErrScoringFailed = errors.New("scoring failed")
)

// Options configures a Client.
type Options struct {
	// AudioDir is the directory the worker resolves wav_file against.
	AudioDir     string
	PollInterval time.Duration
	Timeout      time.Duration
}

// Client is the producer side of the queue.
type Client struct {
	producer queue.Producer
	opts     Options
}

// New returns a client submitting through p.
func New(p queue.Producer, opts Options) *Client {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Client{producer: p, opts: opts}
}

// Submission is one scoring request.
type Submission struct {
	// Path is the WAV file to score. It is copied into the audio
	// directory unless it already lives there.
	Path string
	// Name overrides the job name, which defaults to the file name
	// without its extension.
	Name       string
	Lang       string
	TargetText string
}

// Score is a successful answer.
type Score struct {
	Score          float64
	Language       string
	ModelType      string
	ProcessingTime time.Duration
	Result         queue.Result
}

// Submit enqueues sub and blocks until its result arrives, the timeout
// elapses or ctx ends.
func (c *Client) Submit(ctx context.Context, sub Submission) (Score, error) {
	name := sub.Name
	if name == "" {
		base := filepath.Base(sub.Path)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	wav := name + ".wav"
	if !queue.ValidWavFile(wav) {
		return Score{}, fmt.Errorf("invalid job name %q", name)
	}

	if err := c.stageAudio(sub.Path, wav); err != nil {
		return Score{}, err
	}

	req := queue.Request{
		WavFile:    wav,
		Lang:       sub.Lang,
		LabelType1: labelType1,
		LabelType2: labelType2,
		TargetText: strings.TrimSpace(sub.TargetText),
		Timestamp:  time.Now().UnixMilli(),
	}
	reqName, err := c.producer.Enqueue(ctx, req)
	if err != nil {
		return Score{}, fmt.Errorf("failed to enqueue request: %w", err)
	}
	logx.Log.Info().Str("request", reqName).Str("lang", sub.Lang).Msg("Submitted scoring request")

	res, err := c.wait(ctx, wav)
	if err != nil {
		return Score{}, err
	}

	if res.Status == queue.StatusError {
		return Score{}, fmt.Errorf("%w: %s", ErrScoringFailed, res.Error)
	}
	if res.Score == nil {
		return Score{}, fmt.Errorf("%w: result has no score", ErrScoringFailed)
	}

	out := Score{
		Score:     scoring.Clip(*res.Score),
		Language:  res.Language,
		ModelType: res.ModelType,
		Result:    res,
	}
	if res.ProcessingTime != nil {
		out.ProcessingTime = time.Duration(*res.ProcessingTime * float64(time.Second))
	}
	logx.Log.Info().Str("wav", wav).Float64("score", out.Score).Msg("Received score")
	return out, nil
}

func (c *Client) wait(ctx context.Context, wav string) (queue.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		res, ok, err := c.producer.TakeResult(ctx, wav)
		if err != nil && ctx.Err() == nil {
			return queue.Result{}, fmt.Errorf("failed to read result: %w", err)
		}
		if ok {
			return res, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return queue.Result{}, fmt.Errorf("%w after %s", ErrTimeout, c.opts.Timeout)
			}
			return queue.Result{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// stageAudio places the audio under the name the worker will resolve.
func (c *Client) stageAudio(src, wav string) error {
	if c.opts.AudioDir == "" {
		return errors.New("client requires an audio directory")
	}
	dst := filepath.Join(c.opts.AudioDir, wav)

	srcAbs, err := filepath.Abs(src)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", src, err)
	}
	dstAbs, err := filepath.Abs(dst)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", dst, err)
	}
	if srcAbs == dstAbs {
		return nil
	}
	return copyFile(srcAbs, dstAbs)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open audio: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create audio directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to stage audio: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to copy audio: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to copy audio: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to copy audio: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("failed to place audio: %w", err)
	}
	return nil
}
