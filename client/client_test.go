package client_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bosley/scorequeue/client"
	"github.com/bosley/scorequeue/monitor"
	"github.com/bosley/scorequeue/queue"
	"github.com/bosley/scorequeue/scoring"
)

type fixedScorer struct {
	score float64
	err   error
}

func (s fixedScorer) Name() string { return "fixed" }

func (s fixedScorer) Score(ctx context.Context, wavPath, lang string) (float64, error) {
	return s.score, s.err
}

type env struct {
	store *queue.FSQueue
	in    string
	out   string
	src   string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	in, out := filepath.Join(root, "input"), filepath.Join(root, "output")
	store, err := queue.NewFSQueue(in, out, queue.ClaimScan)
	require.NoError(t, err)

	src := filepath.Join(root, "upload", "lesson1.wav")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o755))
	require.NoError(t, os.WriteFile(src, make([]byte, 2048), 0o644))
	return &env{store: store, in: in, out: out, src: src}
}

func (e *env) startWorker(t *testing.T, s scoring.Scorer) {
	t.Helper()
	m, err := monitor.New(monitor.Config{
		Queue:        e.store,
		Scorer:       s,
		AudioDir:     e.in,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.Stop(ctx)
	})
}

func (e *env) client() *client.Client {
	return client.New(e.store, client.Options{
		AudioDir:     e.in,
		PollInterval: 10 * time.Millisecond,
		Timeout:      5 * time.Second,
	})
}

func TestSubmitRoundTrip(t *testing.T) {
	e := newEnv(t)
	e.startWorker(t, fixedScorer{score: 3.75})

	got, err := e.client().Submit(context.Background(), client.Submission{Path: e.src, Lang: "de", TargetText: "  guten tag "})
	require.NoError(t, err)
	assert.Equal(t, 3.75, got.Score)
	assert.Equal(t, "de", got.Language)
	assert.Equal(t, "fixed", got.ModelType)

	_, err = os.Stat(filepath.Join(e.in, "lesson1.wav"))
	assert.NoError(t, err, "audio staged in the input directory")
	_, err = os.Stat(filepath.Join(e.in, "lesson1.request"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
	_, err = os.Stat(filepath.Join(e.out, "lesson1.wav.result"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "result removed after reading")
}

func TestSubmitErrorResult(t *testing.T) {
	e := newEnv(t)
	e.startWorker(t, fixedScorer{err: &scoring.Fault{Kind: scoring.KindProcess, Message: "scorer exited with status 1"}})

	_, err := e.client().Submit(context.Background(), client.Submission{Path: e.src, Lang: "en"})
	require.ErrorIs(t, err, client.ErrScoringFailed)
	assert.Contains(t, err.Error(), "status 1")
}

func TestSubmitClampsScore(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.store.Publish(context.Background(), "lesson1.wav",
		queue.NewSuccess(9.5, "en", "exec", time.Second, time.Now())))

	got, err := e.client().Submit(context.Background(), client.Submission{Path: e.src})
	require.NoError(t, err)
	assert.Equal(t, 5.0, got.Score)
	assert.Equal(t, time.Second, got.ProcessingTime)
}

func TestSubmitTimeout(t *testing.T) {
	e := newEnv(t)
	c := client.New(e.store, client.Options{AudioDir: e.in, PollInterval: 5 * time.Millisecond, Timeout: 50 * time.Millisecond})

	_, err := c.Submit(context.Background(), client.Submission{Path: e.src, Name: "slow"})
	require.ErrorIs(t, err, client.ErrTimeout)

	_, err = os.Stat(filepath.Join(e.in, "slow.request"))
	assert.NoError(t, err, "request left for the worker")
}

func TestSubmitCancelled(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.client().Submit(ctx, client.Submission{Path: e.src})
	require.Error(t, err)
}

func TestSubmitRejectsBadNames(t *testing.T) {
	e := newEnv(t)
	_, err := e.client().Submit(context.Background(), client.Submission{Path: e.src, Name: "../escape"})
	require.Error(t, err)

	_, err = e.client().Submit(context.Background(), client.Submission{Path: filepath.Join(t.TempDir(), "absent.wav")})
	require.Error(t, err)
}

func TestSubmitAudioAlreadyStaged(t *testing.T) {
	e := newEnv(t)
	e.startWorker(t, fixedScorer{score: 1})
	staged := filepath.Join(e.in, "inplace.wav")
	require.NoError(t, os.WriteFile(staged, []byte("audio"), 0o644))

	got, err := e.client().Submit(context.Background(), client.Submission{Path: staged})
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Score)
}
