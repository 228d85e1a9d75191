package queue

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFS(t *testing.T, mode ClaimMode) *FSQueue {
	t.Helper()
	dir := t.TempDir()
	q, err := NewFSQueue(filepath.Join(dir, "input"), filepath.Join(dir, "output"), mode)
	require.NoError(t, err)
	return q
}

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestFSListFilters(t *testing.T) {
	q := newFS(t, ClaimScan)
	write(t, q.InputDir(), "b.request", `{}`)
	write(t, q.InputDir(), "a.request", `{}`)
	write(t, q.InputDir(), "a.wav", "RIFF")
	write(t, q.InputDir(), ".c.request.tmp-123", `{}`)
	write(t, q.InputDir(), "d.request.claimed-abc", `{}`)
	require.NoError(t, os.Mkdir(filepath.Join(q.InputDir(), "e.request"), 0o755))

	names, err := q.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.request", "b.request"}, names)
}

func TestFSListMissingDir(t *testing.T) {
	q := newFS(t, ClaimScan)
	require.NoError(t, os.RemoveAll(q.InputDir()))

	_, err := q.List(context.Background())
	assert.Error(t, err)
}

func TestFSClaimRenameMovesFile(t *testing.T) {
	q := newFS(t, ClaimRename)
	write(t, q.InputDir(), "a.request", `{"wav_file":"a.wav"}`)

	c, err := q.Claim(context.Background(), "a.request")
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(q.InputDir(), "a.request"))
	assert.FileExists(t, filepath.Join(q.InputDir(), "a.request.claimed-"+c.Token))

	require.NoError(t, q.Ack(context.Background(), c))
	entries, err := os.ReadDir(q.InputDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFSUnreadableClaimStillOwned(t *testing.T) {
	q := newFS(t, ClaimScan)
	// A directory with the right suffix cannot be read as a file.
	require.NoError(t, os.Mkdir(filepath.Join(q.InputDir(), "x.request"), 0o755))

	c, err := q.Claim(context.Background(), "x.request")
	require.Error(t, err)
	require.NotNil(t, c)
	assert.Nil(t, c.Payload)
}

func TestFSPublishLeavesNoTempFiles(t *testing.T) {
	q := newFS(t, ClaimScan)
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, "a1.wav", NewError("boom", nowForTest())))
	require.NoError(t, q.Publish(ctx, "a1.wav", NewError("boom again", nowForTest())))

	entries, err := os.ReadDir(q.OutputDir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a1.wav.result", entries[0].Name())
}

func TestFSPublishFailsWithoutOutputDir(t *testing.T) {
	q := newFS(t, ClaimScan)
	require.NoError(t, os.RemoveAll(q.OutputDir()))

	err := q.Publish(context.Background(), "a1.wav", NewError("boom", nowForTest()))
	assert.Error(t, err)
}

func TestFSAckMissingIsNotAnError(t *testing.T) {
	q := newFS(t, ClaimScan)
	assert.NoError(t, q.Ack(context.Background(), &Claim{Name: "a.request", ref: filepath.Join(q.InputDir(), "a.request")}))
	assert.NoError(t, q.Ack(context.Background(), nil))
}

func TestFSNotifyWaitsForWritesToSettle(t *testing.T) {
	q := newFS(t, ClaimScan)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := q.Notify(ctx)
	require.NoError(t, err)

	f, err := os.Create(filepath.Join(q.InputDir(), "a1.request"))
	require.NoError(t, err)
	time.Sleep(NotifyQuiet / 5)

	select {
	case <-ch:
		t.Fatal("signalled before the request was written")
	default:
	}

	_, err = f.WriteString(`{"wav_file":"a1.wav","lang":"en"}`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("no notification after the request was written")
	}

	data, err := os.ReadFile(filepath.Join(q.InputDir(), "a1.request"))
	require.NoError(t, err)
	_, err = ParseRequest(data)
	require.NoError(t, err)
}
