package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/bosley/scorequeue/logx"
)

const claimInfix = ".claimed-"

// FSQueue keeps pending requests as "*.request" files in one directory and
// results as "<wav>.result" files in another.
type FSQueue struct {
	inputDir  string
	outputDir string
	mode      ClaimMode
}

// NewFSQueue creates both directories if needed.
func NewFSQueue(inputDir, outputDir string, mode ClaimMode) (*FSQueue, error) {
	if inputDir == "" || outputDir == "" {
		return nil, fmt.Errorf("input and output directories are required")
	}
	for _, dir := range []string{inputDir, outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create queue directory: %w", err)
		}
	}
	return &FSQueue{inputDir: inputDir, outputDir: outputDir, mode: mode}, nil
}

// InputDir returns the Request Store directory.
func (q *FSQueue) InputDir() string { return q.inputDir }

// OutputDir returns the Result Store directory.
func (q *FSQueue) OutputDir() string { return q.outputDir }

func (q *FSQueue) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(q.inputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list request store: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), RequestSuffix) {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

func (q *FSQueue) Claim(ctx context.Context, name string) (*Claim, error) {
	path := filepath.Join(q.inputDir, name)
	c := &Claim{Name: name, ref: path}

	if q.mode == ClaimRename {
		c.Token = uuid.NewString()
		c.ref = path + claimInfix + c.Token
		if err := os.Rename(path, c.ref); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, ErrAlreadyClaimed
			}
			return nil, fmt.Errorf("failed to claim request: %w", err)
		}
		// Reclaim ages claims by mtime, so stamp the moment of claiming.
		now := time.Now()
		_ = os.Chtimes(c.ref, now, now)
	}

	if q.mode == ClaimScan {
		info, err := os.Stat(c.ref)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrAlreadyClaimed
		}
		c.info = info
	}

	data, err := os.ReadFile(c.ref)
	if err != nil {
		if q.mode == ClaimScan && errors.Is(err, fs.ErrNotExist) {
			return nil, ErrAlreadyClaimed
		}
		return c, fmt.Errorf("failed to read request: %w", err)
	}
	c.Payload = data
	return c, nil
}

func (q *FSQueue) Publish(ctx context.Context, wavFile string, res Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return writeAtomic(q.outputDir, ResultName(wavFile), data)
}

func (q *FSQueue) Ack(ctx context.Context, c *Claim) error {
	if c == nil {
		return nil
	}
	if c.info != nil {
		// Enqueue renames a fresh file into place, so a request written
		// again while this one was processed is a different file.
		current, err := os.Stat(c.ref)
		if err == nil && !os.SameFile(c.info, current) {
			logx.Log.Debug().Str("request", c.Name).Msg("Request was enqueued again, keeping it")
			return nil
		}
	}
	if err := os.Remove(c.ref); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove request: %w", err)
	}
	return nil
}

func (q *FSQueue) Close() error { return nil }

// Enqueue writes the request under a temporary name and renames it into
// place so the worker never lists a partially written file.
func (q *FSQueue) Enqueue(ctx context.Context, req Request) (string, error) {
	if !ValidWavFile(req.WavFile) {
		return "", fmt.Errorf("invalid wav file name %q", req.WavFile)
	}
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}
	name := RequestName(req.WavFile)
	if err := writeAtomic(q.inputDir, name, data); err != nil {
		return "", err
	}
	return name, nil
}

func (q *FSQueue) TakeResult(ctx context.Context, wavFile string) (Result, bool, error) {
	path := filepath.Join(q.outputDir, ResultName(wavFile))
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Result{}, false, nil
		}
		return Result{}, false, fmt.Errorf("failed to read result: %w", err)
	}

	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return Result{}, false, fmt.Errorf("failed to decode result: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logx.Log.Warn().Err(err).Str("path", path).Msg("Failed to remove consumed result")
	}
	return res, true, nil
}

// Reclaim renames claimed requests whose claim is older than olderThan
// back to their pending name.
func (q *FSQueue) Reclaim(ctx context.Context, olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(q.inputDir)
	if err != nil {
		return 0, fmt.Errorf("failed to list request store: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	restored := 0
	for _, entry := range entries {
		name := entry.Name()
		i := strings.LastIndex(name, claimInfix)
		if entry.IsDir() || i < 0 || !strings.HasSuffix(name[:i], RequestSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Rename(filepath.Join(q.inputDir, name), filepath.Join(q.inputDir, name[:i])); err != nil {
			logx.Log.Warn().Err(err).Str("claim", name).Msg("Failed to reclaim stale request")
			continue
		}
		restored++
	}
	return restored, nil
}

// NotifyQuiet is how long the request store must stay free of request
// file events before Notify signals. Producers that create a request and
// then write it in place are done by then.
const NotifyQuiet = 250 * time.Millisecond

// Notify watches the input directory and signals once request file
// activity has been quiet for NotifyQuiet.
func (q *FSQueue) Notify(ctx context.Context) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(q.inputDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch request store: %w", err)
	}

	logx.Log.Info().Str("path", q.inputDir).Msg("Watching request store")

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer watcher.Close()

		quiet := time.NewTimer(NotifyQuiet)
		quiet.Stop()
		defer quiet.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Chmod) {
					continue
				}
				if strings.HasSuffix(event.Name, RequestSuffix) {
					quiet.Reset(NotifyQuiet)
				}

			case <-quiet.C:
				signal(out)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logx.Log.Error().Err(err).Msg("File watcher error")
			}
		}
	}()

	return out, nil
}

func writeAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}
