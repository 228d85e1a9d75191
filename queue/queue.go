// Package queue models the pending and completed job topics shared between
// the producer and the scoring worker, and provides filesystem, Redis and
// SQLite backends for them.
package queue

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"
)

// ErrAlreadyClaimed means the request vanished or another worker took it
// between List and Claim. It is not a fault.
var ErrAlreadyClaimed = errors.New("request already claimed")

// ClaimMode selects how a worker takes ownership of a pending request.
type ClaimMode string

const (
	// ClaimScan reads the request in place. Ownership is implicit and a
	// second worker polling the same store may process it again.
	ClaimScan ClaimMode = "scan"

	// ClaimRename moves the request out of the pending set atomically
	// under a lease token before it is read.
	ClaimRename ClaimMode = "rename"
)

// Claim is a request a worker has taken ownership of.
type Claim struct {
	// Name is the request identity, e.g. "a1.request".
	Name string
	// Token is the lease token; empty in scan mode.
	Token string
	// Payload holds the raw request bytes. Nil when the request could be
	// claimed but not read.
	Payload []byte

	ref string
	// gen is the enqueue generation the claim was read at. Ack leaves a
	// request alone once a producer has enqueued it again.
	gen int64
	// info identifies the file a scan claim read.
	info fs.FileInfo
}

// Queue is the worker's view of the two topics. List returns pending
// request names in discovery order. Claim takes one of them. Publish
// writes the result for a wav file, overwriting any previous one. Ack
// removes the claimed request for good.
//
// Claim may return a non-nil Claim together with an error when the request
// was taken but its payload could not be read; the caller still owns it and
// must Ack it.
type Queue interface {
	List(ctx context.Context) ([]string, error)
	Claim(ctx context.Context, name string) (*Claim, error)
	Publish(ctx context.Context, wavFile string, res Result) error
	Ack(ctx context.Context, c *Claim) error
	Close() error
}

// Producer is the other side of the queue: it submits requests and
// collects results.
type Producer interface {
	// Enqueue submits req under RequestName(req.WavFile) and returns that name.
	Enqueue(ctx context.Context, req Request) (string, error)
	// TakeResult returns and removes the result for wavFile. ok is false
	// while no result exists yet.
	TakeResult(ctx context.Context, wavFile string) (res Result, ok bool, err error)
}

// Store is a backend that serves both sides.
type Store interface {
	Queue
	Producer
}

// Notifier is implemented by backends that can signal new requests. The
// channel carries at most one pending signal and is closed when ctx ends.
type Notifier interface {
	Notify(ctx context.Context) (<-chan struct{}, error)
}

// Reclaimer is implemented by backends that can return claims abandoned
// by a crashed worker to the pending set.
type Reclaimer interface {
	Reclaim(ctx context.Context, olderThan time.Duration) (int, error)
}

// Backend names a Store implementation.
type Backend string

const (
	BackendFS     Backend = "fs"
	BackendRedis  Backend = "redis"
	BackendSQLite Backend = "sqlite"
)

// Options selects and configures a backend.
type Options struct {
	Backend     Backend
	Claim       ClaimMode
	InputDir    string
	OutputDir   string
	RedisURL    string
	RedisPrefix string
	SQLitePath  string
}

// Open creates the Store described by opts.
func Open(opts Options) (Store, error) {
	mode := opts.Claim
	if mode == "" {
		mode = ClaimScan
	}
	if mode != ClaimScan && mode != ClaimRename {
		return nil, fmt.Errorf("unknown claim mode %q", mode)
	}

	switch opts.Backend {
	case BackendFS, "":
		return NewFSQueue(opts.InputDir, opts.OutputDir, mode)
	case BackendRedis:
		return NewRedisQueue(opts.RedisURL, opts.RedisPrefix, mode)
	case BackendSQLite:
		return NewSQLiteQueue(opts.SQLitePath, mode)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", opts.Backend)
	}
}

// signal performs a non-blocking send so a burst of events collapses into
// one wake-up.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
