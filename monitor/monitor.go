// Package monitor runs the scoring worker: a poll loop that drains the
// request queue, scores each request and publishes its result.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bosley/scorequeue/logx"
	"github.com/bosley/scorequeue/metrics"
	"github.com/bosley/scorequeue/queue"
	"github.com/bosley/scorequeue/scoring"
)

const (
	DefaultPollInterval  = time.Second
	DefaultLanguage      = "en"
	DefaultRecentResults = 100
)

// Configuration for the Monitor
type Config struct {
	// Queue is the request and result store.
	Queue queue.Queue

	// Scorer rates audio files. Fallback, when set, replaces its faults
	// with a degraded estimate.
	Scorer   scoring.Scorer
	Fallback *scoring.Fallback

	// AudioDir holds the audio files named by requests.
	AudioDir string

	// DefaultLanguage is used when a request has no lang.
	DefaultLanguage string

	PollInterval time.Duration

	// Watch wakes the loop early when the queue can signal new requests.
	Watch bool

	// ReclaimAfter returns claims older than this to the pending set at
	// startup. Zero disables it.
	ReclaimAfter time.Duration

	// StatusAddr is the status server address. Empty disables it.
	StatusAddr string

	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer

	// RecentResults is the size of the recent results ring.
	RecentResults int
}

// Monitor manages the scoring worker
type Monitor struct {
	config     Config
	dispatcher *Dispatcher
	startedAt  time.Time

	mu     sync.Mutex
	state  State
	stats  Stats
	recent []Event

	hub      *hub
	upgrader websocket.Upgrader
	server   *http.Server

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a new Monitor instance
func New(cfg Config) (*Monitor, error) {
	if cfg.Queue == nil {
		return nil, errors.New("monitor requires a queue")
	}
	if cfg.Scorer == nil {
		return nil, errors.New("monitor requires a scorer")
	}
	if cfg.AudioDir == "" {
		return nil, errors.New("monitor requires an audio directory")
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = DefaultLanguage
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RecentResults <= 0 {
		cfg.RecentResults = DefaultRecentResults
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	m := &Monitor{
		config:     cfg,
		dispatcher: NewDispatcher(cfg.Scorer, cfg.Fallback),
		state:      StateIdle,
		stats: Stats{
			Outcomes: make(map[Outcome]uint64),
			Faults:   make(map[FaultKind]uint64),
		},
		hub: newHub(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	return m, nil
}

// Start loads the scorer, returns stale claims, starts the status server
// and launches the poll loop. It returns once the loop is running.
func (m *Monitor) Start(ctx context.Context) error {
	if m.done != nil {
		return errors.New("monitor already started")
	}

	if l, ok := m.config.Scorer.(scoring.Loader); ok {
		if err := l.Load(ctx); err != nil {
			if m.config.Fallback == nil {
				return fmt.Errorf("failed to load scorer: %w", err)
			}
			logx.Log.Warn().Err(err).Msg("Scorer failed to load, serving fallback estimates")
		}
	}

	if r, ok := m.config.Queue.(queue.Reclaimer); ok && m.config.ReclaimAfter > 0 {
		n, err := r.Reclaim(ctx, m.config.ReclaimAfter)
		if err != nil {
			logx.Log.Error().Err(err).Msg("Failed to reclaim stale claims")
		} else if n > 0 {
			logx.Log.Info().Int("count", n).Msg("Returned stale claims to the queue")
		}
	}

	m.done = make(chan struct{})

	if m.config.StatusAddr != "" {
		m.server = &http.Server{
			Addr:              m.config.StatusAddr,
			Handler:           m.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logx.Log.Error().Err(err).Str("addr", m.config.StatusAddr).Msg("Status server error")
			}
		}()
		logx.Log.Info().Str("addr", m.config.StatusAddr).Msg("Status server listening")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	var wake <-chan struct{}
	if m.config.Watch {
		if n, ok := m.config.Queue.(queue.Notifier); ok {
			ch, err := n.Notify(loopCtx)
			if err != nil {
				logx.Log.Warn().Err(err).Msg("Queue notifications unavailable, polling only")
			} else {
				wake = ch
			}
		}
	}

	m.mu.Lock()
	m.startedAt = time.Now()
	m.mu.Unlock()
	go m.loop(loopCtx, wake)

	logx.Log.Info().
		Str("scorer", m.config.Scorer.Name()).
		Str("audio_dir", m.config.AudioDir).
		Dur("poll_interval", m.config.PollInterval).
		Msg("Monitor started")
	return nil
}

// Stop ends the poll loop after the current job, then stops the status
// server and releases the scorer.
func (m *Monitor) Stop(ctx context.Context) error {
	if m.done == nil {
		return nil
	}
	m.cancel()

	select {
	case <-m.done:
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out")
	}

	var errs []error
	if m.server != nil {
		if err := m.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop status server: %w", err))
		}
	}
	m.hub.closeAll()

	if l, ok := m.config.Scorer.(scoring.Loader); ok {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close scorer: %w", err))
		}
	}

	logx.Log.Info().Msg("Monitor stopped")
	return errors.Join(errs...)
}

// Done is closed when the poll loop has returned.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

func (m *Monitor) loop(ctx context.Context, wake <-chan struct{}) {
	defer close(m.done)

	for {
		m.cycle(ctx)
		if ctx.Err() != nil {
			return
		}

		timer := time.NewTimer(m.config.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		case _, ok := <-wake:
			if !ok {
				wake = nil
			}
			timer.Stop()
		}
	}
}

// cycle runs one scan and drains the batch it found. Nothing a cycle does
// can end the loop.
func (m *Monitor) cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("poll cycle panic: %v", r)
			logx.Log.Error().Err(err).Msg("Recovered poll cycle")
			m.noteError(err)
		}
		m.setState(StateIdle)
	}()

	names, err := m.config.Queue.List(ctx)
	m.mu.Lock()
	m.stats.Cycles++
	m.mu.Unlock()
	metrics.RecordPollCycle(len(names))
	if err != nil {
		if ctx.Err() == nil {
			logx.Log.Error().Err(err).Msg("Failed to list requests")
			m.noteError(err)
		}
		return
	}
	if len(names) == 0 {
		return
	}

	m.setState(StateDraining)
	logx.Log.Debug().Int("count", len(names)).Msg("Draining requests")

	// A job that has started runs to completion even if shutdown begins.
	jobCtx := context.WithoutCancel(ctx)
	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		rep := m.handle(jobCtx, name)
		m.record(rep)
	}
}

func (m *Monitor) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Monitor) noteError(err error) {
	now := time.Now()
	m.mu.Lock()
	m.stats.LastError = err.Error()
	m.stats.LastErrorAt = &now
	m.mu.Unlock()
}

// record folds a report into the stats, the metrics and the result feed.
func (m *Monitor) record(rep Report) {
	metrics.RecordJob(string(rep.Outcome))
	for _, f := range rep.Faults {
		metrics.RecordFault(string(f))
	}
	if rep.Result != nil && rep.Result.ProcessingTime != nil {
		metrics.ObserveProcessing(time.Duration(*rep.Result.ProcessingTime * float64(time.Second)))
	}

	m.mu.Lock()
	m.stats.Jobs++
	m.stats.Outcomes[rep.Outcome]++
	for _, f := range rep.Faults {
		m.stats.Faults[f]++
	}
	m.mu.Unlock()

	if rep.Err != nil && rep.Outcome != OutcomeDropped {
		m.noteError(rep.Err)
	}

	if rep.Result == nil {
		return
	}
	ev := Event{Type: "result", Name: rep.Name, WavFile: rep.WavFile, Result: *rep.Result}
	m.mu.Lock()
	m.recent = append(m.recent, ev)
	if over := len(m.recent) - m.config.RecentResults; over > 0 {
		m.recent = append(m.recent[:0:0], m.recent[over:]...)
	}
	m.mu.Unlock()
	m.hub.broadcast(ev)
}

// Snapshot returns the current loop state and stats.
func (m *Monitor) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:     m.state,
		Strategy:  m.config.Scorer.Name(),
		StartedAt: m.startedAt,
		Stats:     m.stats.clone(),
	}
}

// Recent returns the most recent results, newest last.
func (m *Monitor) Recent() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.recent))
	copy(out, m.recent)
	return out
}
