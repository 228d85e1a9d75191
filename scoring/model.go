package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/bosley/scorequeue/audio"
)

// ErrNotLoaded is returned by Model.Score before Load or after Close.
var ErrNotLoaded = errors.New("model not loaded")

// DefaultMaxSamples is how much audio the model reads when unset.
const DefaultMaxSamples = 200000

// profile holds the reference signal characteristics for one language.
type profile struct {
	targetRMS  float64
	minSpeech  float64 // seconds of voiced audio for a full duration term
	maxSilence float64
}

var baseProfiles = map[string]profile{
	"en": {targetRMS: 0.10, minSpeech: 1.0, maxSilence: 0.5},
	"de": {targetRMS: 0.10, minSpeech: 1.0, maxSilence: 0.5},
	"es": {targetRMS: 0.11, minSpeech: 0.9, maxSilence: 0.45},
	"fr": {targetRMS: 0.10, minSpeech: 1.0, maxSilence: 0.5},
	"jp": {targetRMS: 0.09, minSpeech: 0.8, maxSilence: 0.55},
	"ru": {targetRMS: 0.10, minSpeech: 1.0, maxSilence: 0.5},
	"zh": {targetRMS: 0.09, minSpeech: 0.8, maxSilence: 0.55},
}

// Model is the in-process scorer. It rates the signal quality of a WAV
// file from its loudness, clipping, silence and voiced duration. Load must
// be called before Score.
type Model struct {
	maxSamples int

	mu       sync.RWMutex
	profiles map[string]profile
}

// NewModel returns an unloaded model reading at most maxSamples frames
// per file.
func NewModel(maxSamples int) *Model {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	return &Model{maxSamples: maxSamples}
}

func (m *Model) Name() string { return string(StrategyModel) }

// Load prepares the per-language profiles. Calling it again is a no-op.
func (m *Model) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.profiles != nil {
		return nil
	}
	m.profiles = make(map[string]profile, len(baseProfiles))
	for lang, p := range baseProfiles {
		m.profiles[lang] = p
	}
	return nil
}

// Close releases the profiles. Score fails with ErrNotLoaded afterwards.
func (m *Model) Close() error {
	m.mu.Lock()
	m.profiles = nil
	m.mu.Unlock()
	return nil
}

// Score analyzes wavPath and maps its features onto [0, 5]. Unknown
// languages use the English profile.
func (m *Model) Score(ctx context.Context, wavPath, lang string) (float64, error) {
	m.mu.RLock()
	p, ok := m.profiles[lang]
	if !ok && m.profiles != nil {
		p, ok = m.profiles["en"]
	}
	m.mu.RUnlock()
	if !ok {
		return 0, &Fault{Kind: KindScorer, Message: ErrNotLoaded.Error(), Err: ErrNotLoaded}
	}
	if err := ctx.Err(); err != nil {
		return 0, &Fault{Kind: KindScorer, Message: "scoring cancelled", Err: err}
	}

	stats, err := audio.Analyze(wavPath, m.maxSamples)
	if err != nil {
		return 0, &Fault{Kind: KindScorer, Message: fmt.Sprintf("analyze %s", wavPath), Err: err}
	}

	score := rate(stats, p)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, &Fault{Kind: KindScorer, Message: fmt.Sprintf("non-finite score %v", score)}
	}
	return Clip(score), nil
}

func rate(s audio.Stats, p profile) float64 {
	loudness := 0.0
	if s.RMS > 0 {
		loudness = 1 - math.Min(1, math.Abs(math.Log10(s.RMS/p.targetRMS)))
	}
	clipping := 1 - math.Min(1, s.ClipRatio*20)
	voicing := 1 - math.Min(1, s.SilenceRatio/(2*p.maxSilence))
	voiced := s.Duration.Seconds() * (1 - s.SilenceRatio)
	duration := math.Min(1, voiced/p.minSpeech)

	return MaxScore * (0.35*loudness + 0.2*clipping + 0.3*voicing + 0.15*duration)
}
