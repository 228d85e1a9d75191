package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/youpy/go-wav"
)

const (
	frameDuration    = 10 * time.Millisecond
	silenceLevel     = 0.01 // frame RMS below this counts as silence
	clipLevel        = 0.99 // |sample| at or above this counts as clipped
	readChunkSamples = 4096
)

// ErrEmptyAudio is returned when a file decodes but holds no samples.
var ErrEmptyAudio = errors.New("audio contains no samples")

// Stats summarizes the signal of a WAV file. Levels are normalized to
// [0, 1] against full scale and computed on the first channel.
type Stats struct {
	SampleRate   uint32
	Channels     uint16
	Samples      int
	Duration     time.Duration
	RMS          float64
	Peak         float64
	ClipRatio    float64
	SilenceRatio float64
}

// Analyze decodes at most maxSamples samples from the WAV file at path.
// maxSamples <= 0 reads the whole file.
func Analyze(path string, maxSamples int) (Stats, error) {
	file, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to open audio: %w", err)
	}
	defer file.Close()

	reader := wav.NewReader(file)
	format, err := reader.Format()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read wav format: %w", err)
	}
	if format.BitsPerSample == 0 || format.SampleRate == 0 || format.NumChannels == 0 {
		return Stats{}, fmt.Errorf("unsupported wav format: %d bits, %d Hz, %d channels",
			format.BitsPerSample, format.SampleRate, format.NumChannels)
	}

	fullScale := math.Pow(2, float64(format.BitsPerSample-1))
	if format.BitsPerSample == 8 {
		// 8-bit PCM is unsigned; IntValue returns 0..255.
		fullScale = 128
	}
	frameLen := int(float64(format.SampleRate) * frameDuration.Seconds())
	if frameLen < 1 {
		frameLen = 1
	}

	st := Stats{SampleRate: format.SampleRate, Channels: format.NumChannels}
	var (
		sumSquares float64
		clipped    int
		frameSum   float64
		frameN     int
		frames     int
		silent     int
	)

	for maxSamples <= 0 || st.Samples < maxSamples {
		samples, err := reader.ReadSamples(readChunkSamples)
		for _, s := range samples {
			if maxSamples > 0 && st.Samples >= maxSamples {
				break
			}
			v := float64(reader.IntValue(s, 0))
			if format.BitsPerSample == 8 {
				v -= 128
			}
			v /= fullScale
			a := math.Abs(v)

			st.Samples++
			sumSquares += v * v
			if a > st.Peak {
				st.Peak = a
			}
			if a >= clipLevel {
				clipped++
			}

			frameSum += v * v
			frameN++
			if frameN == frameLen {
				frames++
				if math.Sqrt(frameSum/float64(frameN)) < silenceLevel {
					silent++
				}
				frameSum, frameN = 0, 0
			}
		}
		if errors.Is(err, io.EOF) || (err == nil && len(samples) == 0) {
			break
		}
		if err != nil {
			return Stats{}, fmt.Errorf("failed to read samples: %w", err)
		}
	}

	if frameN > 0 {
		frames++
		if math.Sqrt(frameSum/float64(frameN)) < silenceLevel {
			silent++
		}
	}

	if st.Samples == 0 {
		return Stats{}, ErrEmptyAudio
	}

	st.RMS = math.Sqrt(sumSquares / float64(st.Samples))
	st.ClipRatio = float64(clipped) / float64(st.Samples)
	st.SilenceRatio = float64(silent) / float64(frames)
	st.Duration = time.Duration(float64(st.Samples) / float64(st.SampleRate) * float64(time.Second))

	return st, nil
}
