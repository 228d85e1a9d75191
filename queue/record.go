package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// RequestSuffix marks a pending job in the Request Store.
	RequestSuffix = ".request"

	// ResultSuffix is appended to the wav file name to name its result.
	ResultSuffix = ".result"

	// UnknownWavFile keys the error result of a request whose wav_file
	// could not be recovered at all.
	UnknownWavFile = "unknown"
)

// ErrMalformed classifies request payloads that cannot be parsed or that
// lack a usable wav_file. Such requests are never retried.
var ErrMalformed = errors.New("malformed request")

// Status of a processed job.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Request is one pending scoring job as written by the producer.
type Request struct {
	WavFile    string `json:"wav_file"`
	Lang       string `json:"lang,omitempty"`
	LabelType1 string `json:"label_type1,omitempty"`
	LabelType2 string `json:"label_type2,omitempty"`
	TargetText string `json:"target_text,omitempty"`
	// Timestamp is the producer's creation time in unix milliseconds.
	Timestamp int64 `json:"timestamp,omitempty"`
}

// Result is the record the producer reads back. Score is set only on
// success; ProcessingTime is omitted for requests that never reached a
// scorer.
type Result struct {
	Status         Status   `json:"status"`
	Score          *float64 `json:"score,omitempty"`
	Error          string   `json:"error,omitempty"`
	Timestamp      float64  `json:"timestamp"`
	Language       string   `json:"language,omitempty"`
	ProcessingTime *float64 `json:"processing_time,omitempty"`
	ModelType      string   `json:"model_type,omitempty"`
}

// NewSuccess builds a success result created at the given time.
func NewSuccess(score float64, lang, modelType string, elapsed time.Duration, at time.Time) Result {
	secs := elapsed.Seconds()
	return Result{
		Status:         StatusSuccess,
		Score:          &score,
		Timestamp:      UnixSeconds(at),
		Language:       lang,
		ProcessingTime: &secs,
		ModelType:      modelType,
	}
}

// NewError builds an error result created at the given time.
func NewError(msg string, at time.Time) Result {
	return Result{
		Status:    StatusError,
		Error:     msg,
		Timestamp: UnixSeconds(at),
	}
}

// WithProcessingTime returns a copy of r reporting elapsed.
func (r Result) WithProcessingTime(elapsed time.Duration) Result {
	secs := elapsed.Seconds()
	r.ProcessingTime = &secs
	return r
}

// UnixSeconds converts t to fractional unix seconds.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// ResultName derives the result identity from a wav file name.
func ResultName(wavFile string) string {
	return wavFile + ResultSuffix
}

// RequestName derives the request identity a producer uses for a wav file:
// "a1.wav" becomes "a1.request".
func RequestName(wavFile string) string {
	return strings.TrimSuffix(wavFile, ".wav") + RequestSuffix
}

// ValidWavFile reports whether name is a plain file name that cannot
// escape the store it is resolved against.
func ValidWavFile(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.ContainsRune(name, 0)
}

// ParseRequest decodes a request payload. Every failure wraps ErrMalformed.
// Lang is left empty when the producer omitted it.
func ParseRequest(data []byte) (Request, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw == nil {
		return Request{}, fmt.Errorf("%w: request is not an object", ErrMalformed)
	}

	var req Request
	wav, ok := raw["wav_file"]
	if !ok {
		return Request{}, fmt.Errorf("%w: wav_file is required", ErrMalformed)
	}
	if err := json.Unmarshal(wav, &req.WavFile); err != nil {
		return Request{}, fmt.Errorf("%w: wav_file must be a string", ErrMalformed)
	}
	if !ValidWavFile(req.WavFile) {
		return Request{}, fmt.Errorf("%w: invalid wav_file %q", ErrMalformed, req.WavFile)
	}

	if lang, ok := raw["lang"]; ok && string(lang) != "null" {
		if err := json.Unmarshal(lang, &req.Lang); err != nil {
			return Request{}, fmt.Errorf("%w: lang must be a string", ErrMalformed)
		}
	}

	// Producer metadata is informational; a bad value never rejects a job.
	_ = json.Unmarshal(raw["label_type1"], &req.LabelType1)
	_ = json.Unmarshal(raw["label_type2"], &req.LabelType2)
	_ = json.Unmarshal(raw["target_text"], &req.TargetText)
	var ts float64
	if err := json.Unmarshal(raw["timestamp"], &ts); err == nil {
		req.Timestamp = int64(ts)
	}

	return req, nil
}

var wavFilePattern = regexp.MustCompile(`"wav_file"\s*:\s*"([^"\\]+)"`)

// RecoverWavFile extracts a usable wav_file from a payload that failed
// ParseRequest, or returns UnknownWavFile.
func RecoverWavFile(data []byte) string {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err == nil {
		if name, ok := raw["wav_file"].(string); ok && ValidWavFile(name) {
			return name
		}
		return UnknownWavFile
	}

	if m := wavFilePattern.FindSubmatch(data); m != nil && ValidWavFile(string(m[1])) {
		return string(m[1])
	}
	return UnknownWavFile
}
