package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Request
		wantErr bool
	}{
		{
			name:    "wav and lang",
			payload: `{"wav_file": "a1.wav", "lang": "en"}`,
			want:    Request{WavFile: "a1.wav", Lang: "en"},
		},
		{
			name:    "lang omitted",
			payload: `{"wav_file": "missing.wav"}`,
			want:    Request{WavFile: "missing.wav"},
		},
		{
			name:    "null lang",
			payload: `{"wav_file": "a.wav", "lang": null}`,
			want:    Request{WavFile: "a.wav"},
		},
		{
			name: "producer metadata",
			payload: `{"wav_file": "rec.wav", "lang": "jp", "label_type1": "pron",
				"label_type2": "articulation", "timestamp": 1718000000000, "target_text": "konnichiwa"}`,
			want: Request{
				WavFile: "rec.wav", Lang: "jp", LabelType1: "pron", LabelType2: "articulation",
				Timestamp: 1718000000000, TargetText: "konnichiwa",
			},
		},
		{
			name:    "bad metadata is ignored",
			payload: `{"wav_file": "a.wav", "timestamp": "yesterday", "label_type1": 7}`,
			want:    Request{WavFile: "a.wav"},
		},
		{name: "not json", payload: `{"wav_file": "a.wav"`, wantErr: true},
		{name: "not an object", payload: `["a.wav"]`, wantErr: true},
		{name: "json null", payload: `null`, wantErr: true},
		{name: "missing wav_file", payload: `{"lang": "en"}`, wantErr: true},
		{name: "empty wav_file", payload: `{"wav_file": ""}`, wantErr: true},
		{name: "numeric wav_file", payload: `{"wav_file": 12}`, wantErr: true},
		{name: "path traversal", payload: `{"wav_file": "../etc/passwd"}`, wantErr: true},
		{name: "nested path", payload: `{"wav_file": "sub/a.wav"}`, wantErr: true},
		{name: "numeric lang", payload: `{"wav_file": "a.wav", "lang": 3}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRequest([]byte(tt.payload))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecoverWavFile(t *testing.T) {
	tests := []struct {
		payload string
		want    string
	}{
		{`{"wav_file": "a.wav", "lang": 3}`, "a.wav"},
		{`{"wav_file": "b.wav", "lang": "en"`, "b.wav"},
		{`garbage "wav_file":"c.wav" more garbage`, "c.wav"},
		{`{"lang": "en"}`, UnknownWavFile},
		{`{"wav_file": 5}`, UnknownWavFile},
		{`{"wav_file": "../../x.wav"}`, UnknownWavFile},
		{``, UnknownWavFile},
		{`not json at all`, UnknownWavFile},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RecoverWavFile([]byte(tt.payload)), "payload %q", tt.payload)
	}
}

func TestNames(t *testing.T) {
	assert.Equal(t, "a1.wav.result", ResultName("a1.wav"))
	assert.Equal(t, "unknown.result", ResultName(UnknownWavFile))
	assert.Equal(t, "a1.request", RequestName("a1.wav"))
	assert.Equal(t, "clip.mp3.request", RequestName("clip.mp3"))
}

func TestResultShapes(t *testing.T) {
	at := time.Unix(1700000000, 500_000_000)

	success, err := json.Marshal(NewSuccess(3.25, "en", "simple", 1500*time.Millisecond, at))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"status": "success",
		"score": 3.25,
		"timestamp": 1700000000.5,
		"language": "en",
		"processing_time": 1.5,
		"model_type": "simple"
	}`, string(success))

	parseErr, err := json.Marshal(NewError("malformed request: wav_file is required", at))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"status": "error",
		"error": "malformed request: wav_file is required",
		"timestamp": 1700000000.5
	}`, string(parseErr))

	timedOut, err := json.Marshal(NewError("timeout", at).WithProcessingTime(60 * time.Second))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"status": "error",
		"error": "timeout",
		"timestamp": 1700000000.5,
		"processing_time": 60
	}`, string(timedOut))
}

func TestZeroScoreIsKept(t *testing.T) {
	data, err := json.Marshal(NewSuccess(0, "en", "", 0, time.Unix(0, 0)))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"score":0`)
}

func nowForTest() time.Time { return time.Unix(1700000000, 0) }
