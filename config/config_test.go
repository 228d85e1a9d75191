package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/bosley/scorequeue/queue"
	"github.com/bosley/scorequeue/scoring"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)
	return v
}

func TestDefaults(t *testing.T) {
	c, err := Load(newViper())
	require.NoError(t, err)

	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, "en", c.DefaultLanguage)
	assert.Equal(t, time.Second, c.PollInterval)
	assert.Equal(t, "fs", c.Queue.Backend)
	assert.Equal(t, "scan", c.Queue.Claim)
	assert.Equal(t, "/data/project/shared_data/input", c.Queue.InputDir)
	assert.Equal(t, "/data/project/shared_data/output", c.Queue.OutputDir)
	assert.Equal(t, 10*time.Minute, c.Queue.ReclaimAfter)
	assert.Equal(t, "simple", c.Scorer.Strategy)
	assert.Equal(t, 60*time.Second, c.Scorer.Timeout)
	assert.Equal(t, 2.0, c.Scorer.FallbackMin)
	assert.Equal(t, 4.0, c.Scorer.FallbackMax)
	assert.Equal(t, 200000, c.Scorer.Model.MaxSamples)
	assert.Equal(t, "python", c.Scorer.Exec.Command)
	assert.Contains(t, c.Scorer.Exec.Args, "{wav}")
	assert.Equal(t, "/data/project/nia/pron", c.Scorer.Exec.Dir)
	assert.Equal(t, 30*time.Second, c.Submit.Timeout)

	assert.Equal(t, c.Queue.InputDir, c.AudioDirectory())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SCOREQUEUE_QUEUE_BACKEND", "redis")
	t.Setenv("SCOREQUEUE_QUEUE_REDIS_URL", "redis://cache:6380/2")
	t.Setenv("SCOREQUEUE_SCORER_TIMEOUT", "5s")
	t.Setenv("SCOREQUEUE_AUDIO_DIR", "/srv/audio")

	c, err := Load(newViper())
	require.NoError(t, err)
	assert.Equal(t, "redis", c.Queue.Backend)
	assert.Equal(t, 5*time.Second, c.Scorer.Timeout)
	assert.Equal(t, "/srv/audio", c.AudioDirectory())

	opts := c.QueueOptions()
	assert.Equal(t, queue.BackendRedis, opts.Backend)
	assert.Equal(t, "redis://cache:6380/2", opts.RedisURL)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scorequeue.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
poll_interval: 250ms
queue:
  claim: rename
scorer:
  strategy: exec
  timeout: 10s
  exec:
    command: ./score.sh
    args: ["{wav}"]
    wait_delay: 1s
`), 0o644))

	v := newViper()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	c, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, c.PollInterval)
	assert.Equal(t, "rename", c.Queue.Claim)

	sc := c.ScoringConfig()
	assert.Equal(t, scoring.StrategyExec, sc.Strategy)
	assert.Equal(t, "./score.sh", sc.Exec.Command)
	assert.Equal(t, []string{"{wav}"}, sc.Exec.Args)
	assert.Equal(t, 10*time.Second, sc.Exec.Timeout)
	assert.Equal(t, time.Second, sc.Exec.WaitDelay)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		value  any
		errMsg string
	}{
		{name: "backend", key: "queue.backend", value: "kafka", errMsg: "queue.backend"},
		{name: "claim", key: "queue.claim", value: "lock", errMsg: "queue.claim"},
		{name: "strategy", key: "scorer.strategy", value: "oracle", errMsg: "scorer.strategy"},
		{name: "poll interval", key: "poll_interval", value: "0s", errMsg: "poll_interval"},
		{name: "timeout", key: "scorer.timeout", value: "-1s", errMsg: "scorer.timeout"},
		{name: "fallback order", key: "scorer.fallback_min", value: 4.5, errMsg: "fallback_min"},
		{name: "fallback range", key: "scorer.fallback_max", value: 6.0, errMsg: "fallback range"},
		{name: "log format", key: "log_format", value: "xml", errMsg: "log_format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper()
			v.Set(tt.key, tt.value)
			_, err := Load(v)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	v := newViper()
	v.Set("queue.backend", "sqlite")
	v.Set("queue.sqlite_path", "")
	_, err := Load(v)
	require.ErrorContains(t, err, "queue.sqlite_path")

	v = newViper()
	v.Set("scorer.strategy", "exec")
	v.Set("scorer.exec.command", "")
	_, err = Load(v)
	require.ErrorContains(t, err, "scorer.exec.command")
}

func TestDump(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Dump(newViper(), &buf))

	var out map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "1s", out["poll_interval"])

	q, ok := out["queue"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "fs", q["backend"])
	assert.Equal(t, "10m0s", q["reclaim_after"])
}
