package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spf13/viper"

	"github.com/bosley/scorequeue/config"
	"github.com/bosley/scorequeue/queue"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "scorequeue dev")
}

func TestConfigCommand(t *testing.T) {
	out, err := execute(t, "config", "--log-level", "warn")
	require.NoError(t, err)
	assert.Contains(t, out, "log_level: warn")
	assert.Contains(t, out, "poll_interval: 1s")
}

func TestScoreCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a1.wav")
	require.NoError(t, os.WriteFile(path, make([]byte, 100000), 0o644))

	out, err := execute(t, "score", path, "--lang", "en", "--strategy", "simple")
	require.NoError(t, err)

	var res queue.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, queue.StatusSuccess, res.Status)
	require.NotNil(t, res.Score)
	assert.GreaterOrEqual(t, *res.Score, 2.0)
	assert.LessOrEqual(t, *res.Score, 4.5)
	assert.Equal(t, "en", res.Language)
}

func TestLanguageFallsBackToConfig(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)
	v.Set("default_language", "de")
	cfg, err := config.Load(v)
	require.NoError(t, err)

	assert.Equal(t, "de", language("", cfg))
	assert.Equal(t, "fr", language("fr", cfg))
}
