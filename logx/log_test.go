package logx_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bosley/scorequeue/logx"
)

func TestConfigureLogLevel(t *testing.T) {
	t.Cleanup(func() { logx.Configure("info", "console", nil) })

	logx.Configure("all", "console", nil)
	assert.Equal(t, zerolog.TraceLevel, zerolog.GlobalLevel())

	logx.Configure("WARNING", "console", nil)
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	logx.Configure("none", "console", nil)
	assert.Equal(t, zerolog.Disabled, zerolog.GlobalLevel())

	logx.Configure("bogus", "console", nil)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestConfigureJSONCarriesTimestamp(t *testing.T) {
	t.Cleanup(func() { logx.Configure("info", "console", nil) })

	var buf bytes.Buffer
	logx.Configure("debug", "json", &buf)
	logx.Log.Info().Str("request", "a1.request").Msg("request found")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "request found", line["message"])
	assert.Equal(t, "a1.request", line["request"])
	assert.Contains(t, line, "time")
}
