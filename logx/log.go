// Package logx holds the logger shared by every scorequeue component.
package logx

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log is the shared logger used throughout the project.
var Log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime}).
	With().Timestamp().Logger()

// Configure sets the global log level and the output format.
// format is "json" for one JSON object per line; anything else selects the
// human-readable console writer. A nil w means stderr.
func Configure(level, format string, w io.Writer) {
	zerolog.SetGlobalLevel(parseLevel(level))

	if w == nil {
		w = os.Stderr
	}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
		Log = zerolog.New(w).With().Timestamp().Logger()
		return
	}
	zerolog.TimeFieldFormat = time.RFC3339
	Log = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime}).
		With().Timestamp().Logger()
}

// parseLevel converts a string to a zerolog level.
// Accepts: all, trace, debug, info, warn, warning, error, none.
// Unknown values default to info.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "all", "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "none", "off", "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
