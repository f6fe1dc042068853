package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New returns a zerolog logger writing to stdout. When json is false the
// console writer is used, which suits interactive runs; CI pipelines should
// pass json=true.
func New(level string, json bool) zerolog.Logger {
	return NewWithWriter(level, json, os.Stdout)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(level string, json bool, w io.Writer) zerolog.Logger {
	out := w
	if !json {
		out = zerolog.ConsoleWriter{Out: w}
	}
	return zerolog.New(out).Level(ParseLevel(level)).With().Timestamp().Logger()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
