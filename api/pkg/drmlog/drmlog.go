// Package drmlog sets up the compositor daemon's zerolog logger and
// hands out per-component child loggers, so every subsystem tags its
// lines consistently without each one re-deriving the setup.
package drmlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the root logger for level (parsed with
// zerolog.ParseLevel; an invalid level falls back to InfoLevel) and
// pretty (human-readable console output instead of structured JSON).
func New(level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var w io.Writer = os.Stderr
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// ForDevice returns a child logger tagged with the render-node path.
func ForDevice(log zerolog.Logger, path string) zerolog.Logger {
	return log.With().Str("device", path).Logger()
}

// ForDisplay returns a child logger tagged with a display index.
func ForDisplay(log zerolog.Logger, displayIdx int) zerolog.Logger {
	return log.With().Int("display", displayIdx).Logger()
}
