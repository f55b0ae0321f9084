// Copyright 2025 Joseph Cumines

package engine

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LogHandler mirrors engine log lines to an embedder-supplied callback.
// details is always nil: the zerolog hook that feeds the callback sees only
// the level and message, not the structured fields of the log line.
type LogHandler func(level, message string, details map[string]any)

// Config carries the tracker's tunables. The zero value is usable: package
// defaults fill every unset field.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type Config struct {
	// Headless disables the screen-capture discovery pass and all preview
	// capture, regardless of permission state.
	Headless bool
	// PreviewCacheDuration is how long a captured preview counts as fresh.
	PreviewCacheDuration time.Duration
	// PreviewCacheCapacity bounds how many previews are held at once.
	PreviewCacheCapacity int
	// DebounceInterval is the quiet period before a coalesced refresh runs.
	DebounceInterval time.Duration
	// IgnoredPIDs are excluded from tracking entirely.
	IgnoredPIDs []int32
	// Debug raises the log level to debug.
	Debug bool
	// Logger overrides the default stderr logger when non-nil.
	Logger *zerolog.Logger
	// LogHandler, when non-nil, receives a copy of every log line.
	LogHandler LogHandler
}

// logger materializes the configured zerolog logger.
func (c Config) logger() zerolog.Logger {
	var log zerolog.Logger
	if c.Logger != nil {
		log = *c.Logger
	} else {
		log = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level := zerolog.InfoLevel
	if c.Debug {
		level = zerolog.DebugLevel
	}
	log = log.Level(level)
	if c.LogHandler != nil {
		log = log.Hook(handlerHook{fn: c.LogHandler})
	}
	return log.With().Str("component", "tracker").Logger()
}

// handlerHook adapts a LogHandler onto zerolog's hook interface.
type handlerHook struct {
	fn LogHandler
}

func (h handlerHook) Run(_ *zerolog.Event, level zerolog.Level, message string) {
	h.fn(level.String(), message, nil)
}
