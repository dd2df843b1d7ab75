// Package logging builds the zerolog loggers handed to every stage and worker.
// There is no package-level logger: callers pass a zerolog.Logger explicitly.
package logging

import (
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options configures a logger.
type Options struct {
	Level string
	// Console renders human-readable lines instead of JSON.
	Console bool
	// Color enables ANSI colors in console mode.
	Color bool
}

// ParseLevel maps debug|info|warn|error to a zerolog level. Unknown values
// fall back to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error", "err":
		return zerolog.ErrorLevel
	case "off", "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// New returns a logger writing to w (stderr when nil).
func New(w io.Writer, opts Options) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	out := w
	if opts.Console {
		out = zerolog.ConsoleWriter{Out: w, NoColor: !opts.Color, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(ParseLevel(opts.Level)).With().Timestamp().Logger()
}

// Nop returns a disabled logger for tests and callers without output.
func Nop() zerolog.Logger { return zerolog.Nop() }

// MemorySample logs the process's current memory utilization.
func MemorySample(l zerolog.Logger, msg string) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	l.Info().
		Uint64("heap_alloc_mb", ms.HeapAlloc>>20).
		Uint64("sys_mb", ms.Sys>>20).
		Uint32("num_gc", ms.NumGC).
		Int("goroutines", runtime.NumGoroutine()).
		Msg(msg)
}
