package internal

import (
	"io"
	"log/slog"
	"strconv"
	"sync/atomic"
)

// Output modes, combinable.
type Mode uint32

const (
	ModeQuiet   Mode = 1 << iota // Only warnings and errors are logged.
	ModeDebug                    // Debug records are logged. Wins over ModeQuiet.
	ModeVerbose                  // Records carry their source location.
)

// Set of enabled Mode bits.
var modes atomic.Uint32

// Level shared by every logger from NewLogger.
var logLevel = new(slog.LevelVar)

// Seeds the modes from linker flags. Unparseable values leave a mode off.
func init() {
	for m, raw := range map[Mode]string{
		ModeQuiet:   rawQuiet,
		ModeDebug:   rawDebug,
		ModeVerbose: rawVerbose,
	} {
		if on, err := strconv.ParseBool(raw); err == nil && on {
			SetMode(m, true)
		}
	}
	logLevel.Set(LogLevel())
}

// Enables or disables m.
func SetMode(m Mode, on bool) {
	for {
		old := modes.Load()
		next := old &^ uint32(m)
		if on {
			next = old | uint32(m)
		}
		if modes.CompareAndSwap(old, next) {
			break
		}
	}
	logLevel.Set(LogLevel())
}

// Reports whether every bit of m is enabled.
func HasMode(m Mode) bool {
	return Mode(modes.Load())&m == m
}

// Returns the level the current modes select.
func LogLevel() slog.Level {
	switch {
	case HasMode(ModeDebug):
		return slog.LevelDebug
	case HasMode(ModeQuiet):
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

// Creates a text logger writing to w.
//
// The level follows [SetMode] for the lifetime of the logger. Source
// locations are added when ModeVerbose is on at creation.
func NewLogger(w io.Writer) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: HasMode(ModeVerbose),
	})
	return slog.New(handler).With("app", Name)
}
