package main

import (
	"log"
	"os"
)

// DebugMode gates verbose per-component logging, the direct equivalent
// of the original source's global `bool debug` checked by its
// DEBUG_PRINT macro, and of the teacher's own package-level DebugMode
// flag in main.go. Flipped once at startup by -d/--debug.
var DebugMode bool

// componentLogger is a prefixed *log.Logger, one per worker/subsystem,
// matching the original's "Read: "/"Write: " DEBUG_PRINT prefixes and
// the teacher's plain log.Printf-with-prefix style (see DESIGN.md for
// why no third-party logging library is used here).
type componentLogger struct {
	*log.Logger
}

func newComponentLogger(name string) *componentLogger {
	return &componentLogger{log.New(os.Stderr, name+": ", log.LstdFlags)}
}

// Debugf logs only when DebugMode is enabled.
func (c *componentLogger) Debugf(format string, args ...any) {
	if DebugMode {
		c.Printf(format, args...)
	}
}
