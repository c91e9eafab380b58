// Package logging is a thin leveled logger used across fae. Components log
// with a "[component]" prefix; the CLI disables output entirely for clean
// interactive sessions.
package logging

import (
	"log"
	"os"
	"sync/atomic"
)

var (
	disabled atomic.Bool
	debug    atomic.Bool
	logger   = log.New(os.Stdout, "", log.LstdFlags)
)

// Disable turns off all logging.
func Disable() {
	disabled.Store(true)
}

// Enable turns logging back on.
func Enable() {
	disabled.Store(false)
}

// SetDebug toggles debug-level output.
func SetDebug(on bool) {
	debug.Store(on)
}

// Infof logs a formatted info message.
func Infof(format string, v ...any) {
	if !disabled.Load() {
		logger.Printf(format, v...)
	}
}

// Warnf logs a formatted warning message.
func Warnf(format string, v ...any) {
	if !disabled.Load() {
		logger.Printf("WARN "+format, v...)
	}
}

// Errorf logs a formatted error message.
func Errorf(format string, v ...any) {
	if !disabled.Load() {
		logger.Printf("ERROR "+format, v...)
	}
}

// Debugf logs a formatted debug message when debug output is enabled.
func Debugf(format string, v ...any) {
	if debug.Load() && !disabled.Load() {
		logger.Printf("DEBUG "+format, v...)
	}
}
