// Package logger provides the process-wide structured logger, a thin
// zap wrapper grounded on sarvarkurbonov-controlling_furnace's
// internal/logger package.
package logger

import "sync"

// Log levels accepted by Get.
const (
	DebugLevel = "debug"
	InfoLevel  = "info"
	WarnLevel  = "warn"
	ErrorLevel = "error"
)

var (
	global *Logger
	once   sync.Once
)

// Get returns the singleton logger, initializing it with level on first
// call; subsequent calls ignore level and return the existing instance.
func Get(level string) *Logger {
	once.Do(func() {
		global = newZapLogger(level)
	})
	return global
}
