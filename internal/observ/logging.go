// Package observ is the ambient logging and metrics facade used by every
// other package: a small set of package-level functions backed by real
// ecosystem libraries (zap, Prometheus) rather than process-wide objects
// threaded through every constructor.
package observ

import (
	"sync"

	"go.uber.org/zap"
)

var (
	logMu  sync.RWMutex
	logger *zap.Logger
)

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	logger = l
}

// SetLogger overrides the package logger, for example with a no-op or
// observed logger.
func SetLogger(l *zap.Logger) {
	logMu.Lock()
	defer logMu.Unlock()
	logger = l
}

func current() *zap.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return logger
}

// Log emits a structured event with the given fields.
func Log(event string, fields ...zap.Field) {
	current().Info(event, fields...)
}

// LogError emits a structured error event.
func LogError(event string, err error, fields ...zap.Field) {
	current().Error(event, append(fields, zap.Error(err))...)
}

// Sync flushes any buffered log entries; call on shutdown.
func Sync() {
	_ = current().Sync()
}
