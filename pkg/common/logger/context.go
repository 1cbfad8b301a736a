package logger

import (
	"context"
	"sync"
)

// LoggerContext is a Logger that accumulates attributes over its lifetime.
// Workers use it to carry the attributes of the item they are handling.
type LoggerContext struct {
	*Logger

	mu    sync.RWMutex
	attrs []any
}

// NewLoggerContext wraps l.
func NewLoggerContext(l *Logger) *LoggerContext {
	return &LoggerContext{Logger: l}
}

// Add appends key/value pairs that are attached to every subsequent record.
func (lc *LoggerContext) Add(args ...any) {
	lc.mu.Lock()
	lc.attrs = append(lc.attrs, args...)
	lc.mu.Unlock()
}

// Reset drops the accumulated attributes.
func (lc *LoggerContext) Reset() {
	lc.mu.Lock()
	lc.attrs = nil
	lc.mu.Unlock()
}

func (lc *LoggerContext) merged(args []any) []any {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	if len(lc.attrs) == 0 {
		return args
	}
	out := make([]any, 0, len(lc.attrs)+len(args))
	out = append(out, lc.attrs...)
	return append(out, args...)
}

// Debug logs at LevelDebug with the accumulated attributes.
func (lc *LoggerContext) Debug(ctx context.Context, msg string, args ...any) {
	lc.write(ctx, LevelDebug, 3, msg, lc.merged(args)...)
}

// Info logs at LevelInfo with the accumulated attributes.
func (lc *LoggerContext) Info(ctx context.Context, msg string, args ...any) {
	lc.write(ctx, LevelInfo, 3, msg, lc.merged(args)...)
}

// Warn logs at LevelWarn with the accumulated attributes.
func (lc *LoggerContext) Warn(ctx context.Context, msg string, args ...any) {
	lc.write(ctx, LevelWarn, 3, msg, lc.merged(args)...)
}

// Error logs at LevelError with the accumulated attributes.
func (lc *LoggerContext) Error(ctx context.Context, msg string, args ...any) {
	lc.write(ctx, LevelError, 3, msg, lc.merged(args)...)
}
