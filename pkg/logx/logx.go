// Package logx provides domain-tagged structured logging for the engine.
// Each subsystem creates a logger tagged with its domain name; output goes
// through a shared zap core so all log lines carry the same structure.
package logx

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a domain-tagged logger. All engine packages log through one of
// these rather than a bare zap instance so the domain tag is never lost.
type Logger struct {
	domain string
	zl     *zap.SugaredLogger
}

//nolint:gochecknoglobals // Process-wide logging backend, configured once at startup.
var (
	mu   sync.RWMutex
	root *zap.Logger
)

func init() {
	// Default to production config until Configure is called; tests and
	// library consumers get sane output without any setup.
	l, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("logx: default zap config failed: %v", err))
	}
	root = l
}

// Configure replaces the process-wide logging backend. Call once at startup,
// before subsystems start logging.
func Configure(debug bool) error {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.DisableStacktrace = true

	l, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("logx: build zap logger: %w", err)
	}

	mu.Lock()
	root = l
	mu.Unlock()
	return nil
}

// Sync flushes buffered log entries. Call during shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}

// NewLogger creates a logger tagged with the given domain ("graph",
// "workflow", "ticket", ...).
func NewLogger(domain string) *Logger {
	mu.RLock()
	defer mu.RUnlock()
	return &Logger{
		domain: domain,
		zl:     root.Sugar().With("domain", domain),
	}
}

// WithThread returns a logger that additionally tags every line with the
// thread id, for tracing one conversation across subsystems.
func (l *Logger) WithThread(threadID string) *Logger {
	return &Logger{
		domain: l.domain,
		zl:     l.zl.With("thread_id", threadID),
	}
}

// Domain returns the logger's domain tag.
func (l *Logger) Domain() string {
	return l.domain
}

// Debug logs a debug message with printf-style formatting.
func (l *Logger) Debug(format string, args ...any) {
	l.zl.Debugf(format, args...)
}

// Info logs an informational message with printf-style formatting.
func (l *Logger) Info(format string, args ...any) {
	l.zl.Infof(format, args...)
}

// Warn logs a warning message with printf-style formatting.
func (l *Logger) Warn(format string, args ...any) {
	l.zl.Warnf(format, args...)
}

// Error logs an error message with printf-style formatting.
func (l *Logger) Error(format string, args ...any) {
	l.zl.Errorf(format, args...)
}
