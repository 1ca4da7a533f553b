// Package logger provides the logging interface used across fleetwatch.
// Components log through Logger so they stay decoupled from zap, and
// tests can swap in Noop or BufferLogger.
package logger

import (
	"fmt"
	"strings"
	"sync"
)

// Logger defines the interface for logging operations.
// All methods accept a format string and arguments, similar to fmt.Printf.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	// Named returns a child logger tagged with a component name.
	Named(name string) Logger
}

// noopLogger implements Logger but discards all messages.
type noopLogger struct{}

// Noop returns a logger that discards all messages.
func Noop() Logger {
	return &noopLogger{}
}

func (l *noopLogger) Debug(format string, args ...interface{}) {}
func (l *noopLogger) Info(format string, args ...interface{})  {}
func (l *noopLogger) Warn(format string, args ...interface{})  {}
func (l *noopLogger) Error(format string, args ...interface{}) {}
func (l *noopLogger) Named(name string) Logger                 { return l }

// LogMessage represents a captured log message.
type LogMessage struct {
	Level   string
	Name    string
	Message string
}

// BufferLogger captures log messages for testing. Safe for concurrent use,
// since the scheduler and HTTP handlers log from different goroutines.
type BufferLogger struct {
	name string
	buf  *messageBuffer
}

type messageBuffer struct {
	mu       sync.Mutex
	messages []LogMessage
}

// NewBufferLogger creates a logger that captures messages for inspection.
func NewBufferLogger() *BufferLogger {
	return &BufferLogger{buf: &messageBuffer{}}
}

func (l *BufferLogger) record(level, format string, args ...interface{}) {
	l.buf.mu.Lock()
	defer l.buf.mu.Unlock()
	l.buf.messages = append(l.buf.messages, LogMessage{
		Level:   level,
		Name:    l.name,
		Message: fmt.Sprintf(format, args...),
	})
}

func (l *BufferLogger) Debug(format string, args ...interface{}) { l.record("debug", format, args...) }
func (l *BufferLogger) Info(format string, args ...interface{})  { l.record("info", format, args...) }
func (l *BufferLogger) Warn(format string, args ...interface{})  { l.record("warn", format, args...) }
func (l *BufferLogger) Error(format string, args ...interface{}) { l.record("error", format, args...) }

// Named returns a logger sharing this buffer, tagging messages with name.
func (l *BufferLogger) Named(name string) Logger {
	full := name
	if l.name != "" {
		full = l.name + "." + name
	}
	return &BufferLogger{name: full, buf: l.buf}
}

// Messages returns a copy of everything captured so far.
func (l *BufferLogger) Messages() []LogMessage {
	l.buf.mu.Lock()
	defer l.buf.mu.Unlock()
	out := make([]LogMessage, len(l.buf.messages))
	copy(out, l.buf.messages)
	return out
}

// HasLevel returns true if any message was logged at the given level.
func (l *BufferLogger) HasLevel(level string) bool {
	for _, m := range l.Messages() {
		if m.Level == level {
			return true
		}
	}
	return false
}

// Contains reports whether any message at level contains substr.
func (l *BufferLogger) Contains(level, substr string) bool {
	for _, m := range l.Messages() {
		if m.Level == level && strings.Contains(m.Message, substr) {
			return true
		}
	}
	return false
}

// Clear removes all captured messages.
func (l *BufferLogger) Clear() {
	l.buf.mu.Lock()
	defer l.buf.mu.Unlock()
	l.buf.messages = l.buf.messages[:0]
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = Noop()
)

// Default returns the process-wide logger. Noop until SetDefault is called.
func Default() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault sets the process-wide logger.
func SetDefault(l Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}
