package logger

import (
	"context"
	"sync"
)

// LogEntry is one record captured by the test logger.
type LogEntry struct {
	Level   string
	Message string
	Fields  Fields
}

// TestLogger captures log entries in memory so tests can assert on them.
// The zero value is not usable; construct with NewTestLogger. The mutex and
// entry slice are shared across derived loggers, so the root and any
// WithField(s) descendants can log concurrently.
type TestLogger struct {
	mu      *sync.Mutex
	entries *[]LogEntry
	fields  Fields
}

// NewTestLogger creates a new capturing logger.
func NewTestLogger() *TestLogger {
	entries := make([]LogEntry, 0)
	return &TestLogger{mu: &sync.Mutex{}, entries: &entries, fields: Fields{}}
}

// Debug logs a debug-level message.
func (l *TestLogger) Debug(ctx context.Context, msg string, fields Fields) {
	l.record("debug", msg, fields)
}

// Info logs an info-level message.
func (l *TestLogger) Info(ctx context.Context, msg string, fields Fields) {
	l.record("info", msg, fields)
}

// Warn logs a warning-level message.
func (l *TestLogger) Warn(ctx context.Context, msg string, fields Fields) {
	l.record("warn", msg, fields)
}

// Error logs an error-level message.
func (l *TestLogger) Error(ctx context.Context, msg string, fields Fields) {
	l.record("error", msg, fields)
}

// WithField returns a new logger with the given field added. Derived loggers
// share the same entry slice so captures remain visible on the root logger.
func (l *TestLogger) WithField(key string, value interface{}) Logger {
	return l.WithFields(Fields{key: value})
}

// WithFields returns a new logger with the given fields added.
func (l *TestLogger) WithFields(fields Fields) Logger {
	merged := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &TestLogger{mu: l.mu, entries: l.entries, fields: merged}
}

// Entries returns a copy of all captured log entries.
func (l *TestLogger) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LogEntry, len(*l.entries))
	copy(out, *l.entries)
	return out
}

func (l *TestLogger) record(level, msg string, fields Fields) {
	l.mu.Lock()
	defer l.mu.Unlock()

	merged := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	*l.entries = append(*l.entries, LogEntry{Level: level, Message: msg, Fields: merged})
}
