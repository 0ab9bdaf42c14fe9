package logger

import "context"

// Fields carries structured key-value pairs attached to a log entry.
type Fields = map[string]interface{}

// Logger is the structured logging interface used across the service.
// The context argument is accepted so implementations can pull request-scoped
// values out of it without the call sites changing.
type Logger interface {
	// Debug logs a debug-level message with optional fields
	Debug(ctx context.Context, msg string, fields Fields)

	// Info logs an info-level message with optional fields
	Info(ctx context.Context, msg string, fields Fields)

	// Warn logs a warning-level message with optional fields
	Warn(ctx context.Context, msg string, fields Fields)

	// Error logs an error-level message with optional fields
	Error(ctx context.Context, msg string, fields Fields)

	// WithField returns a new logger with the given field added to all subsequent log entries
	WithField(key string, value interface{}) Logger

	// WithFields returns a new logger with the given fields added to all subsequent log entries
	WithFields(fields Fields) Logger
}
