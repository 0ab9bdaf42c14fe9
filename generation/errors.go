package generation

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidTimeout is returned when a caller supplies a non-positive
	// timeout. It is rejected before any generation attempt.
	ErrInvalidTimeout = errors.New("timeout_ms must be > 0")

	// ErrUnsupportedStyle is returned for any generation style other than
	// pytest_sync.
	ErrUnsupportedStyle = errors.New("only pytest_sync style is supported")
)

// TimeoutError reports that the LLM capability exceeded its allotted time.
// It carries the resolved allowance and annotation count for diagnostics.
type TimeoutError struct {
	Timeout         time.Duration
	Model           string
	AnnotationCount int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf(
		"LLM generation timed out after %dms (model=%s, annotations=%d)",
		e.Timeout.Milliseconds(), e.Model, e.AnnotationCount,
	)
}

// TransportError wraps any non-timeout failure of the LLM capability:
// network errors, malformed upstream responses, missing required output.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("LLM generation failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
