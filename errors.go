package coord

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is wrapped by every *ConfigError.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrResourceExhausted is returned when internal storage (ring slots,
	// token table) cannot be allocated for the requested size.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrWorkerStart is wrapped by every *WorkerStartError.
	ErrWorkerStart = errors.New("worker start failed")

	// ErrClosed is returned by Enqueue once the queue has been closed.
	ErrClosed = errors.New("queue is closed")
)

// ConfigError reports an invalid construction parameter.
// It is detected synchronously, before any worker starts, and is never retried.
type ConfigError struct {
	Param  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Param, e.Value, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// WorkerStartError reports a worker goroutine that could not be started.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type WorkerStartError struct {
	Role  string
	ID    int
	cause error
}

// NewWorkerStartError returns a WorkerStartError for the given worker.
func NewWorkerStartError(role string, id int, cause error) *WorkerStartError {
	return &WorkerStartError{Role: role, ID: id, cause: cause}
}

func (e *WorkerStartError) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("start %s %d: %v", e.Role, e.ID, ErrWorkerStart)
	}
	return fmt.Sprintf("start %s %d: %v: %v", e.Role, e.ID, ErrWorkerStart, e.cause)
}

func (e *WorkerStartError) Unwrap() []error {
	if e.cause == nil {
		return []error{ErrWorkerStart}
	}
	return []error{ErrWorkerStart, e.cause}
}

// ValidatePositive returns a *ConfigError if v <= 0.
func ValidatePositive(param string, v int) error {
	if v <= 0 {
		return &ConfigError{Param: param, Value: v, Reason: "must be > 0"}
	}
	return nil
}

// ValidateNonNegative returns a *ConfigError if v < 0.
func ValidateNonNegative(param string, v int) error {
	if v < 0 {
		return &ConfigError{Param: param, Value: v, Reason: "must be >= 0"}
	}
	return nil
}
