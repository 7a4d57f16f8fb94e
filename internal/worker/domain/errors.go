package domain

import "errors"

var (
	// ErrInvalidReport is returned when a report message is malformed
	ErrInvalidReport = errors.New("invalid progress report")

	// ErrUnknownJob is returned when a report targets a job that does not exist
	ErrUnknownJob = errors.New("report for unknown job")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
