package backend

import "errors"

var (
	// ErrUnknownFilter is returned when a query names a filter other than state or is_ready
	ErrUnknownFilter = errors.New("unknown query filter")

	// ErrInvalidFilter is returned when a recognized filter carries an unusable value
	ErrInvalidFilter = errors.New("invalid query filter value")

	// ErrStateRequired is returned by detail and progress operations called without a state
	ErrStateRequired = errors.New("state is required")

	// ErrInvalidProgressState is returned when progress is reported against a non-terminal state
	ErrInvalidProgressState = errors.New("progress can only be reported for a ready state")

	// ErrInvalidConfig is returned by New when the configuration cannot be used
	ErrInvalidConfig = errors.New("invalid backend configuration")
)
