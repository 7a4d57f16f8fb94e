package jobprogress

import "errors"

var (
	// ErrJobNotFound is returned when no persisted job exists for an id
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidAmount is returned when a job is created with a negative unit count
	ErrInvalidAmount = errors.New("job amount must not be negative")
)
