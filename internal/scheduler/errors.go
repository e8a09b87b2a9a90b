package scheduler

import "errors"

var (
	// ErrJobNotFound is returned when no job is registered under a name
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidInterval is returned when an interval job has a non-positive interval
	ErrInvalidInterval = errors.New("invalid job interval")

	// ErrInvalidSchedule is returned when a cron expression cannot be parsed
	ErrInvalidSchedule = errors.New("invalid cron expression")
)
