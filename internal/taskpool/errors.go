package taskpool

import "errors"

var (
	// ErrClosed is returned when scheduling on a pool that has been closed.
	ErrClosed = errors.New("taskpool: pool closed")

	// ErrQueueFull is returned when the immediate queue cannot accept a job.
	ErrQueueFull = errors.New("taskpool: queue full")

	// ErrAlreadyScheduled is returned when a job is scheduled twice without running.
	ErrAlreadyScheduled = errors.New("taskpool: job already scheduled")

	// ErrCancelFailed is returned when a job is executing or already finished.
	ErrCancelFailed = errors.New("taskpool: job cannot be canceled")

	// ErrInvalidConfig is returned by New for unusable settings.
	ErrInvalidConfig = errors.New("taskpool: invalid configuration")
)
