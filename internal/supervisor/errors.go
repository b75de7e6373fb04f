package supervisor

import "errors"

var (
	// ErrAlreadyRunning is returned by Run while another Run is active.
	ErrAlreadyRunning = errors.New("supervisor: already running")

	// ErrMaxRestarts wraps the last session error once MaxRestartAttempts
	// consecutive restarts have failed.
	ErrMaxRestarts = errors.New("supervisor: max restart attempts reached")
)
