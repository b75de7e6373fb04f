package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the lifecycle state of the supervised session.
type State string

// Session states.
const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateBackoff  State = "backoff"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

const (
	defaultRestartDelay    = time.Second
	defaultMaxRestartDelay = time.Minute
	defaultStableThreshold = 2 * time.Minute
)

// Config controls restart behaviour.
type Config struct {
	// Name identifies the session in logs.
	Name string

	// RestartOnFailure enables restarts. When false Run returns the first
	// session error.
	RestartOnFailure bool

	// RestartDelay is the wait before the first restart. It doubles per
	// consecutive failure up to MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// MaxRestartAttempts limits consecutive restarts. 0 means unlimited.
	MaxRestartAttempts int

	// StableThreshold is how long a session must run before the attempt
	// counter resets, for sessions that never call ready.
	StableThreshold time.Duration

	// OnRestart is called before each restart attempt.
	OnRestart func(attempt int, err error)
}

// SessionFunc runs one session until it ends. It calls ready once the
// session is established. Returning nil ends supervision.
type SessionFunc func(ctx context.Context, ready func()) error

// Logger defines the logging interface for the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Supervisor reruns a SessionFunc. Its accessors are safe for concurrent use.
type Supervisor struct {
	config Config
	logger Logger

	mu           sync.RWMutex
	state        State
	running      bool
	restartCount int
	sessions     int
	lastError    error
	startTime    time.Time

	sleep func(ctx context.Context, d time.Duration) bool
	now   func() time.Time
}

// New creates a Supervisor, applying defaults for zero durations.
func New(cfg Config) *Supervisor {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if cfg.MaxRestartDelay <= 0 {
		cfg.MaxRestartDelay = defaultMaxRestartDelay
	}
	if cfg.MaxRestartDelay < cfg.RestartDelay {
		cfg.MaxRestartDelay = cfg.RestartDelay
	}
	if cfg.StableThreshold <= 0 {
		cfg.StableThreshold = defaultStableThreshold
	}

	return &Supervisor{
		config: cfg,
		logger: noopLogger{},
		state:  StateIdle,
		sleep:  sleepContext,
		now:    time.Now,
	}
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// Run calls fn until it returns nil, ctx is cancelled, it fails with a
// non-recoverable error, or the restart limit is hit.
//
// Returns:
//   - error: nil on a clean end or cancellation, the session error when
//     restarts are disabled or the error is non-recoverable, or
//     ErrMaxRestarts wrapping the last failure
func (s *Supervisor) Run(ctx context.Context, fn SessionFunc) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	attempt := 0
	for {
		stable, err := s.runOnce(ctx, fn)
		if stable {
			attempt = 0
		}

		if ctx.Err() != nil {
			s.setState(StateStopped, nil)
			s.logger.Info("session stopped", "name", s.config.Name)
			return nil
		}
		if err == nil {
			s.setState(StateStopped, nil)
			return nil
		}

		s.setState(StateFailed, err)
		s.logger.Warn("session ended", "name", s.config.Name, "error", err)

		if !s.config.RestartOnFailure {
			return err
		}
		if !IsRecoverable(err) {
			s.logger.Error("session failed with non-recoverable error", "name", s.config.Name, "error", err)
			return err
		}

		attempt++
		if s.config.MaxRestartAttempts > 0 && attempt > s.config.MaxRestartAttempts {
			s.logger.Error("max restart attempts reached",
				"name", s.config.Name,
				"attempts", attempt-1,
			)
			return fmt.Errorf("%w after %d attempts: %w", ErrMaxRestarts, attempt-1, err)
		}

		delay := s.calculateBackoffDelay(attempt)
		s.logger.Info("restarting session",
			"name", s.config.Name,
			"attempt", attempt,
			"delay", delay,
		)
		if s.config.OnRestart != nil {
			s.config.OnRestart(attempt, err)
		}

		s.setState(StateBackoff, err)
		if !s.sleep(ctx, delay) {
			s.setState(StateStopped, nil)
			s.logger.Info("context cancelled, not restarting", "name", s.config.Name)
			return nil
		}

		s.mu.Lock()
		s.restartCount++
		s.mu.Unlock()
	}
}

// runOnce runs one session. stable reports whether the attempt counter
// should reset.
func (s *Supervisor) runOnce(ctx context.Context, fn SessionFunc) (stable bool, err error) {
	s.mu.Lock()
	s.state = StateStarting
	s.sessions++
	s.mu.Unlock()

	var readyOnce sync.Once
	readyCalled := false
	ready := func() {
		readyOnce.Do(func() {
			s.mu.Lock()
			s.state = StateRunning
			s.startTime = s.now()
			readyCalled = true
			s.mu.Unlock()
		})
	}

	started := s.now()
	err = fn(ctx, ready)

	s.mu.RLock()
	wasReady := readyCalled
	s.mu.RUnlock()

	stable = wasReady || s.now().Sub(started) >= s.config.StableThreshold
	return stable, err
}

// calculateBackoffDelay returns RestartDelay * 2^(attempt-1), capped at
// MaxRestartDelay.
func (s *Supervisor) calculateBackoffDelay(attempt int) time.Duration {
	delay := s.config.RestartDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.config.MaxRestartDelay {
			return s.config.MaxRestartDelay
		}
	}
	return delay
}

func (s *Supervisor) setState(state State, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	if err != nil {
		s.lastError = err
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// RestartCount returns how many times a session has been restarted.
func (s *Supervisor) RestartCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restartCount
}

// LastError returns the error that ended the most recent failed session.
func (s *Supervisor) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// Uptime returns how long the current session has been established.
// Returns 0 if no session is running.
func (s *Supervisor) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateRunning {
		return 0
	}
	return s.now().Sub(s.startTime)
}

// Stats is a snapshot of the supervisor.
type Stats struct {
	Name         string        `json:"name"`
	State        State         `json:"state"`
	Sessions     int           `json:"sessions"`
	RestartCount int           `json:"restart_count"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats returns current statistics.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Name:         s.config.Name,
		State:        s.state,
		Sessions:     s.sessions,
		RestartCount: s.restartCount,
	}
	if s.state == StateRunning {
		stats.Uptime = s.now().Sub(s.startTime)
	}
	if s.lastError != nil {
		stats.LastError = s.lastError.Error()
	}
	return stats
}

// RecoverableError lets an error decide whether a restart can help.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// IsRecoverable reports whether err may be cured by restarting. Errors are
// recoverable unless they, or an error they wrap, say otherwise.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	var re RecoverableError
	if errors.As(err, &re) {
		return re.IsRecoverable()
	}
	return true
}

type permanentError struct{ err error }

func (e *permanentError) Error() string       { return e.err.Error() }
func (e *permanentError) Unwrap() error       { return e.err }
func (e *permanentError) IsRecoverable() bool { return false }

// Permanent marks err as non-recoverable. Permanent(nil) is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}
