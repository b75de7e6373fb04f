package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errSession = errors.New("session lost")

// instant replaces the backoff sleep and records requested delays.
type instant struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (i *instant) sleep(ctx context.Context, d time.Duration) bool {
	i.mu.Lock()
	i.delays = append(i.delays, d)
	i.mu.Unlock()
	return ctx.Err() == nil
}

func newTestSupervisor(cfg Config) (*Supervisor, *instant) {
	s := New(cfg)
	clock := &instant{}
	s.sleep = clock.sleep
	return s, clock
}

func TestNew_Defaults(t *testing.T) {
	s := New(Config{Name: "test"})

	if s.config.RestartDelay != time.Second {
		t.Errorf("RestartDelay = %v, want 1s", s.config.RestartDelay)
	}
	if s.config.MaxRestartDelay != time.Minute {
		t.Errorf("MaxRestartDelay = %v, want 1m", s.config.MaxRestartDelay)
	}
	if s.config.StableThreshold != 2*time.Minute {
		t.Errorf("StableThreshold = %v, want 2m", s.config.StableThreshold)
	}
	if s.State() != StateIdle {
		t.Errorf("State() = %q, want %q", s.State(), StateIdle)
	}
}

func TestNew_MaxBelowBase(t *testing.T) {
	s := New(Config{RestartDelay: 10 * time.Second, MaxRestartDelay: time.Second})
	if s.config.MaxRestartDelay != 10*time.Second {
		t.Errorf("MaxRestartDelay = %v, want raised to 10s", s.config.MaxRestartDelay)
	}
}

func TestCalculateBackoffDelay(t *testing.T) {
	s := New(Config{
		RestartDelay:    1 * time.Second,
		MaxRestartDelay: 30 * time.Second,
	})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{7, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := s.calculateBackoffDelay(tt.attempt); got != tt.want {
			t.Errorf("calculateBackoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRun_CleanEnd(t *testing.T) {
	s, _ := newTestSupervisor(Config{RestartOnFailure: true})

	calls := 0
	err := s.Run(context.Background(), func(context.Context, func()) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if s.State() != StateStopped {
		t.Errorf("State() = %q, want %q", s.State(), StateStopped)
	}
}

func TestRun_RestartDisabled(t *testing.T) {
	s, _ := newTestSupervisor(Config{})

	calls := 0
	err := s.Run(context.Background(), func(context.Context, func()) error {
		calls++
		return errSession
	})
	if !errors.Is(err, errSession) {
		t.Errorf("Run() error = %v, want errSession", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if s.State() != StateFailed || !errors.Is(s.LastError(), errSession) {
		t.Errorf("State() = %q LastError() = %v", s.State(), s.LastError())
	}
}

func TestRun_RestartsWithBackoff(t *testing.T) {
	s, clock := newTestSupervisor(Config{
		RestartOnFailure: true,
		RestartDelay:     time.Second,
		MaxRestartDelay:  3 * time.Second,
	})

	var restarts []int
	s.config.OnRestart = func(attempt int, err error) {
		if !errors.Is(err, errSession) {
			t.Errorf("OnRestart err = %v", err)
		}
		restarts = append(restarts, attempt)
	}

	calls := 0
	err := s.Run(context.Background(), func(context.Context, func()) error {
		calls++
		if calls < 4 {
			return errSession
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}
	if len(clock.delays) != len(want) {
		t.Fatalf("delays = %v, want %v", clock.delays, want)
	}
	for i := range want {
		if clock.delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, clock.delays[i], want[i])
		}
	}
	if len(restarts) != 3 || restarts[2] != 3 {
		t.Errorf("OnRestart attempts = %v, want [1 2 3]", restarts)
	}
	if s.RestartCount() != 3 {
		t.Errorf("RestartCount() = %d, want 3", s.RestartCount())
	}
	if st := s.Stats(); st.Sessions != 4 || st.LastError != errSession.Error() {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestRun_ReadyResetsBackoff(t *testing.T) {
	s, clock := newTestSupervisor(Config{
		RestartOnFailure: true,
		RestartDelay:     time.Second,
		MaxRestartDelay:  time.Minute,
	})

	calls := 0
	err := s.Run(context.Background(), func(_ context.Context, ready func()) error {
		calls++
		switch calls {
		case 1, 2:
			return errSession
		case 3:
			ready()
			return errSession
		default:
			return nil
		}
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []time.Duration{time.Second, 2 * time.Second, time.Second}
	if len(clock.delays) != len(want) {
		t.Fatalf("delays = %v, want %v", clock.delays, want)
	}
	for i := range want {
		if clock.delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, clock.delays[i], want[i])
		}
	}
}

func TestRun_StableThresholdResetsBackoff(t *testing.T) {
	s, clock := newTestSupervisor(Config{
		RestartOnFailure: true,
		RestartDelay:     time.Second,
		StableThreshold:  time.Minute,
	})

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := base
	s.now = func() time.Time { return current }

	calls := 0
	err := s.Run(context.Background(), func(context.Context, func()) error {
		calls++
		switch calls {
		case 1:
			return errSession
		case 2:
			current = current.Add(2 * time.Minute)
			return errSession
		default:
			return nil
		}
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(clock.delays) != 2 || clock.delays[0] != time.Second || clock.delays[1] != time.Second {
		t.Errorf("delays = %v, want [1s 1s]", clock.delays)
	}
}

func TestRun_MaxRestartAttempts(t *testing.T) {
	s, _ := newTestSupervisor(Config{
		RestartOnFailure:   true,
		MaxRestartAttempts: 2,
	})

	calls := 0
	err := s.Run(context.Background(), func(context.Context, func()) error {
		calls++
		return errSession
	})
	if !errors.Is(err, ErrMaxRestarts) || !errors.Is(err, errSession) {
		t.Errorf("Run() error = %v, want ErrMaxRestarts wrapping errSession", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (first run plus 2 restarts)", calls)
	}
}

func TestRun_PermanentError(t *testing.T) {
	s, clock := newTestSupervisor(Config{RestartOnFailure: true})

	calls := 0
	err := s.Run(context.Background(), func(context.Context, func()) error {
		calls++
		return Permanent(errSession)
	})
	if !errors.Is(err, errSession) || IsRecoverable(err) {
		t.Errorf("Run() error = %v, want permanent errSession", err)
	}
	if calls != 1 || len(clock.delays) != 0 {
		t.Errorf("calls = %d delays = %v, want one call and no backoff", calls, clock.delays)
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	s := New(Config{RestartOnFailure: true, RestartDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, func()) error {
			return errSession
		})
	}()

	deadline := time.Now().Add(5 * time.Second)
	for s.State() != StateBackoff {
		if time.Now().After(deadline) {
			t.Fatal("supervisor never entered backoff")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil on cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if s.State() != StateStopped {
		t.Errorf("State() = %q, want %q", s.State(), StateStopped)
	}
}

func TestRun_ErrorAfterCancelIsClean(t *testing.T) {
	s, _ := newTestSupervisor(Config{RestartOnFailure: true})
	ctx, cancel := context.WithCancel(context.Background())

	err := s.Run(ctx, func(context.Context, func()) error {
		cancel()
		return errSession
	})
	if err != nil {
		t.Errorf("Run() error = %v, want nil", err)
	}
}

func TestRun_AlreadyRunning(t *testing.T) {
	s, _ := newTestSupervisor(Config{})
	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = s.Run(context.Background(), func(context.Context, func()) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	defer close(release)

	if err := s.Run(context.Background(), func(context.Context, func()) error { return nil }); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestUptime(t *testing.T) {
	s, _ := newTestSupervisor(Config{})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := base
	s.now = func() time.Time { return current }

	if s.Uptime() != 0 {
		t.Errorf("Uptime() before Run = %v, want 0", s.Uptime())
	}

	_ = s.Run(context.Background(), func(_ context.Context, ready func()) error {
		ready()
		current = current.Add(5 * time.Second)
		if got := s.Uptime(); got != 5*time.Second {
			t.Errorf("Uptime() = %v, want 5s", got)
		}
		if st := s.Stats(); st.State != StateRunning || st.Uptime != 5*time.Second {
			t.Errorf("Stats() = %+v", st)
		}
		return nil
	})
}

func TestIsRecoverable(t *testing.T) {
	t.Run("nil error is recoverable", func(t *testing.T) {
		if !IsRecoverable(nil) {
			t.Error("IsRecoverable(nil) = false, want true")
		}
	})

	t.Run("plain error is recoverable", func(t *testing.T) {
		if !IsRecoverable(context.DeadlineExceeded) {
			t.Error("plain error should be recoverable by default")
		}
	})

	t.Run("wrapped permanent error", func(t *testing.T) {
		err := errors.Join(errors.New("context"), Permanent(errSession))
		if IsRecoverable(err) {
			t.Error("error wrapping Permanent should not be recoverable")
		}
	})

	t.Run("Permanent(nil)", func(t *testing.T) {
		if Permanent(nil) != nil {
			t.Error("Permanent(nil) should be nil")
		}
	})
}
