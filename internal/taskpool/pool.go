package taskpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Pool defaults.
const (
	// defaultQueueSize is the immediate queue depth when Config.QueueSize is zero.
	defaultQueueSize = 64
)

// State is the lifecycle state of a Job.
type State int

// Job states.
const (
	StateReady State = iota
	StateScheduled
	StateDeferred
	StateExecuting
	StateCompleted
	StateCanceled
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateScheduled:
		return "scheduled"
	case StateDeferred:
		return "deferred"
	case StateExecuting:
		return "executing"
	case StateCompleted:
		return "completed"
	case StateCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Routine is the function a Job runs. It receives its own Job so it can
// reschedule itself.
type Routine func(job *Job)

// Job is a unit of work that can be scheduled on a Pool any number of times.
type Job struct {
	routine Routine

	// Guarded by Pool.mu.
	state State
	gen   uint64
	timer *time.Timer
}

// Config contains pool sizing options.
type Config struct {
	// MaxWorkers bounds the number of routines running at once.
	MaxWorkers int

	// QueueSize is the depth of the immediate queue. Zero uses the default.
	QueueSize int

	// OnPanic is called with the recovered value when a routine panics.
	// The pool keeps running either way.
	OnPanic func(v any)
}

// Pool runs Jobs on a bounded set of goroutines.
//
// Thread Safety:
//   - All methods are safe for concurrent use, including from inside a routine.
//   - Close must not be called from inside a routine.
type Pool struct {
	mu     sync.Mutex
	closed bool

	queue   chan entry
	sem     *semaphore.Weighted
	onPanic func(v any)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// entry is one queued execution. A stale entry (generation mismatch) is skipped.
type entry struct {
	job *Job
	gen uint64
}

// New creates a Pool and starts its dispatcher.
//
// Parameters:
//   - cfg: Pool sizing
//
// Returns:
//   - *Pool: Running pool
//   - error: ErrInvalidConfig if MaxWorkers is not positive
func New(cfg Config) (*Pool, error) {
	if cfg.MaxWorkers <= 0 {
		return nil, fmt.Errorf("%w: max workers must be positive, got %d", ErrInvalidConfig, cfg.MaxWorkers)
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		queue:   make(chan entry, queueSize),
		sem:     semaphore.NewWeighted(int64(cfg.MaxWorkers)),
		onPanic: cfg.OnPanic,
		ctx:     ctx,
		cancel:  cancel,
	}

	p.wg.Add(1)
	go p.dispatch()

	return p, nil
}

// NewJob creates a job in the Ready state. It is not scheduled.
func (p *Pool) NewJob(routine Routine) *Job {
	return &Job{routine: routine}
}

// Schedule queues a job for immediate execution.
//
// A job that is currently executing may schedule itself again.
//
// Returns:
//   - error: ErrClosed, ErrAlreadyScheduled or ErrQueueFull
func (p *Pool) Schedule(job *Job) error {
	p.mu.Lock()
	if err := p.checkSchedulableLocked(job); err != nil {
		p.mu.Unlock()
		return err
	}
	prev := job.state
	job.gen++
	job.state = StateScheduled
	e := entry{job: job, gen: job.gen}
	p.mu.Unlock()

	select {
	case p.queue <- e:
		return nil
	default:
	}

	p.mu.Lock()
	if job.gen == e.gen && job.state == StateScheduled {
		job.state = prev
	}
	p.mu.Unlock()
	return ErrQueueFull
}

// ScheduleDeferred queues a job to run once delay has elapsed.
// A non-positive delay behaves like Schedule.
func (p *Pool) ScheduleDeferred(job *Job, delay time.Duration) error {
	if delay <= 0 {
		return p.Schedule(job)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkSchedulableLocked(job); err != nil {
		return err
	}
	job.gen++
	gen := job.gen
	job.state = StateDeferred
	job.timer = time.AfterFunc(delay, func() {
		p.fire(job, gen)
	})
	return nil
}

// TryCancel cancels a job that has not started running.
//
// Returns:
//   - error: ErrCancelFailed if the job is executing, completed or already canceled
func (p *Pool) TryCancel(job *Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch job.state {
	case StateReady, StateScheduled:
	case StateDeferred:
		if job.timer != nil {
			job.timer.Stop()
		}
	default:
		return fmt.Errorf("%w: job is %s", ErrCancelFailed, job.state)
	}
	job.gen++
	job.timer = nil
	job.state = StateCanceled
	return nil
}

// Status returns the job's current state.
func (p *Pool) Status(job *Job) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return job.state
}

// Close stops accepting work and waits for running routines to return.
// Queued and deferred jobs that have not started are dropped.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

func (p *Pool) checkSchedulableLocked(job *Job) error {
	if p.closed {
		return ErrClosed
	}
	if job.state == StateScheduled || job.state == StateDeferred {
		return ErrAlreadyScheduled
	}
	return nil
}

// fire moves a deferred job onto the immediate queue when its timer expires.
func (p *Pool) fire(job *Job, gen uint64) {
	p.mu.Lock()
	if p.closed || job.gen != gen || job.state != StateDeferred {
		p.mu.Unlock()
		return
	}
	job.state = StateScheduled
	job.timer = nil
	p.mu.Unlock()

	select {
	case p.queue <- entry{job: job, gen: gen}:
	case <-p.ctx.Done():
	}
}

func (p *Pool) dispatch() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case e := <-p.queue:
			if err := p.sem.Acquire(p.ctx, 1); err != nil {
				return
			}
			if !p.begin(e) {
				p.sem.Release(1)
				continue
			}
			p.wg.Add(1)
			go p.run(e)
		}
	}
}

// begin marks a dequeued entry as executing unless it went stale.
func (p *Pool) begin(e entry) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || e.job.gen != e.gen || e.job.state != StateScheduled {
		return false
	}
	e.job.state = StateExecuting
	return true
}

func (p *Pool) run(e entry) {
	job := e.job
	defer p.wg.Done()
	defer p.sem.Release(1)

	func() {
		defer func() {
			if r := recover(); r != nil && p.onPanic != nil {
				p.onPanic(r)
			}
		}()
		job.routine(job)
	}()

	p.mu.Lock()
	if job.gen == e.gen && job.state == StateExecuting {
		job.state = StateCompleted
	}
	p.mu.Unlock()
}
