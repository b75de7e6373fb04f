// Package taskpool provides the worker pool that runs deferred and immediate
// jobs for the MQTT core.
//
// This package manages:
//   - A bounded set of worker goroutines (golang.org/x/sync/semaphore)
//   - Immediate scheduling through a fixed-depth queue
//   - Deferred scheduling through timers
//   - Best-effort cancellation of jobs that have not started
//
// # Job States
//
//	Ready ──Schedule──▶ Scheduled ──worker──▶ Executing ──▶ Completed
//	  │                    │                      │
//	  └─ScheduleDeferred─▶ Deferred ─timer─▶ Scheduled
//	                       │
//	TryCancel (Ready, Scheduled, Deferred) ──▶ Canceled
//
// A job may reschedule itself from inside its own routine; the pool only
// marks it Completed when the routine returns without doing so.
//
// # Usage
//
//	pool, err := taskpool.New(taskpool.Config{MaxWorkers: 4, QueueSize: 64})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	job := pool.NewJob(func(j *taskpool.Job) {
//	    // work
//	})
//	if err := pool.ScheduleDeferred(job, time.Second); err != nil {
//	    return err
//	}
package taskpool
