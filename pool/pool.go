// Package pool runs dispatch work on a fixed set of workers. Submission
// blocks while every worker is busy, which is the backpressure that keeps
// queue reads from outrunning execution. A task that ignores cancellation
// past its grace window is abandoned so the worker can move on.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/evoq/dispatch"
)

// ErrPoolStopped is returned by Submit once shutdown has begun.
var ErrPoolStopped = errors.New("worker pool stopped")

// Task is one unit of work.
type Task struct {
	// Name identifies the task in logs and abandonment reports.
	Name string
	// Timeout bounds the context handed to Run. Zero means no deadline.
	Timeout time.Duration
	// Grace is extra wall time after Timeout before the task is abandoned.
	Grace time.Duration
	// Run does the work.
	Run func(ctx context.Context) (dispatch.Result, error)
}

// Outcome is the terminal state of a task.
type Outcome struct {
	Result dispatch.Result
	Err    error
	// Abandoned is set when Run ignored cancellation past the grace window
	// and the worker moved on without it.
	Abandoned bool
	Elapsed   time.Duration
}

// Future resolves to a task's outcome.
type Future struct {
	done chan Outcome
}

// Wait blocks until the task resolves or ctx is cancelled.
func (f *Future) Wait(ctx context.Context) (Outcome, error) {
	select {
	case out := <-f.done:
		return out, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

type submission struct {
	ctx  context.Context
	task Task
	done chan Outcome
}

// Pool is a fixed-size worker pool.
type Pool struct {
	workers    int
	tasks      chan submission
	wg         sync.WaitGroup
	stopOnce   sync.Once
	stopSignal chan struct{}
	logger     *slog.Logger

	busy      atomic.Int64
	abandoned atomic.Int64
}

// New starts a pool with the given worker count.
func New(workers int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		workers:    workers,
		tasks:      make(chan submission), // unbuffered: Submit blocks until a worker is free
		stopSignal: make(chan struct{}),
		logger:     logger,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

// Workers reports the pool size.
func (p *Pool) Workers() int {
	return p.workers
}

// Busy reports how many workers are currently executing.
func (p *Pool) Busy() int64 {
	return p.busy.Load()
}

// Abandoned reports how many tasks outlived their grace window.
func (p *Pool) Abandoned() int64 {
	return p.abandoned.Load()
}

// Submit hands a task to the pool, blocking while all workers are busy.
// It fails once shutdown has begun or when ctx is cancelled while waiting,
// and in both cases the task was never accepted.
func (p *Pool) Submit(ctx context.Context, task Task) (*Future, error) {
	sub := submission{
		ctx:  ctx,
		task: task,
		done: make(chan Outcome, 1),
	}

	select {
	case <-p.stopSignal:
		return nil, ErrPoolStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	case p.tasks <- sub:
		return &Future{done: sub.done}, nil
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case sub := <-p.tasks:
			p.execute(sub)
		case <-p.stopSignal:
			// Drain submissions that won the race against shutdown.
			for {
				select {
				case sub := <-p.tasks:
					p.execute(sub)
				default:
					return
				}
			}
		}
	}
}

// execute runs the task on a child goroutine so an unresponsive handler
// cannot pin the worker. The child keeps running after abandonment but its
// context is cancelled, so a cooperative handler still winds down.
func (p *Pool) execute(sub submission) {
	p.busy.Add(1)
	defer p.busy.Add(-1)

	task := sub.task
	start := time.Now()

	runCtx := sub.ctx
	cancel := context.CancelFunc(func() {})
	if task.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(sub.ctx, task.Timeout)
	}
	defer cancel()

	finished := make(chan Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				finished <- Outcome{
					Err: dispatch.NewPermanentError(fmt.Errorf("handler panic: %v", r)),
				}
			}
		}()
		result, err := task.Run(runCtx)
		finished <- Outcome{Result: result, Err: err}
	}()

	var graceExpired <-chan time.Time
	if task.Timeout > 0 {
		grace := task.Grace
		if grace < 0 {
			grace = 0
		}
		timer := time.NewTimer(task.Timeout + grace)
		defer timer.Stop()
		graceExpired = timer.C
	}

	select {
	case out := <-finished:
		out.Elapsed = time.Since(start)
		sub.done <- out
	case <-graceExpired:
		p.abandoned.Add(1)
		p.logger.Warn("task abandoned after grace window",
			"task", task.Name,
			"timeout", task.Timeout,
			"grace", task.Grace)
		sub.done <- Outcome{
			Err: dispatch.NewTransientError(
				fmt.Errorf("task %s did not return within timeout plus grace", task.Name)),
			Abandoned: true,
			Elapsed:   time.Since(start),
		}
	}
}

// Stop rejects new submissions and waits up to timeout for in-flight and
// already-accepted tasks to finish. It returns an error when workers were
// still busy at the deadline or any task was abandoned, so callers can
// surface an unclean shutdown.
func (p *Pool) Stop(timeout time.Duration) error {
	p.stopOnce.Do(func() {
		close(p.stopSignal)
	})

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(timeout):
		return fmt.Errorf("worker pool shutdown deadline passed with %d tasks still running (%d abandoned)",
			p.busy.Load(), p.abandoned.Load())
	}

	if n := p.abandoned.Load(); n > 0 {
		return fmt.Errorf("worker pool stopped with %d abandoned tasks", n)
	}
	return nil
}
