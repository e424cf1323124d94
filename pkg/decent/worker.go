package decent

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	jobQueueSize   = 16
	eventQueueSize = 256
)

var errWorkerStopped = errors.New("worker stopped")

type job struct {
	ctx    context.Context
	fn     func(ctx context.Context) error
	result chan error
}

// worker owns the execution context of a scale session. Jobs (connection
// handling, command sequences, heartbeats) run strictly one after another in
// FIFO order. Events (frame dispatch) are queued without ever blocking their
// source and run between jobs or while a job is suspended in sleep()
type worker struct {
	jobs   chan job
	events chan func()

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newWorker() *worker {
	w := &worker{
		jobs:   make(chan job, jobQueueSize),
		events: make(chan func(), eventQueueSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go w.run()

	return w
}

// do schedules fn and blocks until it has been executed, ctx is done or the
// worker is stopped. fn receives ctx and must check it if scheduling may have
// been abandoned by the caller
func (w *worker) do(ctx context.Context, fn func(ctx context.Context) error) error {
	j := job{ctx: ctx, fn: fn, result: make(chan error, 1)}

	select {
	case w.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.quit:
		return errWorkerStopped
	}

	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-w.quit:
		return errWorkerStopped
	}
}

// goAsync schedules fn without waiting for its execution
func (w *worker) goAsync(ctx context.Context, fn func(ctx context.Context) error) bool {
	select {
	case w.jobs <- job{ctx: ctx, fn: fn, result: make(chan error, 1)}:
		return true
	case <-w.quit:
		return false
	}
}

// post queues an event, returning false if the event queue is full
func (w *worker) post(fn func()) bool {
	select {
	case w.events <- fn:
		return true
	default:
		return false
	}
}

// sleep suspends the calling job for d, running queued events in the meantime.
// Must only be called from within a job
func (w *worker) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return nil
		case ev := <-w.events:
			ev()
		case <-ctx.Done():
			return ctx.Err()
		case <-w.quit:
			return errWorkerStopped
		}
	}
}

func (w *worker) stop() {
	w.stopOnce.Do(func() {
		close(w.quit)
	})
	<-w.done
}

func (w *worker) run() {
	defer close(w.done)

	for {
		select {
		case <-w.quit:
			return
		case ev := <-w.events:
			ev()
		case j := <-w.jobs:
			j.result <- j.fn(j.ctx)
		}
	}
}
