// Package limiter provides the bounded worker pool that processes
// response events. Submission never blocks the caller: tasks queue FIFO
// and a dispatcher feeds them to an ants goroutine pool capped at the
// configured capacity.
package limiter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
)

// Task is one unit of response-processing work.
type Task func() error

// Handle resolves with the task's error once it has finished.
type Handle struct {
	done chan struct{}
	err  error
}

// Done returns a channel closed when the task has finished.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the task error. Valid only after Done is closed.
func (h *Handle) Err() error { return h.err }

// Wait blocks until the task finishes or ctx is cancelled.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type queued struct {
	task   Task
	handle *Handle
}

// Limiter caps concurrent task execution at N. At most N tasks execute
// at any point; the rest wait in FIFO order. A task panicking or failing
// never stops the limiter; the outcome surfaces on the task's Handle.
type Limiter struct {
	pool *ants.Pool

	mu     sync.Mutex
	queue  []queued
	wake   chan struct{}
	closed bool

	wg      sync.WaitGroup // one count per submitted, unfinished task
	stopped chan struct{}

	running atomic.Int64
	pending atomic.Int64
}

// New creates a Limiter with capacity n. n < 1 is a configuration error.
func New(n int) (*Limiter, error) {
	if n < 1 {
		return nil, fmt.Errorf("limiter capacity must be >= 1, got %d", n)
	}

	pool, err := ants.NewPool(n)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	l := &Limiter{
		pool:    pool,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go l.dispatch()
	return l, nil
}

// Submit enqueues a task and returns immediately. The returned Handle
// resolves with the task result. Submit never blocks, so it is safe to
// call from a browser response hook.
func (l *Limiter) Submit(task Task) *Handle {
	h := &Handle{done: make(chan struct{})}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		h.err = fmt.Errorf("limiter is closed")
		close(h.done)
		return h
	}
	l.wg.Add(1)
	l.pending.Add(1)
	l.queue = append(l.queue, queued{task: task, handle: h})
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return h
}

// dispatch feeds queued tasks to the pool in FIFO order. pool.Submit
// blocks while all workers are busy, which is what enforces the cap.
func (l *Limiter) dispatch() {
	for {
		l.mu.Lock()
		for len(l.queue) == 0 {
			closed := l.closed
			l.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-l.wake:
			case <-l.stopped:
				return
			}
			l.mu.Lock()
		}
		next := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		if err := l.pool.Submit(func() { l.run(next) }); err != nil {
			// Pool released mid-shutdown: resolve the handle instead of
			// losing the task silently.
			next.handle.err = fmt.Errorf("submit to pool: %w", err)
			l.pending.Add(-1)
			l.finish(next.handle)
		}
	}
}

func (l *Limiter) run(q queued) {
	l.pending.Add(-1)
	l.running.Add(1)
	defer l.running.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			q.handle.err = fmt.Errorf("task panicked: %v", r)
		}
		l.finish(q.handle)
	}()
	q.handle.err = q.task()
}

func (l *Limiter) finish(h *Handle) {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
	l.wg.Done()
}

// Drain blocks until every submitted task has finished, or until ctx is
// cancelled. Tasks submitted after Drain starts are still honored.
func (l *Limiter) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports the number of tasks currently executing. Always <= N.
func (l *Limiter) Running() int { return int(l.running.Load()) }

// Pending reports the number of submitted tasks not yet started.
func (l *Limiter) Pending() int { return int(l.pending.Load()) }

// Close stops accepting submissions and releases the pool. Queued tasks
// that have not been dispatched resolve with an error.
func (l *Limiter) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	orphaned := l.queue
	l.queue = nil
	l.mu.Unlock()

	close(l.stopped)
	for _, q := range orphaned {
		q.handle.err = fmt.Errorf("limiter closed before task ran")
		l.pending.Add(-1)
		l.finish(q.handle)
	}
	l.pool.Release()
}
