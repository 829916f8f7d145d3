package call

import (
	"context"
	"sync"
)

// taskQueue runs submitted functions one at a time in submission order on
// its own goroutine. Everything that touches a session's peer connection
// goes through it, so SDP operations never interleave.
type taskQueue struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newTaskQueue() *taskQueue {
	q := &taskQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

// Post enqueues fn. It reports false if the queue is closed.
func (q *taskQueue) Post(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Run enqueues fn and waits for its result. It returns ErrClosed if the
// queue closes before fn reports, and ctx.Err() if ctx ends first; in the
// latter case fn still runs when its turn comes.
func (q *taskQueue) Run(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	if !q.Post(func() { res <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		select {
		case err := <-res:
			return err
		default:
			return ErrClosed
		}
	}
}

// Close discards queued tasks. A task already running is not interrupted.
func (q *taskQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.tasks = nil
	q.mu.Unlock()
	close(q.done)
}

func (q *taskQueue) run() {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return
		}
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			select {
			case <-q.wake:
			case <-q.done:
				return
			}
			continue
		}
		fn := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		fn()
	}
}
