// Package dispatchq runs queued functions one at a time, in order, on a
// dedicated goroutine. Backends use one queue per session so handlers observe
// events in commit order and never run on the writer's goroutine.
package dispatchq

import "sync"

// Queue is an unbounded FIFO of functions drained by a single goroutine.
type Queue struct {
	mu     sync.Mutex
	items  []func()
	wake   chan struct{}
	done   chan struct{}
	closed bool
}

// New starts a queue. Close must be called to stop its goroutine.
func New() *Queue {
	q := &Queue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

// Push appends fn. It never blocks and is a no-op after Close.
func (q *Queue) Push(fn func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Close drops pending functions and stops the goroutine once the function
// currently running (if any) returns. Close does not wait for it, so it is
// safe to call from inside a queued function.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	close(q.done)
}

// Done is closed once Close has been called.
func (q *Queue) Done() <-chan struct{} { return q.done }

func (q *Queue) run() {
	for {
		select {
		case <-q.done:
			return
		case <-q.wake:
		}
		for {
			q.mu.Lock()
			if q.closed || len(q.items) == 0 {
				q.mu.Unlock()
				break
			}
			fn := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			fn()
		}
	}
}
