// Package queue implements the command queue shared between transport
// goroutines (producers) and the debuggee goroutine (the single consumer).
package queue

import (
	"sync"
	"sync/atomic"
)

// Queue is a FIFO of raw command payloads drained in whole batches.
//
// Push never blocks. Drain with wait set suspends until an item arrives, Wake
// is called, or the queue is closed. The wake flag and the closed flag are
// both set under the lock, so a signal raised before the consumer starts
// waiting is never lost.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []string
	woken  bool
	closed bool

	pending atomic.Int64
}

// New returns an open, empty queue.
func New() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends raw to the tail. It reports false, discarding raw, when the
// queue is closed.
func (q *Queue) Push(raw string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, raw)
	q.pending.Add(1)
	q.cond.Signal()
	return true
}

// Drain removes and returns every queued item in insertion order. The bool
// result reports whether the queue is still open.
func (q *Queue) Drain(wait bool) ([]string, bool) {
	if !wait && q.pending.Load() == 0 {
		return nil, !q.Closed()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for wait && len(q.items) == 0 && !q.closed && !q.woken {
		q.cond.Wait()
	}
	q.woken = false

	batch := q.items
	q.items = nil
	q.pending.Store(0)
	return batch, !q.closed
}

// Wake releases a blocked Drain, or the next one, without delivering items.
func (q *Queue) Wake() {
	q.mu.Lock()
	q.woken = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Close discards queued items and releases every waiter. Later pushes are
// dropped until Open is called.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.pending.Store(0)
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Open re-arms a closed queue for a new session and releases WaitOpen.
func (q *Queue) Open() {
	q.mu.Lock()
	q.closed = false
	q.woken = false
	q.cond.Broadcast()
	q.mu.Unlock()
}

// WaitOpen blocks while the queue is closed, until Open or Wake is called.
// It reports whether the queue is open on return.
func (q *Queue) WaitOpen() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.closed && !q.woken {
		q.cond.Wait()
	}
	q.woken = false
	return !q.closed
}

// Closed reports whether the queue currently rejects pushes.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of queued items without taking the lock.
func (q *Queue) Len() int {
	return int(q.pending.Load())
}
