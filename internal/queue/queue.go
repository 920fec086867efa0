// Package queue provides the bounded FIFO used to hand packets between
// the tunnel workers. All operations are internally synchronized.
package queue

import (
	"sync"

	"sslvpn/internal/protocol"
)

// DefaultCapacity bounds a queue when the caller does not choose one.
const DefaultCapacity = 100

// Queue is a bounded FIFO of packets. A blocking Push waits for room, a
// blocking Pop waits for an item; the non-blocking variants return
// immediately. Close wakes every waiter and makes all further operations
// fail, so workers blocked on a queue can be torn down promptly.
type Queue struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond
	items    []*protocol.Packet
	max      int
	closed   bool
}

func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &Queue{max: capacity}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Push appends p. In blocking mode it waits until there is room; in
// non-blocking mode it returns false immediately on a full queue. A push
// never silently drops: false always means the packet was not enqueued.
func (q *Queue) Push(p *protocol.Packet, block bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) >= q.max && !q.closed {
		if !block {
			return false
		}
		q.notFull.Wait()
	}
	if q.closed {
		return false
	}
	q.items = append(q.items, p)
	q.notEmpty.Signal()
	return true
}

// Pop removes the oldest packet. In non-blocking mode an empty queue
// yields (nil, false) without waiting; that is "no packet", not an error.
func (q *Queue) Pop(block bool) (*protocol.Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		if !block {
			return nil, false
		}
		q.notEmpty.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	p := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.notFull.Signal()
	return p, true
}

// Len returns the current number of queued packets.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the queue bound.
func (q *Queue) Cap() int { return q.max }

// Clear drops every queued packet.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.notFull.Broadcast()
}

// Close drains the queue and wakes all waiters. Closed queues reject
// pushes and report empty pops.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	q.notFull.Broadcast()
	q.notEmpty.Broadcast()
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
