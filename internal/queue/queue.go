// Package queue provides the bounded FIFO hand-off between one scheduler
// and the batch writer. Single producer, single consumer; both sides are
// non-blocking so neither loop ever waits on the other.
package queue

import (
	"sync/atomic"

	"latencyprobe/internal/domain"
)

// Queue is a bounded record FIFO. Enqueue never blocks: when the queue is
// full the record is dropped and counted, keeping a stalled writer from
// backing up into the schedulers.
type Queue struct {
	ch      chan domain.Record
	dropped atomic.Uint64
}

// New creates a queue with the given capacity.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{ch: make(chan domain.Record, capacity)}
}

// Enqueue appends a record, reporting false if it was dropped because the
// queue is full.
func (q *Queue) Enqueue(r domain.Record) bool {
	select {
	case q.ch <- r:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Dequeue removes the oldest record, reporting false if the queue is
// currently empty.
func (q *Queue) Dequeue() (domain.Record, bool) {
	select {
	case r := <-q.ch:
		return r, true
	default:
		return domain.Record{}, false
	}
}

// Len returns the number of queued records.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Dropped returns how many records were rejected by a full queue.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
