// Package queue implements the bounded, thread-safe priority queue that sits
// between job acceptance and worker dispatch.
package queue

import (
	"sort"
	"sync"

	"github.com/makr-code/loraforge/internal/domain"
)

// Queue is a bounded, thread-safe holding area ordered by
// (-priority, submittedAt), matching the SELECT ... ORDER BY priority DESC,
// created_at ASC dequeue ordering of a SQL-backed job queue, re-expressed
// in-process over a sorted slice guarded by a mutex.
type Queue struct {
	mu       sync.Mutex
	entries  []domain.QueueEntry
	capacity int

	// notify is closed and replaced whenever an entry is pushed or the
	// queue is shut down, waking any blocked PopBlocking callers.
	notify chan struct{}
	closed bool
}

// New creates a Queue bounded at capacity entries. A non-positive capacity
// means unbounded.
func New(capacity int) *Queue {
	return &Queue{
		capacity: capacity,
		notify:   make(chan struct{}),
	}
}

// Push adds an entry, failing with domain.ErrCapacity if the queue is full.
func (q *Queue) Push(entry domain.QueueEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return domain.NewError(domain.ErrKindInternal, "queue is shut down")
	}
	if q.capacity > 0 && len(q.entries) >= q.capacity {
		return domain.NewError(domain.ErrKindCapacity, "queue is at maxQueueDepth")
	}

	q.entries = append(q.entries, entry)
	sort.SliceStable(q.entries, func(i, j int) bool { return q.entries[i].Less(q.entries[j]) })
	q.wake()
	return nil
}

// PopBlocking blocks until an entry is available, the queue is shut down
// (returns ok=false), or ctx's Done channel fires (returns ok=false).
func (q *Queue) PopBlocking(stop <-chan struct{}) (entry domain.QueueEntry, ok bool) {
	for {
		q.mu.Lock()
		if len(q.entries) > 0 {
			entry = q.entries[0]
			q.entries = q.entries[1:]
			q.mu.Unlock()
			return entry, true
		}
		if q.closed {
			q.mu.Unlock()
			return domain.QueueEntry{}, false
		}
		wait := q.notify
		q.mu.Unlock()

		select {
		case <-wait:
			continue
		case <-stop:
			return domain.QueueEntry{}, false
		}
	}
}

// Remove deletes the entry for jobID if still present, reporting whether a
// removal happened. O(n), acceptable given the small queue sizes the core
// targets.
func (q *Queue) Remove(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if e.JobID == jobID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Shutdown drains the queue and releases every blocked PopBlocking caller.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.entries = nil
	q.wake()
}

// wake must be called with q.mu held. It closes the current notify channel
// (waking every blocked waiter) and installs a fresh one.
func (q *Queue) wake() {
	close(q.notify)
	q.notify = make(chan struct{})
}
