package queue

import (
	"sync"
	"time"

	"peerline/pkg/types"
)

// Queue is the FIFO list of requesters awaiting a match. Ordering is strict
// by enqueue time; there is no reordering by stress level or preference.
type Queue struct {
	mu      sync.RWMutex
	entries []*types.QueueEntry
	now     func() time.Time
}

// NewQueue creates an empty waiting queue.
func NewQueue() *Queue {
	return &Queue{now: time.Now}
}

// Enqueue appends an entry and returns its 1-indexed position (the queue
// length after insert). A connection id may appear at most once.
func (q *Queue) Enqueue(entry *types.QueueEntry) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.entries {
		if e.ConnID == entry.ConnID {
			return 0, ErrAlreadyQueued
		}
	}
	if entry.EnqueuedAt.IsZero() {
		entry.EnqueuedAt = q.now()
	}
	q.entries = append(q.entries, entry)
	return len(q.entries), nil
}

// Remove takes a requester out of the queue by connection id. Returns the
// removed entry, or false if absent. Removal races with disconnect are
// expected and benign.
func (q *Queue) Remove(connID string) (*types.QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if e.ConnID == connID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return e, true
		}
	}
	return nil, false
}

// Find returns the entry for a connection id without removing it.
func (q *Queue) Find(connID string) (*types.QueueEntry, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, e := range q.entries {
		if e.ConnID == connID {
			return e, true
		}
	}
	return nil, false
}

// PositionOf returns the 1-indexed position of a connection id, or false if
// it is not queued.
func (q *Queue) PositionOf(connID string) (int, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for i, e := range q.entries {
		if e.ConnID == connID {
			return i + 1, true
		}
	}
	return 0, false
}

// Snapshot returns the queued entries in order, for broadcasting to newly
// available responders.
func (q *Queue) Snapshot() []*types.QueueEntry {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]*types.QueueEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Len returns the number of waiting requesters.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}
