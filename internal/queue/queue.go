// Package queue holds the buffer of paid-up customers waiting for the
// access controller to pick them up. The controller has no push channel;
// it polls, so the queue has to hand out each entry to exactly one poll.
package queue

import (
	"sync"
)

type Entry struct {
	PhoneNumber string `json:"phone_number"`
	Plan        string `json:"plan"`
}

// Queue is a mutex-guarded FIFO. Operations never touch external I/O so
// the device poll path stays cheap.
type Queue struct {
	mu      sync.Mutex
	entries []Entry
}

func New() *Queue {
	return &Queue{}
}

// Enqueue appends to the tail. It never fails; volume is bounded by
// confirmed-but-unclaimed customers, which stays small in practice.
func (q *Queue) Enqueue(phoneNumber, plan string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, Entry{PhoneNumber: phoneNumber, Plan: plan})
}

// TryPop removes and returns the head. The second return is false when the
// queue is empty. Two concurrent callers can never receive the same entry.
func (q *Queue) TryPop() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return Entry{}, false
	}
	head := q.entries[0]
	q.entries = q.entries[1:]
	return head, true
}

// Len reports the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Snapshot returns a copy of the pending entries in pop order. Monitoring
// only; it does not consume anything.
func (q *Queue) Snapshot() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.entries))
	copy(out, q.entries)
	return out
}
