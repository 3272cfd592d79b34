package observability

import (
	"sync"
	"time"
)

// DeadLetter captures a queue entry that exhausted its replay attempts.
type DeadLetter struct {
	Category  string    `json:"category"`
	EntryID   int64     `json:"entry_id"`
	Payload   []byte    `json:"payload"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error"`
	FailedAt  time.Time `json:"failed_at"`
}

// DeadLetterQueue stores queue entries that permanently failed delivery.
type DeadLetterQueue struct {
	mu       sync.Mutex
	capacity int
	entries  []DeadLetter
}

// NewDeadLetterQueue creates a DLQ with the provided capacity. Capacity <=0 implies unbounded.
func NewDeadLetterQueue(capacity int) *DeadLetterQueue {
	queue := new(DeadLetterQueue)
	queue.capacity = capacity
	queue.entries = make([]DeadLetter, 0)
	return queue
}

// Offer records a dead-lettered entry in the DLQ.
func (q *DeadLetterQueue) Offer(entry DeadLetter) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.capacity > 0 && len(q.entries) >= q.capacity {
		// Drop oldest entry to make space for new record.
		copy(q.entries[0:], q.entries[1:])
		q.entries[len(q.entries)-1] = cloneDeadLetter(entry)
		return
	}
	q.entries = append(q.entries, cloneDeadLetter(entry))
}

// Drain retrieves and clears all dead-lettered entries.
func (q *DeadLetterQueue) Drain() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := make([]DeadLetter, len(q.entries))
	copy(drained, q.entries)
	q.entries = q.entries[:0]
	return drained
}

// Snapshot copies the queued entries without clearing them.
func (q *DeadLetterQueue) Snapshot() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetter, len(q.entries))
	copy(out, q.entries)
	return out
}

// Len returns the number of dead-lettered entries.
func (q *DeadLetterQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func cloneDeadLetter(entry DeadLetter) DeadLetter {
	cloned := entry
	if entry.Payload != nil {
		cloned.Payload = make([]byte, len(entry.Payload))
		copy(cloned.Payload, entry.Payload)
	}
	return cloned
}
