package dispatch

import (
	"fmt"
	"sync"

	"github.com/dginev/cortex-dispatch/internal/store"
)

// CompletionQueue is the FIFO of finished task reports awaiting
// persistence (spec.md section 3). Producers are the Sink and the
// Ventilator (timeout Fatals); the sole consumer is the Finalizer.
type CompletionQueue struct {
	mu    sync.Mutex
	items []store.TaskReport
	cap   int
}

// NewCompletionQueue returns an empty queue with the given overflow cap.
func NewCompletionQueue(cap int) *CompletionQueue {
	return &CompletionQueue{cap: cap}
}

// Push appends a report, panicking if doing so would exceed the cap — the
// same deliberate backpressure contract as the progress table.
func (q *CompletionQueue) Push(report store.TaskReport) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.cap {
		panic(fmt.Sprintf("completion queue overflow: %d entries exceeds cap %d", len(q.items), q.cap))
	}
	q.items = append(q.items, report)
}

// DrainAll atomically removes and returns every queued report in FIFO
// order, up to the Finalizer's soft cap; a queue that has grown past the
// cap by the time DrainAll runs still panics, since that means the
// Finalizer has fallen far enough behind to constitute backpressure.
func (q *CompletionQueue) DrainAll() []store.TaskReport {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) > q.cap {
		panic(fmt.Sprintf("completion queue overflow: %d entries exceeds cap %d", len(q.items), q.cap))
	}
	drained := q.items
	q.items = nil
	return drained
}

// Len reports the current size.
func (q *CompletionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
