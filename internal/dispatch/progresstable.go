package dispatch

import (
	"fmt"
	"sync"
	"time"

	"github.com/dginev/cortex-dispatch/internal/store"
)

// ProgressEntry is the in-memory authority for one in-flight task, per
// spec.md section 3's "progress table" and section 5's ordering
// guarantees.
type ProgressEntry struct {
	Task      store.Task
	CreatedAt time.Time
	Retries   int
}

// ProgressTable is task_id -> ProgressEntry, guarded by a single mutex with
// short critical sections, enforcing the 10,000-entry panic cap from
// spec.md section 5.
type ProgressTable struct {
	mu      sync.Mutex
	entries map[int64]*ProgressEntry
	cap     int
}

// NewProgressTable returns an empty table with the given overflow cap.
func NewProgressTable(cap int) *ProgressTable {
	return &ProgressTable{entries: make(map[int64]*ProgressEntry), cap: cap}
}

// Insert adds (or overwrites) the progress entry for entry.Task.ID. It
// panics if doing so would exceed the configured cap — a deliberate "fail
// loud" backpressure signal, per spec.md sections 5 and 9.
func (p *ProgressTable) Insert(entry ProgressEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.entries[entry.Task.ID]; !exists && len(p.entries) >= p.cap {
		panic(fmt.Sprintf("progress table overflow: %d entries exceeds cap %d", len(p.entries), p.cap))
	}
	stored := entry
	p.entries[entry.Task.ID] = &stored
}

// Get returns the entry for taskID without removing it, for the Sink's
// existence check prior to the ordering-sensitive remove-then-enqueue
// sequence.
func (p *ProgressTable) Get(taskID int64) (ProgressEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[taskID]
	if !ok {
		return ProgressEntry{}, false
	}
	return *e, true
}

// Remove deletes and returns the entry for taskID, if present.
func (p *ProgressTable) Remove(taskID int64) (ProgressEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[taskID]
	if !ok {
		return ProgressEntry{}, false
	}
	delete(p.entries, taskID)
	return *e, true
}

// Len reports the current size, for tests and the dispatched-minus-returned
// conservation property in spec.md section 8.
func (p *ProgressTable) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// SweepTimeouts removes every entry older than (retries+1)*perRetry as of
// now, and returns them for the caller (the Ventilator) to either re-queue
// (retries < ceiling) or turn into a Fatal completion report (retries >=
// ceiling), per spec.md section 4.3 step 3 and section 5's timeout rules.
func (p *ProgressTable) SweepTimeouts(now time.Time, perRetry time.Duration) []ProgressEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	var expired []ProgressEntry
	for id, e := range p.entries {
		deadline := e.CreatedAt.Add(time.Duration(e.Retries+1) * perRetry)
		if !now.Before(deadline) {
			expired = append(expired, *e)
			delete(p.entries, id)
		}
	}
	return expired
}
