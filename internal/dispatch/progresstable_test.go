package dispatch

import (
	"testing"
	"time"

	"github.com/dginev/cortex-dispatch/internal/store"
)

func TestProgressTable_InsertGetRemove(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pt := NewProgressTable(10)
	pt.Insert(ProgressEntry{Task: store.Task{ID: 1}, CreatedAt: now})

	entry, ok := pt.Get(1)
	if !ok || entry.Task.ID != 1 {
		t.Fatalf("expected entry for task 1, got %+v ok=%v", entry, ok)
	}
	if pt.Len() != 1 {
		t.Fatalf("expected len 1, got %d", pt.Len())
	}

	removed, ok := pt.Remove(1)
	if !ok || removed.Task.ID != 1 {
		t.Fatalf("expected to remove task 1, got %+v ok=%v", removed, ok)
	}
	if pt.Len() != 0 {
		t.Fatalf("expected len 0 after remove, got %d", pt.Len())
	}
	if _, ok := pt.Get(1); ok {
		t.Fatalf("expected task 1 gone after remove")
	}
}

func TestProgressTable_InsertOverflowPanics(t *testing.T) {
	pt := NewProgressTable(1)
	pt.Insert(ProgressEntry{Task: store.Task{ID: 1}})

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected overflow insert to panic")
		}
	}()
	pt.Insert(ProgressEntry{Task: store.Task{ID: 2}})
}

func TestProgressTable_InsertOverwriteSameIDDoesNotCountTwice(t *testing.T) {
	pt := NewProgressTable(1)
	pt.Insert(ProgressEntry{Task: store.Task{ID: 1}, Retries: 0})
	pt.Insert(ProgressEntry{Task: store.Task{ID: 1}, Retries: 1})

	entry, _ := pt.Get(1)
	if entry.Retries != 1 {
		t.Fatalf("expected overwrite to update entry, got retries=%d", entry.Retries)
	}
}

func TestProgressTable_SweepTimeoutsRemovesExpiredOnly(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pt := NewProgressTable(10)
	pt.Insert(ProgressEntry{Task: store.Task{ID: 1}, CreatedAt: base, Retries: 0})
	pt.Insert(ProgressEntry{Task: store.Task{ID: 2}, CreatedAt: base.Add(50 * time.Minute), Retries: 0})

	perRetry := time.Hour
	now := base.Add(90 * time.Minute)

	expired := pt.SweepTimeouts(now, perRetry)
	if len(expired) != 1 || expired[0].Task.ID != 1 {
		t.Fatalf("expected only task 1 expired, got %+v", expired)
	}
	if pt.Len() != 1 {
		t.Fatalf("expected task 2 to remain, len=%d", pt.Len())
	}
	if _, ok := pt.Get(2); !ok {
		t.Fatalf("expected task 2 still present")
	}
}

func TestProgressTable_SweepTimeoutsHonorsRetriesInDeadline(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pt := NewProgressTable(10)
	// Retries=1 means a 2x perRetry deadline; at 90 minutes with a 1h
	// perRetry this entry should NOT have expired yet.
	pt.Insert(ProgressEntry{Task: store.Task{ID: 1}, CreatedAt: base, Retries: 1})

	expired := pt.SweepTimeouts(base.Add(90*time.Minute), time.Hour)
	if len(expired) != 0 {
		t.Fatalf("expected no expiry yet, got %+v", expired)
	}

	expired = pt.SweepTimeouts(base.Add(150*time.Minute), time.Hour)
	if len(expired) != 1 {
		t.Fatalf("expected expiry past the doubled deadline, got %+v", expired)
	}
}
