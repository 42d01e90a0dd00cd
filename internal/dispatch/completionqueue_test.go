package dispatch

import (
	"testing"

	"github.com/dginev/cortex-dispatch/internal/store"
)

func TestCompletionQueue_PushDrainFIFO(t *testing.T) {
	q := NewCompletionQueue(10)
	q.Push(store.TaskReport{Task: store.Task{ID: 1}})
	q.Push(store.TaskReport{Task: store.Task{ID: 2}})

	if q.Len() != 2 {
		t.Fatalf("expected len 2, got %d", q.Len())
	}

	drained := q.DrainAll()
	if len(drained) != 2 || drained[0].Task.ID != 1 || drained[1].Task.ID != 2 {
		t.Fatalf("expected FIFO order [1,2], got %+v", drained)
	}
	if q.Len() != 0 {
		t.Fatalf("expected queue empty after drain, got len %d", q.Len())
	}
}

func TestCompletionQueue_DrainEmptyReturnsEmpty(t *testing.T) {
	q := NewCompletionQueue(10)
	drained := q.DrainAll()
	if len(drained) != 0 {
		t.Fatalf("expected empty drain, got %+v", drained)
	}
}

func TestCompletionQueue_PushOverflowPanics(t *testing.T) {
	q := NewCompletionQueue(1)
	q.Push(store.TaskReport{Task: store.Task{ID: 1}})

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected overflow push to panic")
		}
	}()
	q.Push(store.TaskReport{Task: store.Task{ID: 2}})
}
