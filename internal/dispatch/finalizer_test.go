package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"io"
	"testing"
	"time"

	"github.com/dginev/cortex-dispatch/internal/clock"
	"github.com/dginev/cortex-dispatch/internal/store"
)

type fakeFinalizerStore struct {
	failures int
	calls    int
	persisted [][]store.TaskReport
}

func (f *fakeFinalizerStore) MarkDone(_ context.Context, reports []store.TaskReport) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("transient store error")
	}
	f.persisted = append(f.persisted, reports)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFinalizer_MarkDoneWithRetrySucceedsAfterFailures(t *testing.T) {
	st := &fakeFinalizerStore{failures: 2}
	f := &Finalizer{
		Store:      st,
		Clock:      clock.NewFake(time.Now()),
		Logger:     discardLogger(),
		RetryCount: 3,
		RetryDelay: time.Millisecond,
	}

	reports := []store.TaskReport{{Task: store.Task{ID: 1}, Status: store.StatusNoProblem}}
	if err := f.markDoneWithRetry(context.Background(), reports); err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if len(st.persisted) != 1 {
		t.Fatalf("expected exactly one persisted batch, got %d", len(st.persisted))
	}
}

func TestFinalizer_MarkDoneWithRetryExhausted(t *testing.T) {
	st := &fakeFinalizerStore{failures: 10}
	f := &Finalizer{
		Store:      st,
		Clock:      clock.NewFake(time.Now()),
		Logger:     discardLogger(),
		RetryCount: 2,
		RetryDelay: time.Millisecond,
	}

	reports := []store.TaskReport{{Task: store.Task{ID: 1}, Status: store.StatusFatal}}
	if err := f.markDoneWithRetry(context.Background(), reports); err == nil {
		t.Fatalf("expected exhausted retries to return an error")
	}
	if st.calls != 3 {
		t.Fatalf("expected 1 initial attempt + 2 retries = 3 calls, got %d", st.calls)
	}
}

func TestFinalizer_RunPersistsUntilJobLimit(t *testing.T) {
	st := &fakeFinalizerStore{}
	completion := NewCompletionQueue(10)
	completion.Push(store.TaskReport{Task: store.Task{ID: 1}, Status: store.StatusNoProblem})

	f := &Finalizer{
		Store:      st,
		Clock:      clock.NewFake(time.Now()),
		Completion: completion,
		Logger:     discardLogger(),
		IdleSleep:  time.Millisecond,
		RetryCount: 1,
		RetryDelay: time.Millisecond,
		JobLimit:   1,
	}

	if err := f.Run(context.Background()); err != nil {
		t.Fatalf("expected clean return at job limit, got %v", err)
	}
	if len(st.persisted) != 1 {
		t.Fatalf("expected 1 persisted batch, got %d", len(st.persisted))
	}
}

func TestFinalizer_RunPanicsWhenMarkDoneNeverSucceeds(t *testing.T) {
	st := &fakeFinalizerStore{failures: 100}
	completion := NewCompletionQueue(10)
	completion.Push(store.TaskReport{Task: store.Task{ID: 1}, Status: store.StatusFatal})

	f := &Finalizer{
		Store:      st,
		Clock:      clock.NewFake(time.Now()),
		Completion: completion,
		Logger:     discardLogger(),
		IdleSleep:  time.Millisecond,
		RetryCount: 1,
		RetryDelay: time.Millisecond,
	}

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected Run to panic when mark_done is permanently failing")
		}
	}()
	_ = f.Run(context.Background())
}
