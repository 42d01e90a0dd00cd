package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dginev/cortex-dispatch/internal/clock"
)

type metadataEvent struct {
	serviceID int32
	name      string
	taskID    int64
	now       time.Time
}

type fakeMetadataStore struct {
	mu         sync.Mutex
	dispatched []metadataEvent
	received   []metadataEvent
	done       chan struct{}
}

func newFakeMetadataStore(expect int) *fakeMetadataStore {
	return &fakeMetadataStore{done: make(chan struct{}, expect)}
}

func (f *fakeMetadataStore) RecordDispatched(_ context.Context, serviceID int32, name string, taskID int64, now time.Time) error {
	f.mu.Lock()
	f.dispatched = append(f.dispatched, metadataEvent{serviceID, name, taskID, now})
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

func (f *fakeMetadataStore) RecordReceived(_ context.Context, serviceID int32, name string, taskID int64, now time.Time) error {
	f.mu.Lock()
	f.received = append(f.received, metadataEvent{serviceID, name, taskID, now})
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

func TestMetadataTracker_RecordDispatchedFiresAsynchronously(t *testing.T) {
	fake := newFakeMetadataStore(1)
	fixedNow := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	tracker := NewMetadataTracker(fake, clock.NewFake(fixedNow), discardLogger())

	tracker.RecordDispatched("worker-a", 3, 42)

	select {
	case <-fake.done:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for record_dispatched")
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.dispatched) != 1 {
		t.Fatalf("expected 1 dispatched event, got %d", len(fake.dispatched))
	}
	ev := fake.dispatched[0]
	if ev.serviceID != 3 || ev.name != "worker-a" || ev.taskID != 42 || !ev.now.Equal(fixedNow) {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestMetadataTracker_RecordReceivedFiresAsynchronously(t *testing.T) {
	fake := newFakeMetadataStore(1)
	tracker := NewMetadataTracker(fake, clock.NewFake(time.Now()), discardLogger())

	tracker.RecordReceived("worker-b", 2, 7)

	select {
	case <-fake.done:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for record_received")
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.received) != 1 || fake.received[0].taskID != 7 {
		t.Fatalf("unexpected received events: %+v", fake.received)
	}
}
