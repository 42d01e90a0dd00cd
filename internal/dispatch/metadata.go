package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/dginev/cortex-dispatch/internal/clock"
)

// metadataStore is the Task Store surface the tracker needs, narrowed to
// ease testing with a fake in place of a live Postgres connection.
type metadataStore interface {
	RecordDispatched(ctx context.Context, serviceID int32, name string, taskID int64, now time.Time) error
	RecordReceived(ctx context.Context, serviceID int32, name string, taskID int64, now time.Time) error
}

// MetadataTracker records per-worker dispatch/return telemetry without
// blocking its caller: record_dispatched and record_received each spawn a
// short-lived goroutine, per spec.md section 4.7, the same
// fire-and-forget posture dashi's alerts.Engine uses for notification
// delivery.
type MetadataTracker struct {
	store  metadataStore
	clock  clock.Clock
	logger *slog.Logger
}

// NewMetadataTracker builds a tracker writing through st.
func NewMetadataTracker(st metadataStore, c clock.Clock, logger *slog.Logger) *MetadataTracker {
	return &MetadataTracker{store: st, clock: c, logger: logger}
}

// RecordDispatched fires a background upsert for a dispatch event.
func (t *MetadataTracker) RecordDispatched(workerName string, serviceID int32, taskID int64) {
	now := t.clock.Now()
	go func() {
		if err := t.store.RecordDispatched(context.Background(), serviceID, workerName, taskID, now); err != nil {
			t.logger.Error("record_dispatched failed", "worker", workerName, "service_id", serviceID, "task_id", taskID, "err", err)
		}
	}()
}

// RecordReceived fires a background upsert for a completion event.
func (t *MetadataTracker) RecordReceived(workerName string, serviceID int32, taskID int64) {
	now := t.clock.Now()
	go func() {
		if err := t.store.RecordReceived(context.Background(), serviceID, workerName, taskID, now); err != nil {
			t.logger.Error("record_received failed", "worker", workerName, "service_id", serviceID, "task_id", taskID, "err", err)
		}
	}()
}
