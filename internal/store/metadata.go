package store

import (
	"context"
	"fmt"
	"time"
)

// RecordDispatched upserts a worker_metadata row on a dispatch event: on
// first sighting of (service_id, name) it inserts a fresh row with
// first_seen=session_seen=now and totals 1/0; otherwise it increments
// total_dispatched and updates the last-dispatch bookkeeping, preserving
// session_seen, per spec.md section 4.7.
func (s *Store) RecordDispatched(ctx context.Context, serviceID int32, name string, taskID int64, now time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO worker_metadata
		   (service_id, name, first_seen, session_seen, time_last_dispatch, last_dispatched_task_id, total_dispatched, total_returned)
		 VALUES ($1, $2, $3, $3, $3, $4, 1, 0)
		 ON CONFLICT (service_id, name) DO UPDATE SET
		   time_last_dispatch = $3,
		   last_dispatched_task_id = $4,
		   total_dispatched = worker_metadata.total_dispatched + 1`,
		serviceID, name, now, taskID)
	if err != nil {
		return fmt.Errorf("record_dispatched: %w", err)
	}
	return nil
}

// RecordReceived upserts a worker_metadata row on a completion event.
func (s *Store) RecordReceived(ctx context.Context, serviceID int32, name string, taskID int64, now time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO worker_metadata
		   (service_id, name, first_seen, session_seen, time_last_dispatch, time_last_return, last_dispatched_task_id, last_returned_task_id, total_dispatched, total_returned)
		 VALUES ($1, $2, $3, $3, $3, $3, 0, $4, 0, 1)
		 ON CONFLICT (service_id, name) DO UPDATE SET
		   time_last_return = $3,
		   last_returned_task_id = $4,
		   total_returned = worker_metadata.total_returned + 1`,
		serviceID, name, now, taskID)
	if err != nil {
		return fmt.Errorf("record_received: %w", err)
	}
	return nil
}
