package store

import (
	"context"
	"fmt"
	"math/rand"
)

// randomMark draws a positive batch mark uniformly from 1..=65535, per
// spec.md section 4.1. All tasks fetched in one FetchTODO call share the
// same mark so a later timeout sweep can identify the whole batch.
func randomMark() Status {
	return Status(1 + rand.Intn(65535))
}

// FetchTODO selects up to n TODO tasks for service_id, locks them with
// FOR UPDATE so a concurrent dispatcher cannot hand out the same row,
// stamps them all with one freshly generated positive mark, and returns
// the marked rows ordered by primary key.
func (s *Store) FetchTODO(ctx context.Context, serviceID int32, n int) ([]Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch_todo begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT id, service_id, corpus_id, status, entry FROM tasks
		 WHERE service_id = $1 AND status = 0
		 ORDER BY id LIMIT $2 FOR UPDATE`,
		serviceID, n)
	if err != nil {
		return nil, fmt.Errorf("fetch_todo select: %w", err)
	}

	var ids []int64
	var tasks []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.ServiceID, &t.CorpusID, &t.Status, &t.Entry); err != nil {
			rows.Close()
			return nil, fmt.Errorf("fetch_todo scan: %w", err)
		}
		ids = append(ids, t.ID)
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch_todo rows: %w", err)
	}
	if len(tasks) == 0 {
		return nil, tx.Commit(ctx)
	}

	mark := randomMark()
	if _, err := tx.Exec(ctx,
		`UPDATE tasks SET status = $1 WHERE id = ANY($2)`, mark, ids); err != nil {
		return nil, fmt.Errorf("fetch_todo mark: %w", err)
	}
	for i := range tasks {
		tasks[i].Status = mark
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("fetch_todo commit: %w", err)
	}
	return tasks, nil
}

// ClearInFlight resets every in-flight task (status > 0) back to TODO.
// Called exactly once at Ventilator startup to recover orphans left by a
// prior crash.
func (s *Store) ClearInFlight(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `UPDATE tasks SET status = 0 WHERE status > 0`)
	if err != nil {
		return fmt.Errorf("clear_in_flight: %w", err)
	}
	return nil
}

// MarkImported inserts a batch of new tasks, silently ignoring any entry
// that already exists for its (service, corpus) pair.
func (s *Store) MarkImported(ctx context.Context, batch []NewTask) error {
	if len(batch) == 0 {
		return nil
	}
	b := &pgxBatch{}
	for _, t := range batch {
		b.queue(`INSERT INTO tasks (service_id, corpus_id, status, entry)
		          VALUES ($1, $2, $3, $4)
		          ON CONFLICT (service_id, corpus_id, entry) DO NOTHING`,
			t.ServiceID, t.CorpusID, t.Status, t.Entry)
	}
	return b.run(ctx, s.pool, "mark_imported")
}
