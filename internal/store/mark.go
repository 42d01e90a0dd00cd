package store

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/jackc/pgx/v5"
)

var logTables = map[Severity]string{
	SeverityInfo:    "log_infos",
	SeverityWarning: "log_warnings",
	SeverityError:   "log_errors",
	SeverityFatal:   "log_fatals",
	SeverityInvalid: "log_invalids",
}

// MarkDone persists a batch of completed task reports in one transaction:
// each task's status is updated to its terminal severity, its previous log
// rows across all five severity tables are deleted, and the report's new
// messages are inserted (control records with severity "status" are
// filtered out, as they carry no diagnostic content). The whole list is one
// transaction, matching spec.md section 4.1's atomicity requirement.
func (s *Store) MarkDone(ctx context.Context, reports []TaskReport) error {
	if len(reports) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("mark_done begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, r := range reports {
		if _, err := tx.Exec(ctx, `UPDATE tasks SET status = $1 WHERE id = $2`,
			r.Status, r.Task.ID); err != nil {
			return fmt.Errorf("mark_done update status: %w", err)
		}
		for _, table := range logTables {
			if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE task_id = $1`, r.Task.ID); err != nil {
				return fmt.Errorf("mark_done delete %s: %w", table, err)
			}
		}
		var b pgx.Batch
		for _, m := range r.Messages {
			if m.Severity == SeverityStatus {
				continue
			}
			table, ok := logTables[m.Severity]
			if !ok {
				continue
			}
			b.Queue(`INSERT INTO `+table+` (task_id, category, what, details) VALUES ($1, $2, $3, $4)`,
				r.Task.ID, m.Category, m.What, m.Details)
		}
		if b.Len() > 0 {
			br := tx.SendBatch(ctx, &b)
			for i := 0; i < b.Len(); i++ {
				if _, err := br.Exec(); err != nil {
					br.Close()
					return fmt.Errorf("mark_done insert message %d: %w", i, err)
				}
			}
			if err := br.Close(); err != nil {
				return fmt.Errorf("mark_done close batch: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("mark_done commit: %w", err)
	}
	return nil
}

// RerunSelector narrows a mark_rerun call to a slice of a (corpus, service)
// pair's tasks. All fields are optional; see mark_rerun's three-phase
// behavior in spec.md section 4.1 for how they combine.
type RerunSelector struct {
	Severity *Severity
	Category *string
	What     *string
}

// MarkRerun stages the selected tasks to TODO: it marks them with a fresh
// blocked value, deletes their log rows, flips them to TODO, then closes
// the currently open historical run for (corpus, service) and opens a new
// one with owner/description.
func (s *Store) MarkRerun(ctx context.Context, corpusID, serviceID int32, sel RerunSelector, owner, description string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("mark_rerun begin: %w", err)
	}
	defer tx.Rollback(ctx)

	mark := Status(-(6 + rand.Intn(65535))) // blocked: strictly below -5

	if err := stageBlocked(ctx, tx, corpusID, serviceID, sel, mark); err != nil {
		return fmt.Errorf("mark_rerun stage: %w", err)
	}

	for _, table := range logTables {
		if _, err := tx.Exec(ctx,
			`DELETE FROM `+table+` WHERE task_id IN (SELECT id FROM tasks WHERE corpus_id = $1 AND service_id = $2 AND status = $3)`,
			corpusID, serviceID, mark); err != nil {
			return fmt.Errorf("mark_rerun delete %s: %w", table, err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE tasks SET status = 0 WHERE corpus_id = $1 AND service_id = $2 AND status = $3`,
		corpusID, serviceID, mark); err != nil {
		return fmt.Errorf("mark_rerun flip to todo: %w", err)
	}

	if err := closeOpenRun(ctx, tx, corpusID, serviceID); err != nil {
		return fmt.Errorf("mark_rerun close run: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO historical_runs (corpus_id, service_id, start_time, owner, description, in_progress)
		 VALUES ($1, $2, now(), $3, $4, TRUE)`,
		corpusID, serviceID, owner, description); err != nil {
		return fmt.Errorf("mark_rerun open run: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("mark_rerun commit: %w", err)
	}
	return nil
}

// stageBlocked implements the four selection branches from
// original_source's mark.rs / mark_rerun: what+category+severity narrows to
// a single log-message class, category+severity narrows to a category,
// severity alone matches the task's terminal status directly, and no
// selector at all rescopes the entire (corpus, service) pair's terminal
// tasks.
func stageBlocked(ctx context.Context, tx pgx.Tx, corpusID, serviceID int32, sel RerunSelector, mark Status) error {
	switch {
	case sel.Severity == nil:
		_, err := tx.Exec(ctx,
			`UPDATE tasks SET status = $1 WHERE corpus_id = $2 AND service_id = $3 AND status < 0`,
			mark, corpusID, serviceID)
		return err

	case sel.Category == nil:
		status, ok := StatusForSeverity(*sel.Severity)
		if !ok {
			status = StatusNoProblem
		}
		_, err := tx.Exec(ctx,
			`UPDATE tasks SET status = $1 WHERE corpus_id = $2 AND service_id = $3 AND status = $4`,
			mark, corpusID, serviceID, status)
		return err

	case sel.What == nil:
		table, ok := logTables[*sel.Severity]
		if !ok {
			return nil
		}
		_, err := tx.Exec(ctx,
			`UPDATE tasks SET status = $1
			 WHERE corpus_id = $2 AND service_id = $3
			   AND id IN (SELECT task_id FROM `+table+` WHERE category = $4)`,
			mark, corpusID, serviceID, *sel.Category)
		return err

	default:
		table, ok := logTables[*sel.Severity]
		if !ok {
			return nil
		}
		_, err := tx.Exec(ctx,
			`UPDATE tasks SET status = $1
			 WHERE corpus_id = $2 AND service_id = $3
			   AND id IN (SELECT task_id FROM `+table+` WHERE category = $4 AND what = $5)`,
			mark, corpusID, serviceID, *sel.Category, *sel.What)
		return err
	}
}

func closeOpenRun(ctx context.Context, tx pgx.Tx, corpusID, serviceID int32) error {
	snapshot, err := progressReportTx(ctx, tx, corpusID, serviceID)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`UPDATE historical_runs SET end_time = now(), in_progress = FALSE,
		   no_problem_count = $1, warning_count = $2, error_count = $3,
		   fatal_count = $4, invalid_count = $5, todo_count = $6
		 WHERE corpus_id = $7 AND service_id = $8 AND end_time IS NULL`,
		snapshot.NoProblem, snapshot.Warning, snapshot.Error, snapshot.Fatal,
		snapshot.Invalid, snapshot.TODO, corpusID, serviceID)
	return err
}
