package store

import (
	"context"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
)

// ProgressSnapshot is the grouped-by-status count a progress_report
// produces, and also what a historical run freezes at close time.
type ProgressSnapshot struct {
	TODO       int32
	NoProblem  int32
	Warning    int32
	Error      int32
	Fatal      int32
	Invalid    int32
	Total      int32 // excludes Invalid, per spec.md section 4.1
	Percent    map[string]float64
}

// ProgressReport aggregates task counts for (corpus, service) grouped by
// terminal status, with percentages (of Total, which excludes Invalid)
// rounded to two decimals.
func (s *Store) ProgressReport(ctx context.Context, corpusID, serviceID int32) (ProgressSnapshot, error) {
	return progressReportTx(ctx, s.pool, corpusID, serviceID)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting
// progressReportTx run either standalone or inside mark_rerun/close_run's
// transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func progressReportTx(ctx context.Context, q querier, corpusID, serviceID int32) (ProgressSnapshot, error) {
	rows, err := q.Query(ctx,
		`SELECT status, count(*) FROM tasks WHERE corpus_id = $1 AND service_id = $2 GROUP BY status`,
		corpusID, serviceID)
	if err != nil {
		return ProgressSnapshot{}, fmt.Errorf("progress_report: %w", err)
	}
	defer rows.Close()

	var snap ProgressSnapshot
	for rows.Next() {
		var status Status
		var n int32
		if err := rows.Scan(&status, &n); err != nil {
			return ProgressSnapshot{}, fmt.Errorf("progress_report scan: %w", err)
		}
		switch {
		case status == StatusTODO:
			snap.TODO += n
		case status == StatusNoProblem:
			snap.NoProblem += n
		case status == StatusWarning:
			snap.Warning += n
		case status == StatusError:
			snap.Error += n
		case status == StatusFatal:
			snap.Fatal += n
		case status == StatusInvalid:
			snap.Invalid += n
		case status.InFlight():
			snap.TODO += n // in-flight counts as outstanding work, like TODO
		}
	}
	if err := rows.Err(); err != nil {
		return ProgressSnapshot{}, fmt.Errorf("progress_report rows: %w", err)
	}

	snap.Total = snap.TODO + snap.NoProblem + snap.Warning + snap.Error + snap.Fatal
	snap.Percent = map[string]float64{
		"todo":       pct(snap.TODO, snap.Total),
		"no_problem": pct(snap.NoProblem, snap.Total),
		"warning":    pct(snap.Warning, snap.Total),
		"error":      pct(snap.Error, snap.Total),
		"fatal":      pct(snap.Fatal, snap.Total),
	}
	return snap, nil
}

func pct(n, total int32) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*10000) / 100
}

// CloseRun sets end_time=now on the open (corpus, service) run and freezes
// its severity counts from a fresh progress_report snapshot.
func (s *Store) CloseRun(ctx context.Context, corpusID, serviceID int32) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("close_run begin: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := closeOpenRun(ctx, tx, corpusID, serviceID); err != nil {
		return fmt.Errorf("close_run: %w", err)
	}
	return tx.Commit(ctx)
}

// TaskReportOptions selects one of task_report's four granularities, named
// after original_source/src/backend/reports.rs's TaskReportOptions.
type TaskReportOptions struct {
	Severity     *string
	Category     *string
	What         *string
	AllMessages  bool
	Offset       int64
	PageSize     int64
}

// ReportRow is one row of a task_report result; which fields are populated
// depends on the requested granularity.
type ReportRow struct {
	Category string
	What     string
	Count    int64
	Task     *Task
}

// TaskReport produces one of four granularities: with no severity given,
// per-top-level severity counts (same shape as ProgressReport); with
// severity only, per-category aggregation; with severity+category,
// per-what aggregation; with severity+category+what, a paginated task
// listing. The "no_messages" pseudo-category selects tasks at the given
// severity with no rows in that severity's log table. AllMessages widens
// the severity scope to every terminal status strictly better than
// Invalid (NoProblem, Warning, Error, Fatal).
func (s *Store) TaskReport(ctx context.Context, corpusID, serviceID int32, opts TaskReportOptions) ([]ReportRow, error) {
	if opts.Severity == nil {
		snap, err := s.ProgressReport(ctx, corpusID, serviceID)
		if err != nil {
			return nil, err
		}
		return []ReportRow{
			{Category: "todo", Count: int64(snap.TODO)},
			{Category: "no_problem", Count: int64(snap.NoProblem)},
			{Category: "warning", Count: int64(snap.Warning)},
			{Category: "error", Count: int64(snap.Error)},
			{Category: "fatal", Count: int64(snap.Fatal)},
			{Category: "invalid", Count: int64(snap.Invalid)},
		}, nil
	}

	severities := severityScope(*opts.Severity, opts.AllMessages)

	if opts.Category == nil {
		return s.taskReportByCategory(ctx, corpusID, serviceID, severities)
	}
	if *opts.Category == "no_messages" {
		return s.taskReportNoMessages(ctx, corpusID, serviceID, severities, opts)
	}
	if opts.What == nil {
		return s.taskReportByWhat(ctx, corpusID, serviceID, severities, *opts.Category)
	}
	return s.taskReportTasks(ctx, corpusID, serviceID, severities, *opts.Category, *opts.What, opts)
}

// severityScope resolves a requested severity name (and the all_messages
// flag) to the set of log tables the query should union over. "no_problem"
// has no log table of its own; its rows are always empty.
func severityScope(severity string, allMessages bool) []Severity {
	if allMessages {
		return []Severity{SeverityInfo, SeverityWarning, SeverityError, SeverityFatal}
	}
	switch Severity(severity) {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityFatal, SeverityInvalid:
		return []Severity{Severity(severity)}
	default:
		return nil
	}
}

func (s *Store) taskReportByCategory(ctx context.Context, corpusID, serviceID int32, severities []Severity) ([]ReportRow, error) {
	var rows []ReportRow
	for _, sev := range severities {
		table, ok := logTables[sev]
		if !ok {
			continue
		}
		r, err := s.pool.Query(ctx,
			`SELECT l.category, count(*) FROM `+table+` l
			 JOIN tasks t ON t.id = l.task_id
			 WHERE t.corpus_id = $1 AND t.service_id = $2
			 GROUP BY l.category ORDER BY l.category`,
			corpusID, serviceID)
		if err != nil {
			return nil, fmt.Errorf("task_report by category: %w", err)
		}
		err = scanCategoryCounts(r, &rows)
		r.Close()
		if err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func (s *Store) taskReportByWhat(ctx context.Context, corpusID, serviceID int32, severities []Severity, category string) ([]ReportRow, error) {
	var rows []ReportRow
	for _, sev := range severities {
		table, ok := logTables[sev]
		if !ok {
			continue
		}
		r, err := s.pool.Query(ctx,
			`SELECT l.what, count(*) FROM `+table+` l
			 JOIN tasks t ON t.id = l.task_id
			 WHERE t.corpus_id = $1 AND t.service_id = $2 AND l.category = $3
			 GROUP BY l.what ORDER BY l.what`,
			corpusID, serviceID, category)
		if err != nil {
			return nil, fmt.Errorf("task_report by what: %w", err)
		}
		err = scanWhatCounts(r, &rows)
		r.Close()
		if err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func (s *Store) taskReportTasks(ctx context.Context, corpusID, serviceID int32, severities []Severity, category, what string, opts TaskReportOptions) ([]ReportRow, error) {
	var rows []ReportRow
	for _, sev := range severities {
		table, ok := logTables[sev]
		if !ok {
			continue
		}
		r, err := s.pool.Query(ctx,
			`SELECT t.id, t.service_id, t.corpus_id, t.status, t.entry FROM `+table+` l
			 JOIN tasks t ON t.id = l.task_id
			 WHERE t.corpus_id = $1 AND t.service_id = $2 AND l.category = $3 AND l.what = $4
			 ORDER BY t.id OFFSET $5 LIMIT $6`,
			corpusID, serviceID, category, what, opts.Offset, opts.PageSize)
		if err != nil {
			return nil, fmt.Errorf("task_report tasks: %w", err)
		}
		err = scanTaskRows(r, &rows)
		r.Close()
		if err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// taskReportNoMessages resolves spec.md section 4.1's "no_messages"
// pseudo-category: tasks at the given severity scope with no rows across
// any log table in that scope, per the open question's resolution in
// section 9.
func (s *Store) taskReportNoMessages(ctx context.Context, corpusID, serviceID int32, severities []Severity, opts TaskReportOptions) ([]ReportRow, error) {
	if len(severities) == 0 {
		return nil, nil
	}
	var statusFilter []Status
	if opts.AllMessages {
		statusFilter = append(statusFilter, StatusNoProblem)
	}
	for _, sev := range severities {
		if st, ok := StatusForSeverity(sev); ok {
			statusFilter = append(statusFilter, st)
		}
	}
	exclude := ""
	for _, sev := range severities {
		table, ok := logTables[sev]
		if !ok {
			continue
		}
		exclude += ` AND t.id NOT IN (SELECT task_id FROM ` + table + `)`
	}
	r, err := s.pool.Query(ctx,
		`SELECT t.id, t.service_id, t.corpus_id, t.status, t.entry FROM tasks t
		 WHERE t.corpus_id = $1 AND t.service_id = $2 AND t.status = ANY($3)`+exclude+`
		 ORDER BY t.id OFFSET $4 LIMIT $5`,
		corpusID, serviceID, statusFilter, opts.Offset, opts.PageSize)
	if err != nil {
		return nil, fmt.Errorf("task_report no_messages: %w", err)
	}
	defer r.Close()
	var rows []ReportRow
	if err := scanTaskRows(r, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func scanCategoryCounts(r pgx.Rows, out *[]ReportRow) error {
	for r.Next() {
		var row ReportRow
		if err := r.Scan(&row.Category, &row.Count); err != nil {
			return fmt.Errorf("scan category counts: %w", err)
		}
		*out = append(*out, row)
	}
	return r.Err()
}

func scanWhatCounts(r pgx.Rows, out *[]ReportRow) error {
	for r.Next() {
		var row ReportRow
		if err := r.Scan(&row.What, &row.Count); err != nil {
			return fmt.Errorf("scan what counts: %w", err)
		}
		*out = append(*out, row)
	}
	return r.Err()
}

func scanTaskRows(r pgx.Rows, out *[]ReportRow) error {
	for r.Next() {
		var t Task
		if err := r.Scan(&t.ID, &t.ServiceID, &t.CorpusID, &t.Status, &t.Entry); err != nil {
			return fmt.Errorf("scan task row: %w", err)
		}
		*out = append(*out, ReportRow{Task: &t})
	}
	return r.Err()
}
