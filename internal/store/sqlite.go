package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS pipeline_executions (
	id           TEXT PRIMARY KEY,
	trigger_mode TEXT NOT NULL DEFAULT 'manual',
	status       TEXT NOT NULL DEFAULT 'pending',
	phases       TEXT NOT NULL,
	counters     TEXT,
	errors       TEXT,
	errors_total INTEGER NOT NULL DEFAULT 0,
	recoveries   INTEGER NOT NULL DEFAULT 0,
	started_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	ended_at     DATETIME,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_pipeline_executions_status ON pipeline_executions(status);

CREATE TABLE IF NOT EXISTS pipeline_phases (
	execution_id TEXT NOT NULL REFERENCES pipeline_executions(id),
	name         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	attempts     INTEGER NOT NULL DEFAULT 0,
	started_at   DATETIME,
	completed_at DATETIME,
	last_error   TEXT,
	PRIMARY KEY (execution_id, name)
);

CREATE TABLE IF NOT EXISTS pipeline_items (
	execution_id    TEXT NOT NULL,
	phase           TEXT NOT NULL,
	item_id         TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	attempts        INTEGER NOT NULL DEFAULT 0,
	last_attempt_at DATETIME,
	last_error      TEXT,
	error_category  TEXT,
	payload         TEXT,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (execution_id, phase, item_id)
);

CREATE INDEX IF NOT EXISTS idx_pipeline_items_status ON pipeline_items(execution_id, phase, status);

CREATE TABLE IF NOT EXISTS job_queue (
	id               TEXT PRIMARY KEY,
	queue            TEXT NOT NULL,
	type             TEXT NOT NULL,
	payload          TEXT,
	priority         INTEGER NOT NULL DEFAULT 0,
	status           TEXT NOT NULL DEFAULT 'pending',
	attempts         INTEGER NOT NULL DEFAULT 0,
	max_attempts     INTEGER NOT NULL DEFAULT 3,
	lease_owner      TEXT,
	lease_expires_at DATETIME,
	scheduled_for    DATETIME NOT NULL DEFAULT (datetime('now')),
	last_error       TEXT,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_job_queue_claim ON job_queue(queue, status, scheduled_for);

CREATE TABLE IF NOT EXISTS circuit_breakers (
	service               TEXT PRIMARY KEY,
	state                 TEXT NOT NULL,
	consecutive_failures  INTEGER NOT NULL DEFAULT 0,
	consecutive_successes INTEGER NOT NULL DEFAULT 0,
	failure_threshold     INTEGER NOT NULL,
	success_threshold     INTEGER NOT NULL,
	reset_timeout_secs    INTEGER NOT NULL,
	last_failure_at       DATETIME,
	last_success_at       DATETIME,
	updated_at            DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS phase_checkpoints (
	execution_id TEXT NOT NULL,
	phase        TEXT NOT NULL,
	processed    INTEGER NOT NULL DEFAULT 0,
	total        INTEGER NOT NULL DEFAULT 0,
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (execution_id, phase)
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateExecution(ctx context.Context, trigger model.TriggerMode, phases []model.PhaseName) (*model.Execution, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	phasesJSON, err := json.Marshal(phases)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal phases")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin create execution")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO pipeline_executions (id, trigger_mode, status, phases, started_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, string(trigger), string(model.ExecutionPending), string(phasesJSON), now, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert execution")
	}

	for _, p := range phases {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO pipeline_phases (execution_id, name, status) VALUES (?, ?, ?)`,
			id, string(p), string(model.PhasePending),
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert phase %s", p)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit create execution")
	}

	return &model.Execution{
		ID:          id,
		TriggerMode: trigger,
		Status:      model.ExecutionPending,
		Phases:      phases,
		StartedAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*model.Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM pipeline_executions WHERE id = ?`,
		id,
	)
	e, err := scanExecutionLite(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get execution %s", id)
	}
	return e, nil
}

func (s *SQLiteStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]model.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM pipeline_executions WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list executions")
	}
	defer rows.Close()

	var execs []model.Execution
	for rows.Next() {
		e, err := scanExecutionLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan execution")
		}
		execs = append(execs, *e)
	}
	return execs, eris.Wrap(rows.Err(), "sqlite: list executions iterate")
}

func (s *SQLiteStore) UpdateExecutionStatus(ctx context.Context, id string, status model.ExecutionStatus, endedAt *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_executions SET status = ?, ended_at = COALESCE(?, ended_at), updated_at = ?
		 WHERE id = ? AND status IN ('pending', 'running')`,
		string(status), endedAt, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update execution status %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("execution not found or already terminal: %s", id)
	}
	return nil
}

func (s *SQLiteStore) AppendExecutionError(ctx context.Context, id string, execErr model.ExecError) error {
	errJSON, err := json.Marshal(execErr)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal execution error")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_executions SET
		   errors = CASE WHEN json_array_length(COALESCE(errors, '[]')) < ?
		                 THEN json_insert(COALESCE(errors, '[]'), '$[#]', json(?))
		                 ELSE errors END,
		   errors_total = errors_total + 1,
		   updated_at = ?
		 WHERE id = ?`,
		model.MaxExecErrors, string(errJSON), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: append execution error %s", id)
	}
	return checkRowsAffected(res, "execution", id)
}

func (s *SQLiteStore) SetPhaseCounters(ctx context.Context, id string, phase model.PhaseName, counters model.PhaseCounters) error {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal counters")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_executions SET counters = json_set(COALESCE(counters, '{}'), '$.' || ?, json(?)), updated_at = ? WHERE id = ?`,
		string(phase), string(countersJSON), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set phase counters %s", id)
	}
	return checkRowsAffected(res, "execution", id)
}

func (s *SQLiteStore) IncrementRecoveries(ctx context.Context, id string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_executions SET recoveries = recoveries + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: increment recoveries %s", id)
	}
	if err := checkRowsAffected(res, "execution", id); err != nil {
		return 0, err
	}

	var recoveries int
	err = s.db.QueryRowContext(ctx,
		`SELECT recoveries FROM pipeline_executions WHERE id = ?`, id,
	).Scan(&recoveries)
	return recoveries, eris.Wrap(err, "sqlite: read recoveries")
}

func (s *SQLiteStore) UpsertPhase(ctx context.Context, phase model.PhaseState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_phases (execution_id, name, status, attempts, started_at, completed_at, last_error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (execution_id, name) DO UPDATE SET
		   status = excluded.status, attempts = excluded.attempts,
		   started_at = excluded.started_at, completed_at = excluded.completed_at,
		   last_error = excluded.last_error`,
		phase.ExecutionID, string(phase.Name), string(phase.Status),
		phase.Attempts, phase.StartedAt, phase.CompletedAt, nullable(phase.LastError),
	)
	return eris.Wrapf(err, "sqlite: upsert phase %s/%s", phase.ExecutionID, phase.Name)
}

func (s *SQLiteStore) GetPhase(ctx context.Context, executionID string, name model.PhaseName) (*model.PhaseState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT execution_id, name, status, attempts, started_at, completed_at, last_error
		 FROM pipeline_phases WHERE execution_id = ? AND name = ?`,
		executionID, string(name),
	)
	p, err := scanPhaseLite(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get phase %s/%s", executionID, name)
	}
	return p, nil
}

func (s *SQLiteStore) ListPhases(ctx context.Context, executionID string) ([]model.PhaseState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT execution_id, name, status, attempts, started_at, completed_at, last_error
		 FROM pipeline_phases WHERE execution_id = ?`,
		executionID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list phases")
	}
	defer rows.Close()

	var phases []model.PhaseState
	for rows.Next() {
		p, err := scanPhaseLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan phase")
		}
		phases = append(phases, *p)
	}
	return phases, eris.Wrap(rows.Err(), "sqlite: list phases iterate")
}

func (s *SQLiteStore) EnsureItems(ctx context.Context, items []model.Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin ensure items")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	inserted := 0
	for _, it := range items {
		status := it.Status
		if status == "" {
			status = model.ItemPending
		}
		var payload *string
		if len(it.Payload) > 0 {
			p := string(it.Payload)
			payload = &p
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO pipeline_items (execution_id, phase, item_id, status, attempts, payload, created_at, updated_at)
			 VALUES (?, ?, ?, ?, 0, ?, ?, ?)`,
			it.ExecutionID, string(it.Phase), it.ItemID, string(status), payload, now, now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: ensure item %s", it.ItemID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "rows affected")
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit ensure items")
	}
	return inserted, nil
}

func (s *SQLiteStore) RecordItem(ctx context.Context, item model.Item) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_items SET status = ?, attempts = ?, last_attempt_at = ?, last_error = ?, error_category = ?, updated_at = ?
		 WHERE execution_id = ? AND phase = ? AND item_id = ? AND status NOT IN ('completed', 'skipped')`,
		string(item.Status), item.Attempts, item.LastAttemptAt,
		nullable(item.LastError), nullable(item.ErrorCategory), time.Now().UTC(),
		item.ExecutionID, string(item.Phase), item.ItemID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record item %s/%s/%s", item.ExecutionID, item.Phase, item.ItemID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		// Terminal items absorb duplicate deliveries; a missing row is a bug.
		var one int
		err := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM pipeline_items WHERE execution_id = ? AND phase = ? AND item_id = ?`,
			item.ExecutionID, string(item.Phase), item.ItemID,
		).Scan(&one)
		if err == sql.ErrNoRows {
			return eris.Errorf("item not found: %s/%s/%s", item.ExecutionID, item.Phase, item.ItemID)
		}
		return eris.Wrap(err, "sqlite: check item")
	}
	return nil
}

func (s *SQLiteStore) ListItems(ctx context.Context, executionID string, phase model.PhaseName, statuses ...model.ItemStatus) ([]model.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM pipeline_items WHERE execution_id = ? AND phase = ?`
	args := []any{executionID, string(phase)}

	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += ` AND status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY item_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list items")
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		it, err := scanItemLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan item")
		}
		items = append(items, *it)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: list items iterate")
}

func (s *SQLiteStore) PhaseProgress(ctx context.Context, executionID string, phase model.PhaseName) (model.Progress, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM pipeline_items WHERE execution_id = ? AND phase = ? GROUP BY status`,
		executionID, string(phase),
	)
	if err != nil {
		return model.Progress{}, eris.Wrap(err, "sqlite: phase progress")
	}
	defer rows.Close()

	var p model.Progress
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return model.Progress{}, eris.Wrap(err, "sqlite: scan progress")
		}
		tallyProgress(&p, model.ItemStatus(status), count)
	}
	return p, eris.Wrap(rows.Err(), "sqlite: phase progress iterate")
}

func (s *SQLiteStore) CompletedCount(ctx context.Context, executionID string, phase model.PhaseName) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pipeline_items WHERE execution_id = ? AND phase = ? AND status = 'completed'`,
		executionID, string(phase),
	).Scan(&count)
	return count, eris.Wrap(err, "sqlite: completed count")
}

func (s *SQLiteStore) RequeueInFlightItems(ctx context.Context, executionID string, phase model.PhaseName) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_items SET status = 'pending', updated_at = ?
		 WHERE execution_id = ? AND phase = ? AND status IN ('queued', 'processing')`,
		time.Now().UTC(), executionID, string(phase),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: requeue in-flight items")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "rows affected")
}

func (s *SQLiteStore) LastItemWrite(ctx context.Context, executionID string) (*time.Time, error) {
	// MAX(updated_at) would strip the column's DATETIME decltype and come
	// back as raw text, so select the newest row instead.
	var last time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT updated_at FROM pipeline_items WHERE execution_id = ?
		 ORDER BY updated_at DESC LIMIT 1`,
		executionID,
	).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: last item write")
	}
	return &last, nil
}

func (s *SQLiteStore) EnqueueJob(ctx context.Context, job model.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	scheduledFor := job.ScheduledFor
	if scheduledFor.IsZero() {
		scheduledFor = now
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 3
	}
	var payload *string
	if len(job.Payload) > 0 {
		p := string(job.Payload)
		payload = &p
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO job_queue (id, queue, type, payload, priority, status, attempts, max_attempts, scheduled_for, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Queue, job.Type, payload, job.Priority, job.MaxAttempts, scheduledFor, now, now,
	)
	return eris.Wrapf(err, "sqlite: enqueue job %s", job.ID)
}

const jobColumns = `id, queue, type, payload, priority, status, attempts, max_attempts, lease_owner, lease_expires_at, scheduled_for, last_error, created_at, updated_at`

func (s *SQLiteStore) LeaseJob(ctx context.Context, queue, owner string, lease time.Duration) (*model.Job, error) {
	// No SELECT FOR UPDATE in SQLite; claim with a compare-and-swap on the
	// attempts counter and retry when another worker wins the race.
	for try := 0; try < 3; try++ {
		now := time.Now().UTC()

		var id string
		var attempts int
		err := s.db.QueryRowContext(ctx,
			`SELECT id, attempts FROM job_queue
			 WHERE queue = ?
			   AND ((status = 'pending' AND scheduled_for <= ?)
			     OR (status = 'processing' AND lease_expires_at <= ?))
			 ORDER BY priority DESC, created_at
			 LIMIT 1`,
			queue, now, now,
		).Scan(&id, &attempts)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: select leasable job from %s", queue)
		}

		res, err := s.db.ExecContext(ctx,
			`UPDATE job_queue SET status = 'processing', lease_owner = ?, lease_expires_at = ?, attempts = attempts + 1, updated_at = ?
			 WHERE id = ? AND attempts = ?`,
			owner, now.Add(lease), now, id, attempts,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: claim job %s", id)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, eris.Wrap(err, "rows affected")
		}
		if n == 0 {
			continue // lost the race, try the next candidate
		}

		row := s.db.QueryRowContext(ctx,
			`SELECT `+jobColumns+` FROM job_queue WHERE id = ?`, id,
		)
		j, err := scanJobLite(row)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: read leased job %s", id)
		}
		return j, nil
	}
	return nil, nil
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, id, owner string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_queue SET status = 'completed', lease_owner = NULL, lease_expires_at = NULL, updated_at = ?
		 WHERE id = ? AND lease_owner = ? AND status = 'processing'`,
		time.Now().UTC(), id, owner,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("job lease not held: %s", id)
	}
	return nil
}

func (s *SQLiteStore) FailJob(ctx context.Context, id, owner, lastErr string, retryDelay time.Duration) (*model.Job, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_queue SET
		   status = CASE WHEN attempts >= max_attempts THEN 'dead_letter' ELSE 'pending' END,
		   lease_owner = NULL,
		   lease_expires_at = NULL,
		   scheduled_for = CASE WHEN attempts >= max_attempts THEN scheduled_for ELSE ? END,
		   last_error = ?,
		   updated_at = ?
		 WHERE id = ? AND lease_owner = ? AND status = 'processing'`,
		now.Add(retryDelay), lastErr, now, id, owner,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: fail job %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return nil, eris.Errorf("job lease not held: %s", id)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM job_queue WHERE id = ?`, id)
	j, err := scanJobLite(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: read failed job %s", id)
	}
	return j, nil
}

func (s *SQLiteStore) QueueStats(ctx context.Context, queue string) (map[model.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM job_queue WHERE queue = ? GROUP BY status`,
		queue,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: queue stats")
	}
	defer rows.Close()

	stats := make(map[model.JobStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan queue stats")
		}
		stats[model.JobStatus(status)] = count
	}
	return stats, eris.Wrap(rows.Err(), "sqlite: queue stats iterate")
}

func (s *SQLiteStore) ListDeadLetters(ctx context.Context, queue string, limit int) ([]model.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM job_queue WHERE queue = ? AND status = 'dead_letter'
		 ORDER BY updated_at DESC LIMIT ?`,
		queue, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dead letters")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJobLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dead letter")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list dead letters iterate")
}

func (s *SQLiteStore) PurgeQueue(ctx context.Context, queue string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM job_queue WHERE queue = ?`, queue)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: purge queue")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "rows affected")
}

func (s *SQLiteStore) SaveBreaker(ctx context.Context, rec model.BreakerRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO circuit_breakers (service, state, consecutive_failures, consecutive_successes, failure_threshold, success_threshold, reset_timeout_secs, last_failure_at, last_success_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (service) DO UPDATE SET
		   state = excluded.state, consecutive_failures = excluded.consecutive_failures,
		   consecutive_successes = excluded.consecutive_successes,
		   failure_threshold = excluded.failure_threshold, success_threshold = excluded.success_threshold,
		   reset_timeout_secs = excluded.reset_timeout_secs,
		   last_failure_at = excluded.last_failure_at, last_success_at = excluded.last_success_at,
		   updated_at = excluded.updated_at`,
		rec.Service, rec.State, rec.ConsecutiveFailures, rec.ConsecutiveSuccesses,
		rec.FailureThreshold, rec.SuccessThreshold, rec.ResetTimeoutSecs,
		rec.LastFailureAt, rec.LastSuccessAt, rec.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: save breaker %s", rec.Service)
}

func (s *SQLiteStore) ListBreakers(ctx context.Context) ([]model.BreakerRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT service, state, consecutive_failures, consecutive_successes, failure_threshold, success_threshold, reset_timeout_secs, last_failure_at, last_success_at, updated_at
		 FROM circuit_breakers ORDER BY service`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list breakers")
	}
	defer rows.Close()

	var recs []model.BreakerRecord
	for rows.Next() {
		var r model.BreakerRecord
		if err := rows.Scan(&r.Service, &r.State, &r.ConsecutiveFailures, &r.ConsecutiveSuccesses,
			&r.FailureThreshold, &r.SuccessThreshold, &r.ResetTimeoutSecs,
			&r.LastFailureAt, &r.LastSuccessAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan breaker")
		}
		recs = append(recs, r)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: list breakers iterate")
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	updatedAt := cp.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO phase_checkpoints (execution_id, phase, processed, total, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (execution_id, phase) DO UPDATE SET
		   processed = excluded.processed, total = excluded.total, updated_at = excluded.updated_at`,
		cp.ExecutionID, string(cp.Phase), cp.Processed, cp.Total, updatedAt,
	)
	return eris.Wrapf(err, "sqlite: save checkpoint %s/%s", cp.ExecutionID, cp.Phase)
}

func (s *SQLiteStore) ListCheckpoints(ctx context.Context, executionID string) ([]model.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT execution_id, phase, processed, total, updated_at FROM phase_checkpoints WHERE execution_id = ?`,
		executionID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list checkpoints")
	}
	defer rows.Close()

	var cps []model.Checkpoint
	for rows.Next() {
		var cp model.Checkpoint
		if err := rows.Scan(&cp.ExecutionID, &cp.Phase, &cp.Processed, &cp.Total, &cp.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan checkpoint")
		}
		cps = append(cps, cp)
	}
	return cps, eris.Wrap(rows.Err(), "sqlite: list checkpoints iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanExecutionLite(row scannable) (*model.Execution, error) {
	var e model.Execution
	var phasesJSON string
	var countersJSON, errorsJSON sql.NullString

	err := row.Scan(&e.ID, &e.TriggerMode, &e.Status, &phasesJSON, &countersJSON, &errorsJSON,
		&e.ErrorsTotal, &e.Recoveries, &e.StartedAt, &e.EndedAt, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("execution not found")
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(phasesJSON), &e.Phases); err != nil {
		return nil, eris.Wrap(err, "unmarshal phases")
	}
	if countersJSON.Valid {
		if err := json.Unmarshal([]byte(countersJSON.String), &e.Counters); err != nil {
			return nil, eris.Wrap(err, "unmarshal counters")
		}
	}
	if errorsJSON.Valid {
		if err := json.Unmarshal([]byte(errorsJSON.String), &e.Errors); err != nil {
			return nil, eris.Wrap(err, "unmarshal errors")
		}
	}
	return &e, nil
}

func scanPhaseLite(row scannable) (*model.PhaseState, error) {
	var p model.PhaseState
	var lastErr sql.NullString
	err := row.Scan(&p.ExecutionID, &p.Name, &p.Status, &p.Attempts, &p.StartedAt, &p.CompletedAt, &lastErr)
	if err == sql.ErrNoRows {
		return nil, eris.New("phase not found")
	}
	if err != nil {
		return nil, err
	}
	if lastErr.Valid {
		p.LastError = lastErr.String
	}
	return &p, nil
}

func scanItemLite(row scannable) (*model.Item, error) {
	var it model.Item
	var lastErr, category, payload sql.NullString
	err := row.Scan(&it.ExecutionID, &it.Phase, &it.ItemID, &it.Status, &it.Attempts,
		&it.LastAttemptAt, &lastErr, &category, &payload, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastErr.Valid {
		it.LastError = lastErr.String
	}
	if category.Valid {
		it.ErrorCategory = category.String
	}
	if payload.Valid {
		it.Payload = json.RawMessage(payload.String)
	}
	return &it, nil
}

func scanJobLite(row scannable) (*model.Job, error) {
	var j model.Job
	var leaseOwner, lastErr, payload sql.NullString
	err := row.Scan(&j.ID, &j.Queue, &j.Type, &payload, &j.Priority, &j.Status, &j.Attempts,
		&j.MaxAttempts, &leaseOwner, &j.LeaseExpiresAt, &j.ScheduledFor, &lastErr, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if leaseOwner.Valid {
		j.LeaseOwner = leaseOwner.String
	}
	if lastErr.Valid {
		j.LastError = lastErr.String
	}
	if payload.Valid {
		j.Payload = json.RawMessage(payload.String)
	}
	return &j, nil
}
