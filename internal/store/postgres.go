package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/db"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	sqlRecordItem = `UPDATE pipeline_items SET status = $4, attempts = $5, last_attempt_at = $6, last_error = $7, error_category = $8, updated_at = now() WHERE execution_id = $1 AND phase = $2 AND item_id = $3 AND status NOT IN ('completed', 'skipped')`

	sqlLeaseJob = `UPDATE job_queue SET status = 'processing', lease_owner = $2, lease_expires_at = $3, attempts = attempts + 1, updated_at = now()
	 WHERE id = (
	   SELECT id FROM job_queue
	   WHERE queue = $1
	     AND ((status = 'pending' AND scheduled_for <= now())
	       OR (status = 'processing' AND lease_expires_at <= now()))
	   ORDER BY priority DESC, created_at
	   LIMIT 1
	   FOR UPDATE SKIP LOCKED
	 )
	 RETURNING id, queue, type, payload, priority, status, attempts, max_attempts, lease_owner, lease_expires_at, scheduled_for, last_error, created_at, updated_at`

	sqlCompleteJob = `UPDATE job_queue SET status = 'completed', lease_owner = NULL, lease_expires_at = NULL, updated_at = now() WHERE id = $1 AND lease_owner = $2 AND status = 'processing'`

	sqlPhaseProgress = `SELECT status, COUNT(*) FROM pipeline_items WHERE execution_id = $1 AND phase = $2 GROUP BY status`

	sqlCompletedCount = `SELECT COUNT(*) FROM pipeline_items WHERE execution_id = $1 AND phase = $2 AND status = 'completed'`

	sqlSaveCheckpoint = `INSERT INTO phase_checkpoints (execution_id, phase, processed, total, updated_at) VALUES ($1, $2, $3, $4, $5)
	 ON CONFLICT (execution_id, phase) DO UPDATE SET processed = $3, total = $4, updated_at = $5`
)

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot-path store operations.
var preparedStatements = map[string]string{
	"record_item":     sqlRecordItem,
	"lease_job":       sqlLeaseJob,
	"complete_job":    sqlCompleteJob,
	"phase_progress":  sqlPhaseProgress,
	"completed_count": sqlCompletedCount,
	"save_checkpoint": sqlSaveCheckpoint,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare hot-path statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS pipeline_executions (
	id           TEXT PRIMARY KEY,
	trigger_mode TEXT NOT NULL DEFAULT 'manual',
	status       TEXT NOT NULL DEFAULT 'pending',
	phases       JSONB NOT NULL,
	counters     JSONB,
	errors       JSONB,
	errors_total INTEGER NOT NULL DEFAULT 0,
	recoveries   INTEGER NOT NULL DEFAULT 0,
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	ended_at     TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_pipeline_executions_status ON pipeline_executions(status);
CREATE INDEX IF NOT EXISTS idx_pipeline_executions_created ON pipeline_executions(created_at DESC);

CREATE TABLE IF NOT EXISTS pipeline_phases (
	execution_id TEXT NOT NULL REFERENCES pipeline_executions(id),
	name         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	attempts     INTEGER NOT NULL DEFAULT 0,
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	last_error   TEXT,
	PRIMARY KEY (execution_id, name)
);

CREATE TABLE IF NOT EXISTS pipeline_items (
	execution_id    TEXT NOT NULL,
	phase           TEXT NOT NULL,
	item_id         TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	attempts        INTEGER NOT NULL DEFAULT 0,
	last_attempt_at TIMESTAMPTZ,
	last_error      TEXT,
	error_category  TEXT,
	payload         JSONB,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (execution_id, phase, item_id)
);

CREATE INDEX IF NOT EXISTS idx_pipeline_items_status ON pipeline_items(execution_id, phase, status);
CREATE INDEX IF NOT EXISTS idx_pipeline_items_updated ON pipeline_items(execution_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS job_queue (
	id               TEXT PRIMARY KEY,
	queue            TEXT NOT NULL,
	type             TEXT NOT NULL,
	payload          JSONB,
	priority         INTEGER NOT NULL DEFAULT 0,
	status           TEXT NOT NULL DEFAULT 'pending',
	attempts         INTEGER NOT NULL DEFAULT 0,
	max_attempts     INTEGER NOT NULL DEFAULT 3,
	lease_owner      TEXT,
	lease_expires_at TIMESTAMPTZ,
	scheduled_for    TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_error       TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_job_queue_claim ON job_queue(queue, status, scheduled_for, priority DESC);
CREATE INDEX IF NOT EXISTS idx_job_queue_lease ON job_queue(queue, lease_expires_at);

CREATE TABLE IF NOT EXISTS circuit_breakers (
	service               TEXT PRIMARY KEY,
	state                 TEXT NOT NULL,
	consecutive_failures  INTEGER NOT NULL DEFAULT 0,
	consecutive_successes INTEGER NOT NULL DEFAULT 0,
	failure_threshold     INTEGER NOT NULL,
	success_threshold     INTEGER NOT NULL,
	reset_timeout_secs    INTEGER NOT NULL,
	last_failure_at       TIMESTAMPTZ,
	last_success_at       TIMESTAMPTZ,
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS phase_checkpoints (
	execution_id TEXT NOT NULL,
	phase        TEXT NOT NULL,
	processed    INTEGER NOT NULL DEFAULT 0,
	total        INTEGER NOT NULL DEFAULT 0,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (execution_id, phase)
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateExecution(ctx context.Context, trigger model.TriggerMode, phases []model.PhaseName) (*model.Execution, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	phasesJSON, err := json.Marshal(phases)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal phases")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin create execution")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO pipeline_executions (id, trigger_mode, status, phases, started_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5, $5)`,
		id, string(trigger), string(model.ExecutionPending), phasesJSON, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert execution")
	}

	for _, p := range phases {
		_, err = tx.Exec(ctx,
			`INSERT INTO pipeline_phases (execution_id, name, status) VALUES ($1, $2, $3)`,
			id, string(p), string(model.PhasePending),
		)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: insert phase %s", p)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit create execution")
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

const executionColumns = `id, trigger_mode, status, phases, counters, errors, errors_total, recoveries, started_at, ended_at, created_at, updated_at`

func (s *PostgresStore) GetExecution(ctx context.Context, id string) (*model.Execution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM pipeline_executions WHERE id = $1`,
		id,
	)
	e, err := scanExecution(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get execution %s", id)
	}
	return e, nil
}

func (s *PostgresStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]model.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM pipeline_executions WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list executions")
	}
	defer rows.Close()

	var execs []model.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan execution")
		}
		execs = append(execs, *e)
	}
	return execs, eris.Wrap(rows.Err(), "postgres: list executions iterate")
}

func (s *PostgresStore) UpdateExecutionStatus(ctx context.Context, id string, status model.ExecutionStatus, endedAt *time.Time) error {
	// Terminal executions are immutable; the status guard makes a late writer
	// a detectable no-op instead of a corruption.
	tag, err := s.pool.Exec(ctx,
		`UPDATE pipeline_executions SET status = $2, ended_at = COALESCE($3, ended_at), updated_at = now()
		 WHERE id = $1 AND status IN ('pending', 'running')`,
		id, string(status), endedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update execution status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("execution not found or already terminal: %s", id)
	}
	return nil
}

func (s *PostgresStore) AppendExecutionError(ctx context.Context, id string, execErr model.ExecError) error {
	errJSON, err := json.Marshal(execErr)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal execution error")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE pipeline_executions SET
		   errors = CASE WHEN jsonb_array_length(COALESCE(errors, '[]'::jsonb)) < $2
		                 THEN COALESCE(errors, '[]'::jsonb) || $3::jsonb
		                 ELSE errors END,
		   errors_total = errors_total + 1,
		   updated_at = now()
		 WHERE id = $1`,
		id, model.MaxExecErrors, errJSON,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: append execution error %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("execution not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) SetPhaseCounters(ctx context.Context, id string, phase model.PhaseName, counters model.PhaseCounters) error {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal counters")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE pipeline_executions SET counters = jsonb_set(COALESCE(counters, '{}'::jsonb), ARRAY[$2::text], $3::jsonb), updated_at = now() WHERE id = $1`,
		id, string(phase), countersJSON,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set phase counters %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("execution not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) IncrementRecoveries(ctx context.Context, id string) (int, error) {
	var recoveries int
	err := s.pool.QueryRow(ctx,
		`UPDATE pipeline_executions SET recoveries = recoveries + 1, updated_at = now() WHERE id = $1 RETURNING recoveries`,
		id,
	).Scan(&recoveries)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, eris.Errorf("execution not found: %s", id)
		}
		return 0, eris.Wrapf(err, "postgres: increment recoveries %s", id)
	}
	return recoveries, nil
}

func (s *PostgresStore) UpsertPhase(ctx context.Context, phase model.PhaseState) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pipeline_phases (execution_id, name, status, attempts, started_at, completed_at, last_error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (execution_id, name) DO UPDATE SET
		   status = $3, attempts = $4, started_at = $5, completed_at = $6, last_error = $7`,
		phase.ExecutionID, string(phase.Name), string(phase.Status),
		phase.Attempts, phase.StartedAt, phase.CompletedAt, nullable(phase.LastError),
	)
	return eris.Wrapf(err, "postgres: upsert phase %s/%s", phase.ExecutionID, phase.Name)
}

func (s *PostgresStore) GetPhase(ctx context.Context, executionID string, name model.PhaseName) (*model.PhaseState, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT execution_id, name, status, attempts, started_at, completed_at, last_error
		 FROM pipeline_phases WHERE execution_id = $1 AND name = $2`,
		executionID, string(name),
	)
	p, err := scanPhase(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get phase %s/%s", executionID, name)
	}
	return p, nil
}

func (s *PostgresStore) ListPhases(ctx context.Context, executionID string) ([]model.PhaseState, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT execution_id, name, status, attempts, started_at, completed_at, last_error
		 FROM pipeline_phases WHERE execution_id = $1`,
		executionID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list phases")
	}
	defer rows.Close()

	var phases []model.PhaseState
	for rows.Next() {
		p, err := scanPhase(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan phase")
		}
		phases = append(phases, *p)
	}
	return phases, eris.Wrap(rows.Err(), "postgres: list phases iterate")
}

func (s *PostgresStore) EnsureItems(ctx context.Context, items []model.Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(items))
	for _, it := range items {
		status := it.Status
		if status == "" {
			status = model.ItemPending
		}
		var payload any
		if len(it.Payload) > 0 {
			payload = []byte(it.Payload)
		}
		rows = append(rows, []any{
			it.ExecutionID, string(it.Phase), it.ItemID, string(status), 0, payload, now, now,
		})
	}

	n, err := db.BulkInsertIgnore(ctx, s.pool, db.InsertConfig{
		Table:        "pipeline_items",
		Columns:      []string{"execution_id", "phase", "item_id", "status", "attempts", "payload", "created_at", "updated_at"},
		ConflictKeys: []string{"execution_id", "phase", "item_id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: ensure items")
	}
	return int(n), nil
}

func (s *PostgresStore) RecordItem(ctx context.Context, item model.Item) error {
	tag, err := s.pool.Exec(ctx, sqlRecordItem,
		item.ExecutionID, string(item.Phase), item.ItemID,
		string(item.Status), item.Attempts, item.LastAttemptAt,
		nullable(item.LastError), nullable(item.ErrorCategory),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: record item %s/%s/%s", item.ExecutionID, item.Phase, item.ItemID)
	}
	if tag.RowsAffected() == 0 {
		// Either the item does not exist or it already reached a terminal
		// state. The latter is a legitimate duplicate delivery and a no-op.
		var one int
		err := s.pool.QueryRow(ctx,
			`SELECT 1 FROM pipeline_items WHERE execution_id = $1 AND phase = $2 AND item_id = $3`,
			item.ExecutionID, string(item.Phase), item.ItemID,
		).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Errorf("item not found: %s/%s/%s", item.ExecutionID, item.Phase, item.ItemID)
		}
		return eris.Wrap(err, "postgres: check item")
	}
	return nil
}

const itemColumns = `execution_id, phase, item_id, status, attempts, last_attempt_at, last_error, error_category, payload, created_at, updated_at`

func (s *PostgresStore) ListItems(ctx context.Context, executionID string, phase model.PhaseName, statuses ...model.ItemStatus) ([]model.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM pipeline_items WHERE execution_id = $1 AND phase = $2`
	args := []any{executionID, string(phase)}

	if len(statuses) > 0 {
		strs := make([]string, len(statuses))
		for i, st := range statuses {
			strs[i] = string(st)
		}
		query += ` AND status = ANY($3)`
		args = append(args, strs)
	}
	query += ` ORDER BY item_id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list items")
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan item")
		}
		items = append(items, *it)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list items iterate")
}

func (s *PostgresStore) PhaseProgress(ctx context.Context, executionID string, phase model.PhaseName) (model.Progress, error) {
	rows, err := s.pool.Query(ctx, sqlPhaseProgress, executionID, string(phase))
	if err != nil {
		return model.Progress{}, eris.Wrap(err, "postgres: phase progress")
	}
	defer rows.Close()

	var p model.Progress
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return model.Progress{}, eris.Wrap(err, "postgres: scan progress")
		}
		tallyProgress(&p, model.ItemStatus(status), count)
	}
	return p, eris.Wrap(rows.Err(), "postgres: phase progress iterate")
}

func (s *PostgresStore) CompletedCount(ctx context.Context, executionID string, phase model.PhaseName) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, sqlCompletedCount, executionID, string(phase)).Scan(&count)
	return count, eris.Wrap(err, "postgres: completed count")
}

func (s *PostgresStore) RequeueInFlightItems(ctx context.Context, executionID string, phase model.PhaseName) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pipeline_items SET status = 'pending', updated_at = now()
		 WHERE execution_id = $1 AND phase = $2 AND status IN ('queued', 'processing')`,
		executionID, string(phase),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: requeue in-flight items")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) LastItemWrite(ctx context.Context, executionID string) (*time.Time, error) {
	var last *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(updated_at) FROM pipeline_items WHERE execution_id = $1`,
		executionID,
	).Scan(&last)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: last item write")
	}
	return last, nil
}

func (s *PostgresStore) EnqueueJob(ctx context.Context, job model.Job) error {
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
	var payload any
	if len(job.Payload) > 0 {
		payload = []byte(job.Payload)
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_queue (id, queue, type, payload, priority, status, attempts, max_attempts, scheduled_for, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 'pending', 0, $6, $7, $8, $8)
		 ON CONFLICT (id) DO NOTHING`,
		job.ID, job.Queue, job.Type, payload, job.Priority, job.MaxAttempts, scheduledFor, now,
	)
	return eris.Wrapf(err, "postgres: enqueue job %s", job.ID)
}

func (s *PostgresStore) LeaseJob(ctx context.Context, queue, owner string, lease time.Duration) (*model.Job, error) {
	expiresAt := time.Now().UTC().Add(lease)
	row := s.pool.QueryRow(ctx, sqlLeaseJob, queue, owner, expiresAt)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: lease job from %s", queue)
	}
	return j, nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id, owner string) error {
	tag, err := s.pool.Exec(ctx, sqlCompleteJob, id, owner)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job lease not held: %s", id)
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, id, owner, lastErr string, retryDelay time.Duration) (*model.Job, error) {
	nextAt := time.Now().UTC().Add(retryDelay)
	row := s.pool.QueryRow(ctx,
		`UPDATE job_queue SET
		   status = CASE WHEN attempts >= max_attempts THEN 'dead_letter' ELSE 'pending' END,
		   lease_owner = NULL,
		   lease_expires_at = NULL,
		   scheduled_for = CASE WHEN attempts >= max_attempts THEN scheduled_for ELSE $4 END,
		   last_error = $3,
		   updated_at = now()
		 WHERE id = $1 AND lease_owner = $2 AND status = 'processing'
		 RETURNING id, queue, type, payload, priority, status, attempts, max_attempts, lease_owner, lease_expires_at, scheduled_for, last_error, created_at, updated_at`,
		id, owner, lastErr, nextAt,
	)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("job lease not held: %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: fail job %s", id)
	}
	return j, nil
}

func (s *PostgresStore) QueueStats(ctx context.Context, queue string) (map[model.JobStatus]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM job_queue WHERE queue = $1 GROUP BY status`,
		queue,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: queue stats")
	}
	defer rows.Close()

	stats := make(map[model.JobStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan queue stats")
		}
		stats[model.JobStatus(status)] = count
	}
	return stats, eris.Wrap(rows.Err(), "postgres: queue stats iterate")
}

func (s *PostgresStore) ListDeadLetters(ctx context.Context, queue string, limit int) ([]model.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, queue, type, payload, priority, status, attempts, max_attempts, lease_owner, lease_expires_at, scheduled_for, last_error, created_at, updated_at
		 FROM job_queue WHERE queue = $1 AND status = 'dead_letter'
		 ORDER BY updated_at DESC LIMIT $2`,
		queue, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dead letters")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan dead letter")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list dead letters iterate")
}

func (s *PostgresStore) PurgeQueue(ctx context.Context, queue string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM job_queue WHERE queue = $1`, queue)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: purge queue")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) SaveBreaker(ctx context.Context, rec model.BreakerRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO circuit_breakers (service, state, consecutive_failures, consecutive_successes, failure_threshold, success_threshold, reset_timeout_secs, last_failure_at, last_success_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (service) DO UPDATE SET
		   state = $2, consecutive_failures = $3, consecutive_successes = $4,
		   failure_threshold = $5, success_threshold = $6, reset_timeout_secs = $7,
		   last_failure_at = $8, last_success_at = $9, updated_at = $10`,
		rec.Service, rec.State, rec.ConsecutiveFailures, rec.ConsecutiveSuccesses,
		rec.FailureThreshold, rec.SuccessThreshold, rec.ResetTimeoutSecs,
		rec.LastFailureAt, rec.LastSuccessAt, rec.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: save breaker %s", rec.Service)
}

func (s *PostgresStore) ListBreakers(ctx context.Context) ([]model.BreakerRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT service, state, consecutive_failures, consecutive_successes, failure_threshold, success_threshold, reset_timeout_secs, last_failure_at, last_success_at, updated_at
		 FROM circuit_breakers ORDER BY service`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list breakers")
	}
	defer rows.Close()

	var recs []model.BreakerRecord
	for rows.Next() {
		var r model.BreakerRecord
		if err := rows.Scan(&r.Service, &r.State, &r.ConsecutiveFailures, &r.ConsecutiveSuccesses,
			&r.FailureThreshold, &r.SuccessThreshold, &r.ResetTimeoutSecs,
			&r.LastFailureAt, &r.LastSuccessAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan breaker")
		}
		recs = append(recs, r)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: list breakers iterate")
}

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	updatedAt := cp.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, sqlSaveCheckpoint,
		cp.ExecutionID, string(cp.Phase), cp.Processed, cp.Total, updatedAt,
	)
	return eris.Wrapf(err, "postgres: save checkpoint %s/%s", cp.ExecutionID, cp.Phase)
}

func (s *PostgresStore) ListCheckpoints(ctx context.Context, executionID string) ([]model.Checkpoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT execution_id, phase, processed, total, updated_at FROM phase_checkpoints WHERE execution_id = $1`,
		executionID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list checkpoints")
	}
	defer rows.Close()

	var cps []model.Checkpoint
	for rows.Next() {
		var cp model.Checkpoint
		if err := rows.Scan(&cp.ExecutionID, &cp.Phase, &cp.Processed, &cp.Total, &cp.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan checkpoint")
		}
		cps = append(cps, cp)
	}
	return cps, eris.Wrap(rows.Err(), "postgres: list checkpoints iterate")
}

// scan helpers shared by QueryRow and Query paths.

type pgScannable interface {
	Scan(dest ...any) error
}

func scanExecution(row pgScannable) (*model.Execution, error) {
	var e model.Execution
	var phasesJSON []byte
	var countersJSON, errorsJSON []byte

	err := row.Scan(&e.ID, &e.TriggerMode, &e.Status, &phasesJSON, &countersJSON, &errorsJSON,
		&e.ErrorsTotal, &e.Recoveries, &e.StartedAt, &e.EndedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(phasesJSON, &e.Phases); err != nil {
		return nil, eris.Wrap(err, "unmarshal phases")
	}
	if len(countersJSON) > 0 {
		if err := json.Unmarshal(countersJSON, &e.Counters); err != nil {
			return nil, eris.Wrap(err, "unmarshal counters")
		}
	}
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &e.Errors); err != nil {
			return nil, eris.Wrap(err, "unmarshal errors")
		}
	}
	return &e, nil
}

func scanPhase(row pgScannable) (*model.PhaseState, error) {
	var p model.PhaseState
	var lastErr *string
	err := row.Scan(&p.ExecutionID, &p.Name, &p.Status, &p.Attempts, &p.StartedAt, &p.CompletedAt, &lastErr)
	if err != nil {
		return nil, err
	}
	if lastErr != nil {
		p.LastError = *lastErr
	}
	return &p, nil
}

func scanItem(row pgScannable) (*model.Item, error) {
	var it model.Item
	var lastErr, category *string
	var payload []byte
	err := row.Scan(&it.ExecutionID, &it.Phase, &it.ItemID, &it.Status, &it.Attempts,
		&it.LastAttemptAt, &lastErr, &category, &payload, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastErr != nil {
		it.LastError = *lastErr
	}
	if category != nil {
		it.ErrorCategory = *category
	}
	if len(payload) > 0 {
		it.Payload = json.RawMessage(payload)
	}
	return &it, nil
}

func scanJob(row pgScannable) (*model.Job, error) {
	var j model.Job
	var leaseOwner, lastErr *string
	var payload []byte
	err := row.Scan(&j.ID, &j.Queue, &j.Type, &payload, &j.Priority, &j.Status, &j.Attempts,
		&j.MaxAttempts, &leaseOwner, &j.LeaseExpiresAt, &j.ScheduledFor, &lastErr, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if leaseOwner != nil {
		j.LeaseOwner = *leaseOwner
	}
	if lastErr != nil {
		j.LastError = *lastErr
	}
	if len(payload) > 0 {
		j.Payload = json.RawMessage(payload)
	}
	return &j, nil
}

func tallyProgress(p *model.Progress, status model.ItemStatus, count int) {
	p.Total += count
	switch status {
	case model.ItemPending:
		p.Pending += count
	case model.ItemQueued:
		p.Queued += count
	case model.ItemProcessing:
		p.Processing += count
	case model.ItemCompleted:
		p.Completed += count
	case model.ItemFailed:
		p.Failed += count
	case model.ItemSkipped:
		p.Skipped += count
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
