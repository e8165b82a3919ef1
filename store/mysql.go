package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/madmag77/wirl/graph"
)

// MySQLStore is the production, multi-process job-queue Store: true
// concurrent workers claim rows via SELECT ... FOR UPDATE SKIP LOCKED,
// the direct Go/MySQL translation of original_source's asyncpg
// claim_job query (apps/workers/workers/db.py), since MySQL 8 lacks
// UPDATE ... RETURNING (spec §4.1, §4.8).
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens (and migrates) a MySQL-backed job store. dsn
// follows github.com/go-sql-driver/mysql's DSN format.
func NewMySQLStore(ctx context.Context, dsn string) (*MySQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(32)
	db.SetConnMaxLifetime(time.Hour)

	s := &MySQLStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS workflow_runs (
	id             VARCHAR(36) PRIMARY KEY,
	graph_name     VARCHAR(255) NOT NULL,
	thread_id      VARCHAR(36) NOT NULL UNIQUE,
	state          VARCHAR(32) NOT NULL,
	attempt        INT NOT NULL DEFAULT 0,
	max_attempts   INT NOT NULL DEFAULT 3,
	worker_id      VARCHAR(255),
	started_at     DATETIME(6),
	heartbeat_at   DATETIME(6),
	finished_at    DATETIME(6),
	error          TEXT,
	inputs         JSON NOT NULL,
	resume_payload TEXT,
	result         JSON NOT NULL,
	created_at     DATETIME(6) NOT NULL,
	updated_at     DATETIME(6),
	INDEX idx_workflow_runs_state_id (state, id)
) ENGINE=InnoDB;
CREATE TABLE IF NOT EXISTS workflow_triggers (
	id            VARCHAR(36) PRIMARY KEY,
	name          VARCHAR(255) NOT NULL,
	template_name VARCHAR(255) NOT NULL,
	cron          VARCHAR(64) NOT NULL,
	timezone      VARCHAR(64) NOT NULL,
	inputs        JSON NOT NULL,
	is_active     TINYINT(1) NOT NULL DEFAULT 1,
	next_run_at   DATETIME(6),
	last_run_at   DATETIME(6),
	last_error    TEXT,
	created_at    DATETIME(6) NOT NULL,
	updated_at    DATETIME(6),
	INDEX idx_workflow_triggers_due (is_active, next_run_at)
) ENGINE=InnoDB;
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close releases the underlying connection pool.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

// ClaimNextQueued locks the queued row with the lowest id with FOR UPDATE
// SKIP LOCKED so concurrent workers never block on each other's claims
// (spec §4.1, §4.8).
func (s *MySQLStore) ClaimNextQueued(ctx context.Context, workerID string) (*Run, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", graph.ErrStoreUnavailable, err)
	}
	defer tx.Rollback() //nolint:errcheck

	var id string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM workflow_runs WHERE state = 'queued' ORDER BY id LIMIT 1 FOR UPDATE SKIP LOCKED`,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", graph.ErrStoreUnavailable, err)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE workflow_runs SET state = 'running', worker_id = ?, started_at = ?, heartbeat_at = ?, attempt = attempt + 1, updated_at = ?
		WHERE id = ?`,
		workerID, now, now, now, id,
	); err != nil {
		return nil, false, fmt.Errorf("claim next queued: %w", err)
	}

	row := tx.QueryRowContext(ctx, `SELECT `+runColumns+` FROM workflow_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		return nil, false, fmt.Errorf("read claimed run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("%w: %v", graph.ErrStoreUnavailable, err)
	}
	return run, true, nil
}

// SetFinalState conditionally updates a run's outcome (spec §4.1).
func (s *MySQLStore) SetFinalState(ctx context.Context, runID string, newState RunState, result map[string]any, errMsg *string) error {
	resultJSON, err := encodeJSONOrNil(result)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	isRunning := boolToInt(newState == StateRunning)
	isTerminal := boolToInt(newState == StateSucceeded || newState == StateFailed || newState == StateCanceled)

	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_runs
		SET state = ?,
		    heartbeat_at = CASE WHEN ? THEN ? ELSE heartbeat_at END,
		    finished_at = CASE WHEN ? THEN ? ELSE finished_at END,
		    error = ?,
		    result = COALESCE(?, result),
		    updated_at = ?
		WHERE id = ? AND state != 'canceled'`,
		string(newState), isRunning, now, isTerminal, now, errMsg, resultJSON, now, runID,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", graph.ErrStoreUnavailable, err)
	}
	return conflictIfNoRows(res)
}

// Continue transitions needs_input or failed back to queued (spec §4.2).
func (s *MySQLStore) Continue(ctx context.Context, runID string, resumeInputs map[string]any) error {
	var resumePayload *string
	if resumeInputs != nil {
		p, err := encodeResumePayload(resumeInputs)
		if err != nil {
			return err
		}
		resumePayload = &p
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_runs
		SET state = 'queued',
		    resume_payload = CASE WHEN state = 'needs_input' THEN ? ELSE resume_payload END,
		    updated_at = ?
		WHERE id = ? AND state IN ('needs_input', 'failed')`,
		resumePayload, now, runID,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", graph.ErrStoreUnavailable, err)
	}
	return invalidTransitionIfNoRows(res)
}

// Cancel transitions a running run to canceled (spec §4.2).
func (s *MySQLStore) Cancel(ctx context.Context, runID string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_runs SET state = 'canceled', finished_at = ?, updated_at = ?
		WHERE id = ? AND state = 'running'`,
		now, now, runID,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", graph.ErrStoreUnavailable, err)
	}
	return invalidTransitionIfNoRows(res)
}

// CreateRun inserts a new queued run; thread_id defaults to id (spec §3).
func (s *MySQLStore) CreateRun(ctx context.Context, graphName string, inputs map[string]any) (*Run, error) {
	id := uuid.NewString()
	inputsJSON, err := encodeJSON(inputs)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_runs (id, graph_name, thread_id, state, attempt, max_attempts, inputs, result, created_at)
		VALUES (?, ?, ?, 'queued', 0, 3, ?, '{}', ?)`,
		id, graphName, id, inputsJSON, now,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", graph.ErrStoreUnavailable, err)
	}
	return s.GetRun(ctx, id)
}

// GetRun fetches a single run by id.
func (s *MySQLStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM workflow_runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, graph.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", graph.ErrStoreUnavailable, err)
	}
	return run, nil
}

// ListRuns returns runs newest first (spec §6).
func (s *MySQLStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM workflow_runs ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", graph.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// CreateTrigger inserts a new trigger row.
func (s *MySQLStore) CreateTrigger(ctx context.Context, t *Trigger) (*Trigger, error) {
	id := uuid.NewString()
	inputsJSON, err := encodeJSON(t.Inputs)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_triggers (id, name, template_name, cron, timezone, inputs, is_active, next_run_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, t.Name, t.TemplateName, t.Cron, t.Timezone, inputsJSON, boolToInt(t.IsActive), t.NextRunAt, now,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", graph.ErrStoreUnavailable, err)
	}
	return s.GetTrigger(ctx, id)
}

// GetTrigger fetches a single trigger by id.
func (s *MySQLStore) GetTrigger(ctx context.Context, id string) (*Trigger, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+triggerColumns+` FROM workflow_triggers WHERE id = ?`, id)
	t, err := scanTrigger(row)
	if err == sql.ErrNoRows {
		return nil, graph.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", graph.ErrStoreUnavailable, err)
	}
	return t, nil
}

// ListTriggers returns triggers newest first (spec §6).
func (s *MySQLStore) ListTriggers(ctx context.Context) ([]*Trigger, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+triggerColumns+` FROM workflow_triggers ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", graph.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []*Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTrigger applies patch; recomputing next_run_at is the caller's
// responsibility (spec §6).
func (s *MySQLStore) UpdateTrigger(ctx context.Context, id string, patch TriggerPatch) (*Trigger, error) {
	existing, err := s.GetTrigger(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		existing.Name = *patch.Name
	}
	if patch.TemplateName != nil {
		existing.TemplateName = *patch.TemplateName
	}
	if patch.Cron != nil {
		existing.Cron = *patch.Cron
	}
	if patch.Timezone != nil {
		existing.Timezone = *patch.Timezone
	}
	if patch.Inputs != nil {
		existing.Inputs = patch.Inputs
	}
	if patch.IsActive != nil {
		existing.IsActive = *patch.IsActive
		if !existing.IsActive {
			existing.NextRunAt = nil
		}
	}
	inputsJSON, err := encodeJSON(existing.Inputs)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		UPDATE workflow_triggers
		SET name = ?, template_name = ?, cron = ?, timezone = ?, inputs = ?, is_active = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?`,
		existing.Name, existing.TemplateName, existing.Cron, existing.Timezone, inputsJSON,
		boolToInt(existing.IsActive), existing.NextRunAt, now, id,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", graph.ErrStoreUnavailable, err)
	}
	return s.GetTrigger(ctx, id)
}

// DeleteTrigger removes a trigger row.
func (s *MySQLStore) DeleteTrigger(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workflow_triggers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: %v", graph.ErrStoreUnavailable, err)
	}
	return nil
}

// ProcessDueTriggers runs one scheduler tick (spec §4.6): lock due
// triggers with FOR UPDATE SKIP LOCKED so multiple scheduler processes
// never double-fire the same trigger, then fire each inside the same
// transaction.
func (s *MySQLStore) ProcessDueTriggers(ctx context.Context, now time.Time, fire FireFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", graph.ErrStoreUnavailable, err)
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx, `
		SELECT `+triggerColumns+` FROM workflow_triggers WHERE is_active = 1 AND next_run_at <= ? FOR UPDATE SKIP LOCKED`,
		now.UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", graph.ErrStoreUnavailable, err)
	}
	var due []*Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			rows.Close()
			return fmt.Errorf("scan due trigger: %w", err)
		}
		due = append(due, t)
	}
	rows.Close()

	for _, t := range due {
		if err := s.fireOneTx(ctx, tx, t, now, fire); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *MySQLStore) fireOneTx(ctx context.Context, tx *sql.Tx, t *Trigger, now time.Time, fire FireFunc) error {
	nextRunAt, fireErr := fire(ctx, t)
	if fireErr != nil {
		msg := fireErr.Error()
		_, err := tx.ExecContext(ctx, `
			UPDATE workflow_triggers SET is_active = 0, next_run_at = NULL, last_error = ?, updated_at = ? WHERE id = ?`,
			msg, now.UTC(), t.ID,
		)
		return err
	}

	id := uuid.NewString()
	inputsJSON, err := encodeJSON(t.Inputs)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO workflow_runs (id, graph_name, thread_id, state, attempt, max_attempts, inputs, result, created_at)
		VALUES (?, ?, ?, 'queued', 0, 3, ?, '{}', ?)`,
		id, t.TemplateName, id, inputsJSON, now.UTC(),
	); err != nil {
		return fmt.Errorf("insert triggered run: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE workflow_triggers SET last_run_at = ?, last_error = NULL, next_run_at = ?, updated_at = ? WHERE id = ?`,
		now.UTC(), nextRunAt.UTC(), now.UTC(), t.ID,
	)
	return err
}
