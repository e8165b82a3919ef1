package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/madmag77/wirl/graph"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a single-process job-queue Store, following the same
// single-writer serialization as graph/store.SQLiteStore (spec §4.8):
// SetMaxOpenConns(1) means ClaimNextQueued's BEGIN IMMEDIATE + UPDATE ...
// RETURNING is equivalent to skip-locked claim under Postgres/MySQL,
// since there is never a second writer to skip past.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) a SQLite-backed job store at path.
// Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS workflow_runs (
	id             TEXT PRIMARY KEY,
	graph_name     TEXT NOT NULL,
	thread_id      TEXT NOT NULL UNIQUE,
	state          TEXT NOT NULL,
	attempt        INTEGER NOT NULL DEFAULT 0,
	max_attempts   INTEGER NOT NULL DEFAULT 3,
	worker_id      TEXT,
	started_at     TIMESTAMP,
	heartbeat_at   TIMESTAMP,
	finished_at    TIMESTAMP,
	error          TEXT,
	inputs         TEXT NOT NULL DEFAULT '{}',
	resume_payload TEXT,
	result         TEXT NOT NULL DEFAULT '{}',
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_workflow_runs_state_id ON workflow_runs(state, id);
CREATE TABLE IF NOT EXISTS workflow_triggers (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	template_name TEXT NOT NULL,
	cron          TEXT NOT NULL,
	timezone      TEXT NOT NULL,
	inputs        TEXT NOT NULL DEFAULT '{}',
	is_active     INTEGER NOT NULL DEFAULT 1,
	next_run_at   TIMESTAMP,
	last_run_at   TIMESTAMP,
	last_error    TEXT,
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_workflow_triggers_due ON workflow_triggers(is_active, next_run_at);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const runColumns = `id, graph_name, thread_id, state, attempt, max_attempts, worker_id,
	started_at, heartbeat_at, finished_at, error, inputs, resume_payload, result, created_at, updated_at`

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var (
		r                                     Run
		workerID, errMsg, resumePayload       sql.NullString
		startedAt, heartbeatAt, finishedAt     sql.NullTime
		updatedAt                              sql.NullTime
		inputsRaw, resultRaw                   string
	)
	if err := row.Scan(
		&r.ID, &r.GraphName, &r.ThreadID, &r.State, &r.Attempt, &r.MaxAttempts, &workerID,
		&startedAt, &heartbeatAt, &finishedAt, &errMsg, &inputsRaw, &resumePayload, &resultRaw,
		&r.CreatedAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	if workerID.Valid {
		r.WorkerID = &workerID.String
	}
	if errMsg.Valid {
		r.Error = &errMsg.String
	}
	if resumePayload.Valid {
		r.ResumePayload = &resumePayload.String
	}
	if startedAt.Valid {
		r.StartedAt = &startedAt.Time
	}
	if heartbeatAt.Valid {
		r.HeartbeatAt = &heartbeatAt.Time
	}
	if finishedAt.Valid {
		r.FinishedAt = &finishedAt.Time
	}
	if updatedAt.Valid {
		r.UpdatedAt = &updatedAt.Time
	}
	inputs, err := decodeJSON(inputsRaw)
	if err != nil {
		return nil, err
	}
	r.Inputs = inputs
	result, err := decodeJSON(resultRaw)
	if err != nil {
		return nil, err
	}
	r.Result = result
	return &r, nil
}

// ClaimNextQueued claims the queued run with the lowest id for workerID
// in a single BEGIN IMMEDIATE transaction (spec §4.1, §4.8).
func (s *SQLiteStore) ClaimNextQueued(ctx context.Context, workerID string) (*Run, bool, error) {
	if _, err := s.db.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return nil, false, fmt.Errorf("%w: %v", graph.ErrStoreUnavailable, err)
	}

	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx, `
		UPDATE workflow_runs
		SET state = 'running', worker_id = ?, started_at = ?, heartbeat_at = ?, attempt = attempt + 1, updated_at = ?
		WHERE id = (SELECT id FROM workflow_runs WHERE state = 'queued' ORDER BY id LIMIT 1)
		RETURNING `+runColumns,
		workerID, now, now, now,
	)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		_, _ = s.db.ExecContext(ctx, `COMMIT`)
		return nil, false, nil
	}
	if err != nil {
		_, _ = s.db.ExecContext(ctx, `ROLLBACK`)
		return nil, false, fmt.Errorf("claim next queued: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `COMMIT`); err != nil {
		return nil, false, fmt.Errorf("commit claim: %w", err)
	}
	return run, true, nil
}

// SetFinalState conditionally updates a run's outcome (spec §4.1): a
// no-op (ErrConflict) if the run is already canceled.
func (s *SQLiteStore) SetFinalState(ctx context.Context, runID string, newState RunState, result map[string]any, errMsg *string) error {
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
func (s *SQLiteStore) Continue(ctx context.Context, runID string, resumeInputs map[string]any) error {
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
func (s *SQLiteStore) Cancel(ctx context.Context, runID string) error {
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
func (s *SQLiteStore) CreateRun(ctx context.Context, graphName string, inputs map[string]any) (*Run, error) {
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
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
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
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
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

const triggerColumns = `id, name, template_name, cron, timezone, inputs, is_active, next_run_at, last_run_at, last_error, created_at, updated_at`

func scanTrigger(row interface{ Scan(...any) error }) (*Trigger, error) {
	var (
		t                           Trigger
		inputsRaw                   string
		isActive                    int
		nextRunAt, lastRunAt        sql.NullTime
		lastError                   sql.NullString
		updatedAt                   sql.NullTime
	)
	if err := row.Scan(
		&t.ID, &t.Name, &t.TemplateName, &t.Cron, &t.Timezone, &inputsRaw, &isActive,
		&nextRunAt, &lastRunAt, &lastError, &t.CreatedAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	t.IsActive = isActive != 0
	if nextRunAt.Valid {
		t.NextRunAt = &nextRunAt.Time
	}
	if lastRunAt.Valid {
		t.LastRunAt = &lastRunAt.Time
	}
	if lastError.Valid {
		t.LastError = &lastError.String
	}
	if updatedAt.Valid {
		t.UpdatedAt = &updatedAt.Time
	}
	inputs, err := decodeJSON(inputsRaw)
	if err != nil {
		return nil, err
	}
	t.Inputs = inputs
	return &t, nil
}

// CreateTrigger inserts a new trigger row.
func (s *SQLiteStore) CreateTrigger(ctx context.Context, t *Trigger) (*Trigger, error) {
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
func (s *SQLiteStore) GetTrigger(ctx context.Context, id string) (*Trigger, error) {
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
func (s *SQLiteStore) ListTriggers(ctx context.Context) ([]*Trigger, error) {
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
// (scheduler/API) responsibility since it requires the cron evaluator
// (spec §6 PATCH /workflow-triggers/{id}).
func (s *SQLiteStore) UpdateTrigger(ctx context.Context, id string, patch TriggerPatch) (*Trigger, error) {
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
func (s *SQLiteStore) DeleteTrigger(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workflow_triggers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: %v", graph.ErrStoreUnavailable, err)
	}
	return nil
}

// ProcessDueTriggers runs one scheduler tick (spec §4.6) inside a single
// BEGIN IMMEDIATE transaction: lock due triggers, fire each, insert its
// Run, and record the next firing — collapsing any number of missed
// ticks into one enqueued Run plus a future next_run_at.
func (s *SQLiteStore) ProcessDueTriggers(ctx context.Context, now time.Time, fire FireFunc) error {
	if _, err := s.db.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return fmt.Errorf("%w: %v", graph.ErrStoreUnavailable, err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+triggerColumns+` FROM workflow_triggers WHERE is_active = 1 AND next_run_at <= ?`, now.UTC())
	if err != nil {
		_, _ = s.db.ExecContext(ctx, `ROLLBACK`)
		return fmt.Errorf("%w: %v", graph.ErrStoreUnavailable, err)
	}
	var due []*Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			rows.Close()
			_, _ = s.db.ExecContext(ctx, `ROLLBACK`)
			return fmt.Errorf("scan due trigger: %w", err)
		}
		due = append(due, t)
	}
	rows.Close()

	for _, t := range due {
		if err := s.fireOne(ctx, t, now, fire); err != nil {
			_, _ = s.db.ExecContext(ctx, `ROLLBACK`)
			return err
		}
	}

	if _, err := s.db.ExecContext(ctx, `COMMIT`); err != nil {
		return fmt.Errorf("commit tick: %w", err)
	}
	return nil
}

func (s *SQLiteStore) fireOne(ctx context.Context, t *Trigger, now time.Time, fire FireFunc) error {
	nextRunAt, fireErr := fire(ctx, t)
	if fireErr != nil {
		msg := fireErr.Error()
		_, err := s.db.ExecContext(ctx, `
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
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_runs (id, graph_name, thread_id, state, attempt, max_attempts, inputs, result, created_at)
		VALUES (?, ?, ?, 'queued', 0, 3, ?, '{}', ?)`,
		id, t.TemplateName, id, inputsJSON, now.UTC(),
	); err != nil {
		return fmt.Errorf("insert triggered run: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE workflow_triggers SET last_run_at = ?, last_error = NULL, next_run_at = ?, updated_at = ? WHERE id = ?`,
		now.UTC(), nextRunAt.UTC(), now.UTC(), t.ID,
	)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encodeJSONOrNil(v map[string]any) (any, error) {
	if v == nil {
		return nil, nil
	}
	s, err := encodeJSON(v)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func conflictIfNoRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", graph.ErrStoreUnavailable, err)
	}
	if n == 0 {
		return graph.ErrConflict
	}
	return nil
}

func invalidTransitionIfNoRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", graph.ErrStoreUnavailable, err)
	}
	if n == 0 {
		return graph.ErrInvalidTransition
	}
	return nil
}
