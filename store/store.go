// Package store persists workflow Runs and Triggers: the job queue the
// Worker Pool claims from and the Scheduler inserts into (spec §3, §4.1).
// It is deliberately distinct from graph/store, which persists Pregel
// checkpoints — a Run's lifecycle (queued/running/needs_input/...) and a
// thread's checkpoint log are different data with different access
// patterns, mirroring original_source's split between
// apps/backend/backend/models.py (WorkflowRun/WorkflowTrigger rows) and
// its separate checkpointer tables.
package store

import (
	"context"
	"time"
)

// RunState is one of the six states in the run state machine (spec §4.2).
type RunState string

const (
	StateQueued     RunState = "queued"
	StateRunning    RunState = "running"
	StateNeedsInput RunState = "needs_input"
	StateFailed     RunState = "failed"
	StateSucceeded  RunState = "succeeded"
	StateCanceled   RunState = "canceled"
)

// Run mirrors original_source's WorkflowRun model field for field (spec
// §3, grounded on original_source/apps/backend/backend/models.py).
type Run struct {
	ID           string
	GraphName    string
	ThreadID     string
	State        RunState
	Attempt      int
	MaxAttempts  int
	WorkerID     *string
	StartedAt    *time.Time
	HeartbeatAt  *time.Time
	FinishedAt   *time.Time
	Error        *string
	Inputs       map[string]any
	ResumePayload *string
	Result       map[string]any
	CreatedAt    time.Time
	UpdatedAt    *time.Time
}

// Trigger mirrors original_source's WorkflowTrigger model (spec §3).
type Trigger struct {
	ID           string
	Name         string
	TemplateName string
	Cron         string
	Timezone     string
	Inputs       map[string]any
	IsActive     bool
	NextRunAt    *time.Time
	LastRunAt    *time.Time
	LastError    *string
	CreatedAt    time.Time
	UpdatedAt    *time.Time
}

// TriggerPatch carries the fields of a PATCH /workflow-triggers/{id}
// request (spec §6); nil fields are left unchanged.
type TriggerPatch struct {
	Name         *string
	TemplateName *string
	Cron         *string
	Timezone     *string
	Inputs       map[string]any
	IsActive     *bool
}

// FireFunc is called once per due trigger inside the same transaction
// that locked it (spec §4.6 step 2). It resolves the trigger's template
// and computes the next firing time from now; a non-nil error disables
// the trigger (is_active=false, next_run_at=null, last_error=err) rather
// than aborting the whole tick, matching the per-trigger error isolation
// in original_source/apps/backend/backend/scheduler.py.
type FireFunc func(ctx context.Context, t *Trigger) (nextRunAt time.Time, err error)

// Store is the job-queue contract the Worker Pool and Scheduler depend
// on (spec §4.1). SQLiteStore and MySQLStore both implement it, split
// along the same single-writer/real-row-locking line as graph/store
// (spec §4.8).
type Store interface {
	// ClaimNextQueued atomically claims the queued Run with the lowest id
	// for workerID, or returns found=false if none are queued (spec §4.1).
	// Ids are random UUIDs, so this is not creation order.
	ClaimNextQueued(ctx context.Context, workerID string) (run *Run, found bool, err error)

	// SetFinalState conditionally updates a Run's terminal outcome; a
	// no-op (ErrConflict) if the run is already canceled (spec §4.1).
	SetFinalState(ctx context.Context, runID string, newState RunState, result map[string]any, errMsg *string) error

	// Continue transitions a Run from needs_input or failed back to
	// queued (spec §4.2). resumeInputs is non-nil only from needs_input.
	Continue(ctx context.Context, runID string, resumeInputs map[string]any) error

	// Cancel transitions a running Run to canceled (spec §4.2).
	Cancel(ctx context.Context, runID string) error

	// CreateRun inserts a new queued Run with a fresh id, thread_id=id
	// (spec §3).
	CreateRun(ctx context.Context, graphName string, inputs map[string]any) (*Run, error)

	GetRun(ctx context.Context, runID string) (*Run, error)

	// ListRuns returns runs newest first (spec §6).
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)

	CreateTrigger(ctx context.Context, t *Trigger) (*Trigger, error)
	GetTrigger(ctx context.Context, id string) (*Trigger, error)
	ListTriggers(ctx context.Context) ([]*Trigger, error)
	UpdateTrigger(ctx context.Context, id string, patch TriggerPatch) (*Trigger, error)
	DeleteTrigger(ctx context.Context, id string) error

	// ProcessDueTriggers locks every trigger due at now (skip-locked,
	// spec §4.1/§4.6), then for each: calls fire to resolve the next
	// firing instant, inserts a queued Run from the trigger's template
	// and inputs, and updates last_run_at/last_error/next_run_at/
	// is_active — all inside the one transaction the lock was taken in.
	ProcessDueTriggers(ctx context.Context, now time.Time, fire FireFunc) error
}
