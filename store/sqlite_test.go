package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/madmag77/wirl/graph"
)

func TestSQLiteStoreClaimNextQueued(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	if _, found, err := s.ClaimNextQueued(ctx, "worker-1"); err != nil || found {
		t.Fatalf("expected nothing queued, found=%v err=%v", found, err)
	}

	created, err := s.CreateRun(ctx, "research", map[string]any{"query": "x"})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if created.State != StateQueued || created.Attempt != 0 || created.MaxAttempts != 3 {
		t.Fatalf("got %+v", created)
	}
	if created.ThreadID != created.ID {
		t.Fatalf("expected thread_id == id, got %q != %q", created.ThreadID, created.ID)
	}

	claimed, found, err := s.ClaimNextQueued(ctx, "worker-1")
	if err != nil || !found {
		t.Fatalf("ClaimNextQueued() found=%v err=%v", found, err)
	}
	if claimed.State != StateRunning || claimed.WorkerID == nil || *claimed.WorkerID != "worker-1" {
		t.Fatalf("got %+v", claimed)
	}
	if claimed.Attempt != 1 {
		t.Fatalf("expected attempt incremented to 1, got %d", claimed.Attempt)
	}
	if claimed.StartedAt == nil || claimed.HeartbeatAt == nil {
		t.Fatalf("expected started_at/heartbeat_at set, got %+v", claimed)
	}

	if _, found, err := s.ClaimNextQueued(ctx, "worker-2"); err != nil || found {
		t.Fatalf("expected no further queued rows, found=%v err=%v", found, err)
	}
}

func TestSQLiteStoreSetFinalStateRespectsCanceled(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "research", nil)
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if _, _, err := s.ClaimNextQueued(ctx, "worker-1"); err != nil {
		t.Fatalf("ClaimNextQueued() error = %v", err)
	}

	if err := s.Cancel(ctx, run.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	err = s.SetFinalState(ctx, run.ID, StateSucceeded, map[string]any{"done": true}, nil)
	if err == nil {
		t.Fatalf("expected ErrConflict setting final state on a canceled run")
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.State != StateCanceled {
		t.Fatalf("expected run to remain canceled, got %q", got.State)
	}
}

func TestSQLiteStoreContinueFromNeedsInput(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "research", nil)
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if _, _, err := s.ClaimNextQueued(ctx, "worker-1"); err != nil {
		t.Fatalf("ClaimNextQueued() error = %v", err)
	}
	if err := s.SetFinalState(ctx, run.ID, StateNeedsInput, nil, nil); err != nil {
		t.Fatalf("SetFinalState() error = %v", err)
	}

	if err := s.Continue(ctx, run.ID, map[string]any{"name": "Ada"}); err != nil {
		t.Fatalf("Continue() error = %v", err)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.State != StateQueued {
		t.Fatalf("expected queued, got %q", got.State)
	}
	if got.ResumePayload == nil {
		t.Fatalf("expected resume_payload to be set")
	}

	if err := s.Continue(ctx, run.ID, nil); err == nil {
		t.Fatalf("expected InvalidTransition continuing a queued run")
	}
}

func TestSQLiteStoreProcessDueTriggers(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	trig, err := s.CreateTrigger(ctx, &Trigger{
		Name: "daily", TemplateName: "research", Cron: "0 9 * * *", Timezone: "UTC",
		IsActive: true, NextRunAt: &past,
	})
	if err != nil {
		t.Fatalf("CreateTrigger() error = %v", err)
	}

	fired := false
	next := now.Add(24 * time.Hour)
	err = s.ProcessDueTriggers(ctx, now, func(_ context.Context, tr *Trigger) (time.Time, error) {
		fired = true
		if tr.ID != trig.ID {
			t.Fatalf("expected trigger %q, got %q", trig.ID, tr.ID)
		}
		return next, nil
	})
	if err != nil {
		t.Fatalf("ProcessDueTriggers() error = %v", err)
	}
	if !fired {
		t.Fatalf("expected trigger to fire")
	}

	runs, err := s.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 1 || runs[0].GraphName != "research" {
		t.Fatalf("got runs %+v", runs)
	}

	got, err := s.GetTrigger(ctx, trig.ID)
	if err != nil {
		t.Fatalf("GetTrigger() error = %v", err)
	}
	if got.LastRunAt == nil {
		t.Fatalf("expected last_run_at set")
	}
	if got.NextRunAt == nil || !got.NextRunAt.Equal(next) {
		t.Fatalf("expected next_run_at %v, got %v", next, got.NextRunAt)
	}

	if _, err := s.GetRun(ctx, "nonexistent"); !errors.Is(err, graph.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
