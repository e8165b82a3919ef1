package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/madmag77/wirl/cron"
	"github.com/madmag77/wirl/graph"
	"github.com/madmag77/wirl/store"
	"github.com/madmag77/wirl/template"
)

func newTestScheduler(t *testing.T) (*Scheduler, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	registry := template.NewRegistry()
	registry.Register("research", func() *graph.Graph {
		g := graph.NewGraph()
		g.AddNode("Start", graph.NodeFuncAdapter(func(_ context.Context, _ map[string]any, _ graph.Config) (map[string]any, error) {
			return map[string]any{}, nil
		}))
		g.SetEntry("Start")
		return g
	})

	return New(s, registry, cron.NewEvaluator()), s
}

func TestSchedulerTickEnqueuesDueTrigger(t *testing.T) {
	sched, s := newTestScheduler(t)
	ctx := context.Background()

	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	trig, err := s.CreateTrigger(ctx, &store.Trigger{
		Name: "daily", TemplateName: "research", Cron: "0 9 * * *", Timezone: "UTC",
		IsActive: true, NextRunAt: &past,
	})
	if err != nil {
		t.Fatalf("CreateTrigger() error = %v", err)
	}

	sched.tick(ctx, now)

	runs, err := s.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 1 || runs[0].GraphName != "research" {
		t.Fatalf("got runs %+v, want one research run", runs)
	}

	got, err := s.GetTrigger(ctx, trig.ID)
	if err != nil {
		t.Fatalf("GetTrigger() error = %v", err)
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(now) {
		t.Fatalf("expected next_run_at to advance past %v, got %v", now, got.NextRunAt)
	}
}

func TestSchedulerFireUnknownTemplateErrors(t *testing.T) {
	sched, _ := newTestScheduler(t)

	_, err := sched.fire(context.Background(), &store.Trigger{
		Name: "orphan", TemplateName: "no-such-template", Cron: "0 9 * * *", Timezone: "UTC",
	})
	if err == nil {
		t.Fatal("fire() with an unregistered template: want error, got nil")
	}
}

func TestSchedulerFireInvalidCronErrors(t *testing.T) {
	sched, _ := newTestScheduler(t)

	_, err := sched.fire(context.Background(), &store.Trigger{
		Name: "broken", TemplateName: "research", Cron: "not a cron expr", Timezone: "UTC",
	})
	if err == nil {
		t.Fatal("fire() with an invalid cron expression: want error, got nil")
	}
}

func TestSchedulerWithTickIntervalOverridesDefault(t *testing.T) {
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	sched := New(s, template.NewRegistry(), cron.NewEvaluator(), WithTickInterval(25*time.Millisecond))
	if sched.tickInterval != 25*time.Millisecond {
		t.Fatalf("got tickInterval %v, want 25ms", sched.tickInterval)
	}

	withDefault := New(s, template.NewRegistry(), cron.NewEvaluator())
	if withDefault.tickInterval != defaultTickInterval {
		t.Fatalf("got default tickInterval %v, want %v", withDefault.tickInterval, defaultTickInterval)
	}

	// A zero/negative override is ignored, keeping the default.
	ignored := New(s, template.NewRegistry(), cron.NewEvaluator(), WithTickInterval(0))
	if ignored.tickInterval != defaultTickInterval {
		t.Fatalf("got tickInterval %v after zero override, want default %v", ignored.tickInterval, defaultTickInterval)
	}
}

func TestSchedulerStartStopLifecycle(t *testing.T) {
	sched, _ := newTestScheduler(t)
	ctx := context.Background()

	sched.Start(ctx)
	sched.Start(ctx) // second Start while running is a no-op

	done := make(chan struct{})
	go func() {
		sched.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return")
	}

	// Stop on an already-stopped scheduler is also a no-op.
	sched.Stop()
}
