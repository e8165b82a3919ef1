package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/madmag77/wirl/graph/store"
)

var errBoom = errors.New("boom")

func nodeFn(fn func(inputs map[string]any, config Config) (map[string]any, error)) NodeFunc {
	return NodeFuncAdapter(func(_ context.Context, inputs map[string]any, config Config) (map[string]any, error) {
		return fn(inputs, config)
	})
}

func TestRunnerSimpleChain(t *testing.T) {
	g := NewGraph()
	g.AddNode("fetch", nodeFn(func(inputs map[string]any, _ Config) (map[string]any, error) {
		return map[string]any{"fetched": true, BranchChannel("summarize"): true}, nil
	}))
	g.AddNode("summarize", nodeFn(func(inputs map[string]any, _ Config) (map[string]any, error) {
		return map[string]any{"summary": "done"}, nil
	}))
	g.SetEntry("fetch")

	cp := store.NewMemStore()
	runner := NewRunner(nil)

	out, err := runner.Run(context.Background(), g, cp, "run-1", "thread-1", map[string]any{"query": "x"}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out["summary"] != "done" {
		t.Fatalf("got %v", out)
	}
	if out["query"] != "x" {
		t.Fatalf("expected baseline params preserved, got %v", out)
	}
}

func TestRunnerInterruptAndResume(t *testing.T) {
	g := NewGraph()
	g.AddNode("ask", nodeFn(func(inputs map[string]any, config Config) (map[string]any, error) {
		if config.Resume != nil {
			return map[string]any{"answer": config.Resume}, nil
		}
		return nil, Interrupt("what is your name?")
	}))
	g.SetEntry("ask")

	cp := store.NewMemStore()
	runner := NewRunner(nil)

	out, err := runner.Run(context.Background(), g, cp, "run-1", "thread-1", map[string]any{}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out[InterruptChannel] != "what is your name?" {
		t.Fatalf("expected interrupt prompt, got %v", out)
	}

	out, err = runner.Run(context.Background(), g, cp, "run-1", "thread-1", nil, "Ada")
	if err != nil {
		t.Fatalf("resume Run() error = %v", err)
	}
	if out["answer"] != "Ada" {
		t.Fatalf("expected resumed answer, got %v", out)
	}
}

func TestRunnerInterruptAndResumeKeepsEarlierSuperstepWrites(t *testing.T) {
	g := NewGraph()
	g.AddNode("first", nodeFn(func(inputs map[string]any, _ Config) (map[string]any, error) {
		return map[string]any{"first_done": true}, nil
	}))
	g.AddNode("second", nodeFn(func(inputs map[string]any, config Config) (map[string]any, error) {
		if config.Resume != nil {
			return map[string]any{"answer": config.Resume}, nil
		}
		return nil, Interrupt("confirm?")
	}))
	g.SetEntry("first", "second")

	cp := store.NewMemStore()
	runner := NewRunner(nil)

	out, err := runner.Run(context.Background(), g, cp, "run-1", "thread-1", map[string]any{}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out[InterruptChannel] != "confirm?" {
		t.Fatalf("expected interrupt prompt, got %v", out)
	}
	// "first" ran and wrote to state before "second" interrupted; that
	// write must survive into the interrupt-time projected state too.
	if out["first_done"] != true {
		t.Fatalf("expected first_done surfaced at interrupt time, got %v", out)
	}

	out, err = runner.Run(context.Background(), g, cp, "run-1", "thread-1", nil, "yes")
	if err != nil {
		t.Fatalf("resume Run() error = %v", err)
	}
	if out["answer"] != "yes" {
		t.Fatalf("expected resumed answer, got %v", out)
	}
	if out["first_done"] != true {
		t.Fatalf("expected first_done preserved across resume, got %v", out)
	}
}

func TestRunnerResumeWithoutInterruptFails(t *testing.T) {
	g := NewGraph()
	g.AddNode("noop", nodeFn(func(map[string]any, Config) (map[string]any, error) {
		return map[string]any{}, nil
	}))
	g.SetEntry("noop")

	cp := store.NewMemStore()
	runner := NewRunner(nil)

	if _, err := runner.Run(context.Background(), g, cp, "run-1", "thread-1", map[string]any{}, nil); err != nil {
		t.Fatalf("initial Run() error = %v", err)
	}
	if _, err := runner.Run(context.Background(), g, cp, "run-2", "thread-1", nil, "late"); err == nil {
		t.Fatalf("expected error resuming a thread with no pending interrupt")
	}
}

func TestRunnerNodeErrorWraps(t *testing.T) {
	g := NewGraph()
	g.AddNode("boom", nodeFn(func(map[string]any, Config) (map[string]any, error) {
		return nil, errBoom
	}))
	g.SetEntry("boom")

	cp := store.NewMemStore()
	runner := NewRunner(nil)

	_, err := runner.Run(context.Background(), g, cp, "run-1", "thread-1", map[string]any{}, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	var nodeErr *NodeError
	if !errors.As(err, &nodeErr) {
		t.Fatalf("expected *NodeError, got %T: %v", err, err)
	}
	if nodeErr.NodeID != "boom" {
		t.Fatalf("got NodeID %q", nodeErr.NodeID)
	}
}
