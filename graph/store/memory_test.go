package store

import (
	"context"
	"testing"

	"github.com/madmag77/wirl/graph"
)

func TestMemStorePutLatest(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	if _, found, err := m.Latest(ctx, "thread-1"); err != nil || found {
		t.Fatalf("expected no checkpoint yet, found=%v err=%v", found, err)
	}

	cp1 := graph.Checkpoint{ThreadID: "thread-1", Step: -1, ChannelValues: map[string]any{"query": "x"}}
	if err := m.Put(ctx, cp1); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	cp2 := graph.Checkpoint{ThreadID: "thread-1", Step: 0, ChannelValues: map[string]any{"query": "x"}}
	if err := m.Put(ctx, cp2); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, found, err := m.Latest(ctx, "thread-1")
	if err != nil || !found {
		t.Fatalf("Latest() found=%v err=%v", found, err)
	}
	if got.Step != 0 {
		t.Fatalf("expected latest step 0, got %d", got.Step)
	}
}

func TestMemStoreIsolatesThreads(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	_ = m.Put(ctx, graph.Checkpoint{ThreadID: "a", Step: 0})
	if _, found, _ := m.Latest(ctx, "b"); found {
		t.Fatalf("expected thread b to have no checkpoints")
	}
}
