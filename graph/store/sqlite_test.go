package store

import (
	"context"
	"testing"

	"github.com/madmag77/wirl/graph"
)

func TestSQLiteStorePutLatestRoundtrip(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	cp := graph.Checkpoint{
		ThreadID:      "thread-1",
		Step:          0,
		ChannelValues: map[string]any{"query": "x"},
		PendingWrites: []graph.Write{{TaskID: "fetch-0", Channel: graph.BranchChannel("summarize"), Value: true}},
		Metadata:      map[string]any{},
	}
	if err := s.Put(ctx, cp); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, found, err := s.Latest(ctx, "thread-1")
	if err != nil || !found {
		t.Fatalf("Latest() found=%v err=%v", found, err)
	}
	if got.Step != 0 || got.ChannelValues["query"] != "x" {
		t.Fatalf("got %+v", got)
	}
	if len(got.PendingWrites) != 1 || got.PendingWrites[0].Channel != graph.BranchChannel("summarize") {
		t.Fatalf("got pending writes %+v", got.PendingWrites)
	}
}

func TestSQLiteStoreLatestPicksHighestStep(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	for step := 0; step < 3; step++ {
		cp := graph.Checkpoint{ThreadID: "thread-1", Step: step, ChannelValues: map[string]any{}, Metadata: map[string]any{}}
		if err := s.Put(ctx, cp); err != nil {
			t.Fatalf("Put() step %d error = %v", step, err)
		}
	}

	got, found, err := s.Latest(ctx, "thread-1")
	if err != nil || !found {
		t.Fatalf("Latest() found=%v err=%v", found, err)
	}
	if got.Step != 2 {
		t.Fatalf("expected latest step 2, got %d", got.Step)
	}
}
