package store

import (
	"context"
	"sync"

	"github.com/madmag77/wirl/graph"
)

// MemStore is an in-memory graph.Checkpointer, used by tests in place of
// a real database.
type MemStore struct {
	mu   sync.Mutex
	rows map[string][]graph.Checkpoint
}

// NewMemStore creates an empty in-memory checkpoint store.
func NewMemStore() *MemStore {
	return &MemStore{rows: make(map[string][]graph.Checkpoint)}
}

// Put appends cp to threadID's checkpoint history.
func (m *MemStore) Put(_ context.Context, cp graph.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[cp.ThreadID] = append(m.rows[cp.ThreadID], cp)
	return nil
}

// Latest returns the most recently Put checkpoint for threadID.
func (m *MemStore) Latest(_ context.Context, threadID string) (graph.Checkpoint, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := m.rows[threadID]
	if len(history) == 0 {
		return graph.Checkpoint{}, false, nil
	}
	return history[len(history)-1], true, nil
}

// ListByThread returns every checkpoint recorded for threadID, oldest
// first, for the Run-Details Reader (spec §4.7).
func (m *MemStore) ListByThread(_ context.Context, threadID string) ([]graph.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]graph.Checkpoint, len(m.rows[threadID]))
	copy(out, m.rows[threadID])
	return out, nil
}
