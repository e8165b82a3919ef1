// Package graph provides the checkpointed graph execution engine for wirl.
package graph

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// Write is a single channel write produced by one node invocation during
// a superstep (spec §4.4 step 3): `(task_id, channel, value)`.
type Write struct {
	TaskID  string `json:"task_id"`
	Channel string `json:"channel"`
	Value   any    `json:"value"`
}

// Checkpoint is the persisted unit of the Pregel Runner's progress for
// one thread_id (spec §3): an ordered tuple of channel values plus the
// writes pending application at load time.
//
// Convention (resolved Open Question, see SPEC_FULL.md §4): ChannelValues
// is the state as of *before* this step's writes; PendingWrites are this
// step's writes, materialized into the state only when the checkpoint is
// next loaded. This matches the append-only checkpointer convention
// original_source's Postgres/SQLite backends rely on.
type Checkpoint struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`

	// Step is the monotonically increasing superstep number. -1 marks
	// the pre-execution baseline (spec §3).
	Step int `json:"step"`

	ChannelValues map[string]any `json:"channel_values"`
	PendingWrites []Write        `json:"pending_writes"`
	Metadata      map[string]any `json:"metadata"`

	Timestamp time.Time `json:"ts"`
}

// InterruptRecord is the value stored under InterruptChannel when a node
// requests a pause. It carries enough of the interrupted superstep's
// pending-node queue (interrupted node first) to resume correctly: the
// spec's resume semantics ("finds the single node whose interrupt was
// recorded... proceeds as a normal superstep") requires recovering not
// just that node but whatever else was still scheduled alongside it.
type InterruptRecord struct {
	Node    string        `json:"node"`
	Prompt  any           `json:"prompt"`
	Pending []PendingNode `json:"pending"`
}

// computeIdempotencyKey hashes (threadID, step, sorted pending-node
// targets, channel values) into a deterministic key used to detect a
// duplicate Put for the same superstep (e.g. a worker retrying after a
// crash between Put and SetFinalState). A frontier-based idempotency
// key, keyed on pending nodes instead of generic work items since a
// superstep's identity is its schedule.
func computeIdempotencyKey(threadID string, step int, pending []PendingNode, state map[string]any) (string, error) {
	h := sha256.New()
	h.Write([]byte(threadID))

	stepBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(stepBytes, uint64(int64(step)))
	h.Write(stepBytes)

	sorted := make([]PendingNode, len(pending))
	copy(sorted, pending)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OrderKey < sorted[j].OrderKey })

	for _, p := range sorted {
		h.Write([]byte(p.NodeID))
		orderBytes := make([]byte, 8)
		binary.BigEndian.PutUint64(orderBytes, p.OrderKey)
		h.Write(orderBytes)
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	h.Write(stateJSON)

	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}
