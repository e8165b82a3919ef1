// Package rundetails replays a run's persisted checkpoints into a
// per-step provenance view: which node ran, what it read, what it wrote,
// and which branches it took (spec §4.7). Unlike graph/replay.go (which
// replays for re-execution determinism checks), this package only ever
// reads — it never re-invokes node functions and has no dependency on a
// template.Registry.
package rundetails

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/madmag77/wirl/graph"
	"github.com/madmag77/wirl/store"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// WriteKind classifies a recorded Write by the channel-naming convention
// of spec §3.
type WriteKind string

const (
	KindState  WriteKind = "state"
	KindBranch WriteKind = "branch"
	KindSystem WriteKind = "system"
)

// RecordedWrite is one write attributed to a Step, annotated with its kind.
type RecordedWrite struct {
	Channel string    `json:"channel"`
	Kind    WriteKind `json:"kind"`
	Value   any       `json:"value"`
}

// Step is one node invocation's contribution to a run, reconstructed from
// a checkpoint's pending_writes grouped by task_id (spec §4.7). A single
// persisted checkpoint may expand into several Steps when more than one
// node ran in that superstep.
type Step struct {
	Step         int            `json:"step"`
	CheckpointID string         `json:"checkpoint_id"`
	Timestamp    time.Time      `json:"timestamp"`
	Node         string         `json:"node"`
	TaskID       string         `json:"task_id"`
	InputState   map[string]any `json:"input_state"`
	OutputState  map[string]any `json:"output_state"`
	Branches     []string       `json:"branches"`
	Writes       []RecordedWrite `json:"writes"`
}

// RunDetails is the full per-step provenance of one run (spec §4.7).
type RunDetails struct {
	RunID        string         `json:"run_id"`
	InitialState map[string]any `json:"initial_state"`
	Steps        []Step         `json:"steps"`
}

// CheckpointLister lists a thread's full checkpoint history, oldest
// first. graph/store's SQLiteStore, MySQLStore, and MemStore all
// implement it.
type CheckpointLister interface {
	ListByThread(ctx context.Context, threadID string) ([]graph.Checkpoint, error)
}

// Reader answers run-details queries against a run's thread_id lookup and
// its checkpoint history.
type Reader struct {
	runs        store.Store
	checkpoints CheckpointLister
}

// NewReader creates a Reader.
func NewReader(runs store.Store, checkpoints CheckpointLister) *Reader {
	return &Reader{runs: runs, checkpoints: checkpoints}
}

// Read resolves runID to its thread_id, replays that thread's checkpoint
// history, and synthesizes RunDetails (spec §4.7).
func (r *Reader) Read(ctx context.Context, runID string) (*RunDetails, error) {
	run, err := r.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	checkpoints, err := r.checkpoints.ListByThread(ctx, run.ThreadID)
	if err != nil {
		return nil, err
	}
	if len(checkpoints) == 0 {
		return nil, fmt.Errorf("%w: no checkpoints for run %s", graph.ErrNotFound, runID)
	}

	details := &RunDetails{RunID: runID}
	currentState := map[string]any{}
	var pendingQueue []string

	for _, cp := range checkpoints {
		if cp.Step < 0 {
			currentState = filterState(cp.ChannelValues)
			details.InitialState = cloneState(currentState)
			pendingQueue = append(pendingQueue, branchTargetsInOrder(cp.PendingWrites)...)
			continue
		}

		if len(cp.PendingWrites) == 0 {
			currentState = filterState(cp.ChannelValues)
			continue
		}

		groups, order := groupByTaskID(cp.PendingWrites)
		for _, taskID := range order {
			group := groups[taskID]

			var node string
			if len(pendingQueue) > 0 {
				node = pendingQueue[0]
				pendingQueue = pendingQueue[1:]
			} else {
				node = inferNode(group)
			}

			inputState := cloneState(currentState)
			writes, branches := applyGroup(&currentState, group)
			pendingQueue = append(pendingQueue, branches...)

			details.Steps = append(details.Steps, Step{
				Step:         cp.Step,
				CheckpointID: cp.ID,
				Timestamp:    cp.Timestamp,
				Node:         node,
				TaskID:       taskID,
				InputState:   inputState,
				OutputState:  changedKeys(inputState, currentState),
				Branches:     branches,
				Writes:       writes,
			})
		}
	}

	return details, nil
}

// filterState drops branch:* and __* channels, returning only state
// channels (spec §4.7 "Filter state").
func filterState(state map[string]any) map[string]any {
	out := make(map[string]any, len(state))
	for k, v := range state {
		if graph.IsStateChannel(k) {
			out[k] = v
		}
	}
	return out
}

func cloneState(state map[string]any) map[string]any {
	out := make(map[string]any, len(state))
	for k, v := range state {
		out[k] = v
	}
	return out
}

// changedKeys returns only the entries of after that are new or changed
// relative to before (spec §4.7 "output_state (only changed keys)").
// Values are compared by their canonical JSON encoding (via gjson) rather
// than Go equality, since channel values decoded from a checkpoint are
// plain map[string]any/[]any trees that aren't otherwise comparable.
func changedKeys(before, after map[string]any) map[string]any {
	beforeJSON, err := json.Marshal(before)
	if err != nil {
		beforeJSON = []byte("{}")
	}
	afterJSON, err := json.Marshal(after)
	if err != nil {
		afterJSON = []byte("{}")
	}

	result := "{}"
	for k, v := range after {
		prev := gjson.GetBytes(beforeJSON, gjsonKey(k))
		cur := gjson.GetBytes(afterJSON, gjsonKey(k))
		if prev.Exists() && prev.Raw == cur.Raw {
			continue
		}
		result, err = sjson.Set(result, gjsonKey(k), v)
		if err != nil {
			result, _ = sjson.Set(result, gjsonKey(k), fmt.Sprintf("%v", v))
		}
	}

	out := make(map[string]any)
	_ = json.Unmarshal([]byte(result), &out)
	return out
}

// gjsonKey escapes a channel name for use as a gjson/sjson path segment,
// since channel names may contain "." (e.g. "Node.field") which gjson
// would otherwise treat as a path separator.
func gjsonKey(channel string) string {
	return strings.ReplaceAll(channel, ".", "\\.")
}

// branchTargetsInOrder extracts branch:to:* targets from writes in
// emission order, seeding the baseline pending-node queue (spec §4.7).
func branchTargetsInOrder(writes []graph.Write) []string {
	var targets []string
	for _, w := range writes {
		if target, ok := graph.BranchTarget(w.Channel); ok {
			targets = append(targets, target)
		}
	}
	return targets
}

// groupByTaskID groups writes by task_id, preserving the order in which
// each task_id first appears (spec §4.7 "group ... by task_id in order").
func groupByTaskID(writes []graph.Write) (map[string][]graph.Write, []string) {
	groups := make(map[string][]graph.Write)
	var order []string
	for _, w := range writes {
		if _, seen := groups[w.TaskID]; !seen {
			order = append(order, w.TaskID)
		}
		groups[w.TaskID] = append(groups[w.TaskID], w)
	}
	return groups, order
}

// inferNode recovers a node name from a state write of form
// "<Node>.<field>" when the scheduling metadata doesn't already identify
// it (spec §4.7 "Node naming recovery").
func inferNode(group []graph.Write) string {
	for _, w := range group {
		if graph.IsStateChannel(w.Channel) {
			if dot := strings.Index(w.Channel, "."); dot > 0 {
				return w.Channel[:dot]
			}
		}
	}
	return ""
}

// applyGroup classifies and applies one task_id's writes onto state in
// order, returning the recorded writes and any branch targets.
func applyGroup(state *map[string]any, group []graph.Write) ([]RecordedWrite, []string) {
	writes := make([]RecordedWrite, 0, len(group))
	var branches []string

	for _, w := range group {
		switch {
		case graph.IsBranchChannel(w.Channel):
			writes = append(writes, RecordedWrite{Channel: w.Channel, Kind: KindBranch, Value: w.Value})
			if target, ok := graph.BranchTarget(w.Channel); ok {
				branches = append(branches, target)
			}
		case graph.IsSystemChannel(w.Channel):
			writes = append(writes, RecordedWrite{Channel: w.Channel, Kind: KindSystem, Value: w.Value})
		default:
			writes = append(writes, RecordedWrite{Channel: w.Channel, Kind: KindState, Value: w.Value})
			(*state)[w.Channel] = w.Value
		}
	}

	return writes, branches
}
