package graph

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/madmag77/wirl/graph/emit"
)

// contextKey is a private type for context value keys, to avoid
// collisions with keys from other packages.
type contextKey string

const (
	// RunIDKey is the context key for the current run's identifier.
	RunIDKey contextKey = "wirl.run_id"
	// StepIDKey is the context key for the current superstep number.
	StepIDKey contextKey = "wirl.step_id"
	// NodeIDKey is the context key for the currently executing node.
	NodeIDKey contextKey = "wirl.node_id"
	// AttemptKey is the context key for the current retry attempt (0-based).
	AttemptKey contextKey = "wirl.attempt"
	// RNGKey is the context key for the run's seeded *rand.Rand.
	RNGKey contextKey = "wirl.rng"
)

// interruptSentinelKey is an internal marker used to pass an interrupt's
// prompt out of a superstep's worker goroutine alongside its outputs map;
// it never appears in persisted state.
const interruptSentinelKey = "\x00interrupt"

// initRNG derives a deterministic random source from runID so that two
// runs of the same run ID (e.g. original execution and replay) see
// identical pseudo-random sequences. Nodes needing determinism should
// read *rand.Rand from ctx.Value(RNGKey) rather than the global source.
func initRNG(runID string) *rand.Rand {
	hasher := sha256.New()
	hasher.Write([]byte(runID))
	hashBytes := hasher.Sum(nil)
	seed := int64(binary.BigEndian.Uint64(hashBytes[:8])) // #nosec G115 -- deterministic seeding
	source := rand.NewSource(seed)                        // #nosec G404 -- deterministic RNG for replay, not security
	return rand.New(source)                                // #nosec G404 -- deterministic RNG for replay, not security
}

// Checkpointer persists and retrieves Checkpoint rows for a thread (spec
// §4.1, §4.4). graph/store's SQLiteStore, MySQLStore and MemStore
// implement it.
type Checkpointer interface {
	Put(ctx context.Context, cp Checkpoint) error
	Latest(ctx context.Context, threadID string) (Checkpoint, bool, error)
}

// Runner executes a Graph against a Checkpointer as a sequence of Pregel
// supersteps, persisting a new checkpoint after each one (spec §4.4).
type Runner struct {
	emitter emit.Emitter
	opts    Options
}

// NewRunner creates a Runner. emitter may be nil to disable event
// emission.
func NewRunner(emitter emit.Emitter, options ...Option) *Runner {
	cfg := &runnerConfig{}
	for _, opt := range options {
		_ = opt(cfg)
	}
	return &Runner{emitter: emitter, opts: cfg.opts}
}

func (r *Runner) emit(runID string, step int, nodeID, msg string, meta map[string]any) {
	if r.emitter == nil {
		return
	}
	r.emitter.Emit(emit.Event{RunID: runID, Step: step, NodeID: nodeID, Msg: msg, Meta: meta})
}

// applyWrites materializes pending writes onto a base channel map, using
// each channel's registered reducer (or overwrite, if none), in
// emission order so that for unreduced channels the last write wins
// (spec §4.4 step 3, §9).
func applyWrites(g *Graph, base map[string]any, writes []Write) map[string]any {
	next := make(map[string]any, len(base)+len(writes))
	for k, v := range base {
		next[k] = v
	}
	for _, w := range writes {
		if reducer, ok := g.ReducerFor(w.Channel); ok {
			next[w.Channel] = reducer(next[w.Channel], w.Value)
		} else {
			next[w.Channel] = w.Value
		}
	}
	return next
}

// pendingFromWrites derives the next superstep's schedule from a step's
// branch:to:* writes. The first write to a given target wins the
// emission-order tie-break; later duplicate writes to the same target
// are dropped (spec §4.4 tie-break rule) but still consume an emission
// index so OrderKey stays tied to position, not to target identity.
func pendingFromWrites(writes []Write) []PendingNode {
	seen := make(map[string]bool, len(writes))
	var pending []PendingNode
	for idx, w := range writes {
		target, ok := BranchTarget(w.Channel)
		if !ok {
			continue
		}
		if seen[target] {
			continue
		}
		seen[target] = true
		pending = append(pending, PendingNode{
			NodeID:   target,
			OrderKey: ComputeOrderKey(idx, target),
			TaskID:   fmt.Sprintf("%s-%d", target, idx),
		})
	}
	return pending
}

// interruptRecordFromWrites scans a checkpoint's pending writes for a
// recorded InterruptRecord (spec §4.4 step 5).
func interruptRecordFromWrites(writes []Write) (InterruptRecord, bool) {
	for _, w := range writes {
		if w.Channel != InterruptChannel {
			continue
		}
		if rec, ok := w.Value.(InterruptRecord); ok {
			return rec, true
		}
	}
	return InterruptRecord{}, false
}

// projectState strips branch and system channels, returning the public
// state a caller observes (spec §3, §4.7).
func projectState(state map[string]any) map[string]any {
	out := make(map[string]any, len(state))
	for k, v := range state {
		if IsStateChannel(k) {
			out[k] = v
		}
	}
	return out
}

// gatherInputs collects a node's declared input channels from state. An
// empty Inputs list means "the full projected state" (spec §4.4 step 3).
func gatherInputs(spec NodeSpec, state map[string]any) map[string]any {
	if len(spec.Inputs) == 0 {
		return projectState(state)
	}
	inputs := make(map[string]any, len(spec.Inputs))
	for _, ch := range spec.Inputs {
		if v, ok := state[ch]; ok {
			inputs[ch] = v
		}
	}
	return inputs
}

// withIdempotencyKey stamps metadata with computeIdempotencyKey's digest of
// this superstep's identity, so a Checkpointer can detect a duplicate Put
// for the same (thread, step, schedule, state) — e.g. a worker retrying
// after a crash between Put and SetFinalState. Best-effort: a marshal
// failure leaves metadata unkeyed rather than failing the checkpoint.
func withIdempotencyKey(metadata map[string]any, threadID string, step int, pending []PendingNode, state map[string]any) map[string]any {
	key, err := computeIdempotencyKey(threadID, step, pending, state)
	if err == nil {
		metadata["idempotency_key"] = key
	}
	return metadata
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Run executes g for threadID starting from its latest checkpoint, or a
// fresh baseline seeded from params if none exists, persisting a new
// checkpoint after every superstep until the pending-node queue drains,
// a node interrupts, or an error occurs (spec §4.4).
//
// params seeds the baseline state for a new thread and is ignored when
// resuming an existing one. When resume is non-nil, the thread must have
// a recorded interrupt: its pending-node queue is restored from the
// InterruptRecord and resume is injected into the interrupted node's
// Config.Resume (spec §4.4 step 5, §9).
func (r *Runner) Run(ctx context.Context, g *Graph, cp Checkpointer, runID, threadID string, params map[string]any, resume any) (map[string]any, error) {
	if r.opts.RunWallClockBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.RunWallClockBudget)
		defer cancel()
	}

	rng := initRNG(runID)
	ctx = context.WithValue(ctx, RNGKey, rng)
	ctx = context.WithValue(ctx, RunIDKey, runID)

	latest, found, err := cp.Latest(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	var (
		state      map[string]any
		pending    []PendingNode
		step       int
		resumeNode string
	)

	switch {
	case !found:
		state = make(map[string]any, len(params))
		for k, v := range params {
			state[k] = v
		}
		var seed []Write
		for _, entry := range g.Entry() {
			seed = append(seed, Write{Channel: BranchChannel(entry), Value: true})
		}
		baseline := Checkpoint{
			ThreadID:      threadID,
			Step:          -1,
			ChannelValues: state,
			PendingWrites: seed,
			Metadata:      withIdempotencyKey(map[string]any{}, threadID, -1, pendingFromWrites(seed), state),
			Timestamp:     time.Now(),
		}
		if err := cp.Put(ctx, baseline); err != nil {
			return nil, fmt.Errorf("persist baseline checkpoint: %w", err)
		}
		pending = pendingFromWrites(seed)
		step = 0

	case resume != nil:
		rec, ok := interruptRecordFromWrites(latest.PendingWrites)
		if !ok {
			return nil, fmt.Errorf("%w: thread %q has no pending interrupt", ErrInvalidTransition, threadID)
		}
		state = applyWrites(g, latest.ChannelValues, latest.PendingWrites)
		pending = rec.Pending
		resumeNode = rec.Node
		step = latest.Step + 1

	default:
		state = applyWrites(g, latest.ChannelValues, latest.PendingWrites)
		pending = pendingFromWrites(latest.PendingWrites)
		step = latest.Step + 1
	}

	for len(pending) > 0 {
		if r.opts.MaxSteps > 0 && step > r.opts.MaxSteps {
			return nil, ErrMaxStepsExceeded
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		writes, interrupt, stepErr := r.runSuperstep(ctx, g, state, pending, runID, threadID, step, resumeNode, resume)
		resumeNode = ""
		resume = nil
		if stepErr != nil {
			return nil, stepErr
		}

		if interrupt != nil {
			allWrites := append(writes, Write{Channel: InterruptChannel, Value: *interrupt})
			cpNew := Checkpoint{
				ThreadID:      threadID,
				Step:          step,
				ChannelValues: state,
				PendingWrites: allWrites,
				Metadata:      withIdempotencyKey(map[string]any{"interrupted": true}, threadID, step, pendingFromWrites(allWrites), state),
				Timestamp:     time.Now(),
			}
			if err := cp.Put(ctx, cpNew); err != nil {
				return nil, fmt.Errorf("persist interrupt checkpoint: %w", err)
			}
			r.emit(runID, step, interrupt.Node, "interrupt", map[string]any{"prompt": interrupt.Prompt})
			out := projectState(applyWrites(g, state, writes))
			out[InterruptChannel] = interrupt.Prompt
			return out, nil
		}

		cpNew := Checkpoint{
			ThreadID:      threadID,
			Step:          step,
			ChannelValues: state,
			PendingWrites: writes,
			Metadata:      withIdempotencyKey(map[string]any{}, threadID, step, pendingFromWrites(writes), state),
			Timestamp:     time.Now(),
		}
		if err := cp.Put(ctx, cpNew); err != nil {
			return nil, fmt.Errorf("persist checkpoint: %w", err)
		}

		state = applyWrites(g, state, writes)
		pending = pendingFromWrites(writes)
		step++
	}

	return projectState(state), nil
}

// runSuperstep dispatches one superstep's pending nodes, sequentially by
// default or concurrently (bounded by Options.MaxConcurrentNodes) when
// configured, and returns the resulting writes in deterministic
// emission order.
func (r *Runner) runSuperstep(ctx context.Context, g *Graph, state map[string]any, pending []PendingNode, runID, threadID string, step int, resumeNode string, resume any) ([]Write, *InterruptRecord, error) {
	sorted := make([]PendingNode, len(pending))
	copy(sorted, pending)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OrderKey < sorted[j].OrderKey })

	if r.opts.Metrics != nil {
		r.opts.Metrics.UpdateQueueDepth(len(sorted))
		r.opts.Metrics.UpdateInflightNodes(len(sorted))
	}

	if r.opts.MaxConcurrentNodes > 1 && len(sorted) > 1 {
		return r.runSuperstepConcurrent(ctx, g, state, sorted, runID, threadID, step, resumeNode, resume)
	}
	return r.runSuperstepSequential(ctx, g, state, sorted, runID, threadID, step, resumeNode, resume)
}

func (r *Runner) invokeNode(ctx context.Context, g *Graph, state map[string]any, pn PendingNode, runID, threadID string, step int, resumeNode string, resume any) (map[string]any, error) {
	spec, ok := g.Node(pn.NodeID)
	if !ok {
		return nil, fmt.Errorf("%w: node %q", ErrNotFound, pn.NodeID)
	}
	config := Config{RunID: runID, ThreadID: threadID, Step: step, TaskID: pn.TaskID}
	if pn.NodeID == resumeNode {
		config.Resume = resume
	}
	inputs := gatherInputs(spec, state)
	r.emit(runID, step, pn.NodeID, "node_start", nil)
	start := time.Now()
	outputs, err := executeNodeWithTimeout(ctx, spec, inputs, config, r.opts.DefaultNodeTimeout)
	if r.opts.Metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		r.opts.Metrics.RecordStepLatency(runID, pn.NodeID, time.Since(start), status)
	}
	if err == nil {
		r.emit(runID, step, pn.NodeID, "node_end", nil)
	}
	return outputs, err
}

func (r *Runner) runSuperstepSequential(ctx context.Context, g *Graph, state map[string]any, pending []PendingNode, runID, threadID string, step int, resumeNode string, resume any) ([]Write, *InterruptRecord, error) {
	var writes []Write
	for i, pn := range pending {
		outputs, err := r.invokeNode(ctx, g, state, pn, runID, threadID, step, resumeNode, resume)
		if err != nil {
			var interruptErr *InterruptError
			if errors.As(err, &interruptErr) {
				rec := &InterruptRecord{Node: pn.NodeID, Prompt: interruptErr.Prompt, Pending: pending[i:]}
				return writes, rec, nil
			}
			r.emit(runID, step, pn.NodeID, "node_error", map[string]any{"error": err.Error()})
			return nil, nil, err
		}
		for _, ch := range sortedKeys(outputs) {
			writes = append(writes, Write{TaskID: pn.TaskID, Channel: ch, Value: outputs[ch]})
		}
	}
	return writes, nil, nil
}

// runSuperstepConcurrent dispatches pending up to Options.MaxConcurrentNodes
// at a time, then merges their outputs in OrderKey order so the result is
// identical to the sequential path regardless of completion timing. If a
// node interrupts, every pending node from it onward in OrderKey order is
// treated as not-yet-proceeded (spec §4.4 step 5 "no further nodes
// execute"), even though some may already have been dispatched
// concurrently; their writes, if any, are discarded.
func (r *Runner) runSuperstepConcurrent(ctx context.Context, g *Graph, state map[string]any, pending []PendingNode, runID, threadID string, step int, resumeNode string, resume any) ([]Write, *InterruptRecord, error) {
	type result struct {
		pn      PendingNode
		outputs map[string]any
		err     error
	}

	sem := make(chan struct{}, r.opts.MaxConcurrentNodes)
	results := make([]result, len(pending))
	var wg sync.WaitGroup
	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i, pn := range pending {
		wg.Add(1)
		go func(i int, pn PendingNode) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-workerCtx.Done():
				results[i] = result{pn: pn, err: workerCtx.Err()}
				return
			}
			outputs, err := r.invokeNode(workerCtx, g, state, pn, runID, threadID, step, resumeNode, resume)
			var interruptErr *InterruptError
			if err != nil && errors.As(err, &interruptErr) {
				results[i] = result{pn: pn, outputs: map[string]any{interruptSentinelKey: interruptErr.Prompt}}
				return
			}
			results[i] = result{pn: pn, outputs: outputs, err: err}
		}(i, pn)
	}
	wg.Wait()

	var writes []Write
	for i, res := range results {
		if res.err != nil {
			return nil, nil, res.err
		}
		if v, ok := res.outputs[interruptSentinelKey]; ok {
			rec := &InterruptRecord{Node: res.pn.NodeID, Prompt: v, Pending: pending[i:]}
			return writes, rec, nil
		}
		for _, ch := range sortedKeys(res.outputs) {
			writes = append(writes, Write{TaskID: res.pn.TaskID, Channel: ch, Value: res.outputs[ch]})
		}
	}
	return writes, nil, nil
}
