package graph

import "sync"

// Reducer combines a channel's previous value with a newly written
// delta. If a channel has no registered reducer, a new write simply
// overwrites the previous value (spec §4.4 step 3, §9).
type Reducer func(prev, delta any) any

// AppendReducer implements list-append semantics: prev and delta are
// both treated as slices and concatenated. A nil prev is treated as
// empty.
func AppendReducer(prev, delta any) any {
	prevSlice, _ := prev.([]any)
	deltaSlice, ok := delta.([]any)
	if !ok {
		return append(append([]any{}, prevSlice...), delta)
	}
	return append(append([]any{}, prevSlice...), deltaSlice...)
}

// NodeSpec is one node's registration in a Graph: its function and the
// state channels it declares as input. An empty Inputs means "pass the
// full projected state" (spec §4.4 step 3: "gather its declared input
// channels from current_state").
type NodeSpec struct {
	ID     string
	Fn     NodeFunc
	Inputs []string
	Policy *NodePolicy
}

// Graph is the in-memory representation of a template: nodes, their
// declared channels, and the entry point(s) that seed the baseline
// checkpoint's pending_writes (spec §2 "Graph Model", §4.4 step 1).
// Successor edges are not a static adjacency list; they are dynamic,
// expressed at runtime as branch:to:<Node> writes emitted by node
// functions (spec §9).
type Graph struct {
	mu       sync.RWMutex
	nodes    map[string]NodeSpec
	entry    []string
	reducers map[string]Reducer
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:    make(map[string]NodeSpec),
		reducers: make(map[string]Reducer),
	}
}

// AddNode registers a node function under id, declaring the state
// channels it consumes (order irrelevant; empty means "all").
func (g *Graph) AddNode(id string, fn NodeFunc, inputs ...string) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes[id] = NodeSpec{ID: id, Fn: fn, Inputs: inputs}
	return g
}

// AddNodeWithPolicy registers a node together with a NodePolicy
// (timeout/retry/idempotency overrides).
func (g *Graph) AddNodeWithPolicy(id string, fn NodeFunc, policy *NodePolicy, inputs ...string) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes[id] = NodeSpec{ID: id, Fn: fn, Inputs: inputs, Policy: policy}
	return g
}

// SetEntry declares the node(s) that run first. The baseline checkpoint
// is seeded with a branch:to:<Entry> write per entry node, in the order
// given here.
func (g *Graph) SetEntry(nodeIDs ...string) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entry = append([]string{}, nodeIDs...)
	return g
}

// SetReducer registers a reducer for a state channel. Channels without
// a registered reducer use overwrite (last write in emission order
// wins).
func (g *Graph) SetReducer(channel string, r Reducer) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reducers[channel] = r
	return g
}

// Node returns the registered spec for id.
func (g *Graph) Node(id string) (NodeSpec, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// Entry returns the configured entry node IDs.
func (g *Graph) Entry() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string{}, g.entry...)
}

// ReducerFor returns the reducer registered for channel, if any.
func (g *Graph) ReducerFor(channel string) (Reducer, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.reducers[channel]
	return r, ok
}
