package template

import (
	"fmt"
	"sync"

	"github.com/madmag77/wirl/graph"
)

// Builder constructs the compiled graph.Graph for one template. Node
// functions are an external collaborator (spec §1 Non-goals: "the
// template DSL parser, and specific LLM/embedding calls"), so rather
// than dynamically importing a Python module by path
// (original_source's `fn_map` binding in apps/workers/workers/db.py's
// run_wirl), a Go build registers each known template's Builder ahead
// of time — the static-typing analogue of that dynamic import.
type Builder func() *graph.Graph

// Registry binds graph_name identifiers to Builders (spec §9 fn_map).
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Register binds id (a Template's ID) to a Builder.
func (r *Registry) Register(id string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[id] = b
}

// Resolve builds the graph.Graph for id, or returns graph.ErrTemplateMissing
// if nothing is registered under that name (spec §4.5, §6).
func (r *Registry) Resolve(id string) (*graph.Graph, error) {
	r.mu.RLock()
	b, ok := r.builders[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", graph.ErrTemplateMissing, id)
	}
	return b(), nil
}
