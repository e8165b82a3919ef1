package main

import (
	"context"

	"github.com/madmag77/wirl/graph"
	"github.com/madmag77/wirl/template"
)

// builtinRegistry mirrors cmd/worker's registry: the scheduler only
// needs it to validate a trigger's template_name exists before
// computing the next firing (spec §4.6's fire callback never executes
// the graph itself, the worker does).
func builtinRegistry() *template.Registry {
	r := template.NewRegistry()
	r.Register("echo", buildEchoGraph)
	return r
}

func buildEchoGraph() *graph.Graph {
	g := graph.NewGraph()
	g.AddNode("Echo", graph.NodeFuncAdapter(func(_ context.Context, inputs map[string]any, _ graph.Config) (map[string]any, error) {
		return map[string]any{"reply": inputs["message"]}, nil
	}), "message")
	g.SetEntry("Echo")
	return g
}
