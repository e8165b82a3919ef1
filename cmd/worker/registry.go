package main

import (
	"context"

	"github.com/madmag77/wirl/graph"
	"github.com/madmag77/wirl/template"
)

// builtinRegistry binds the graph_name identifiers this daemon can
// execute to their compiled graph.Graph. The template DSL ("*.wirl"
// files discovered under WORKFLOW_DEFINITIONS_PATH) has no parser in
// this module (an explicit non-goal); a real deployment extends this
// registry with one Builder per template it wants this worker to serve.
func builtinRegistry() *template.Registry {
	r := template.NewRegistry()
	r.Register("echo", buildEchoGraph)
	return r
}

// buildEchoGraph is a minimal single-node graph: it copies its "message"
// input channel to "reply", useful for exercising the worker pool and
// store end to end without a real workflow template.
func buildEchoGraph() *graph.Graph {
	g := graph.NewGraph()
	g.AddNode("Echo", graph.NodeFuncAdapter(func(_ context.Context, inputs map[string]any, _ graph.Config) (map[string]any, error) {
		return map[string]any{"reply": inputs["message"]}, nil
	}), "message")
	g.SetEntry("Echo")
	return g
}
