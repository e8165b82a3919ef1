// Package graph provides the checkpointed graph execution engine for wirl.
package graph

import (
	"context"
	"fmt"
)

// Config carries per-invocation metadata passed to a node function.
//
// A node never touches the checkpoint machinery directly; it only sees
// its declared input channels and this Config.
type Config struct {
	RunID    string
	ThreadID string
	Step     int
	Attempt  int
	TaskID   string

	// Resume carries the external answer injected by a `continue` call
	// when this node is being re-invoked after an interrupt. Nil on a
	// normal invocation.
	Resume any
}

// NodeFunc is the single-method contract every workflow node implements:
// a pure function from its declared input channels to a map of output
// channel writes. Node functions are an external collaborator (the
// template author's code); the runner never inspects their internals,
// only their return value.
//
// A node signals a human-in-the-loop pause by returning an *InterruptError
// instead of a normal error.
type NodeFunc interface {
	Invoke(ctx context.Context, inputs map[string]any, config Config) (map[string]any, error)
}

// NodeFuncAdapter lets a plain function satisfy NodeFunc, mirroring
// http.HandlerFunc.
type NodeFuncAdapter func(ctx context.Context, inputs map[string]any, config Config) (map[string]any, error)

// Invoke calls the underlying function.
func (f NodeFuncAdapter) Invoke(ctx context.Context, inputs map[string]any, config Config) (map[string]any, error) {
	return f(ctx, inputs, config)
}

// InterruptError is returned by a node function to pause the run pending
// external input. Prompt is opaque to the runner; it is surfaced to the
// caller verbatim inside the `__interrupt__` channel.
type InterruptError struct {
	Prompt any
}

func (e *InterruptError) Error() string {
	return fmt.Sprintf("interrupt requested: %v", e.Prompt)
}

// Interrupt constructs an InterruptError. Node functions call this to
// request a human-in-the-loop pause.
func Interrupt(prompt any) error {
	return &InterruptError{Prompt: prompt}
}

// NodeError wraps a node function's returned error with the node and
// run identifiers that produced it, so a worker can surface a precise
// ExecutionFailed message.
type NodeError struct {
	RunID  string
	NodeID string
	Cause  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %v", e.NodeID, e.Cause)
}

func (e *NodeError) Unwrap() error {
	return e.Cause
}
