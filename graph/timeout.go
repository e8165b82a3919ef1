package graph

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// getNodeTimeout determines the timeout duration for a node based on precedence:
// 1. NodePolicy.Timeout (per-node override)
// 2. defaultTimeout (runner-wide default)
// 3. 0 (no timeout, unlimited execution)
func getNodeTimeout(policy *NodePolicy, defaultTimeout time.Duration) time.Duration {
	if policy != nil && policy.Timeout > 0 {
		return policy.Timeout
	}
	if defaultTimeout > 0 {
		return defaultTimeout
	}
	return 0
}

// executeNodeWithTimeout enforces a node's effective timeout (NodePolicy.Timeout,
// falling back to the runner's default) around a single invocation. An
// *InterruptError from the node passes through unaltered; any other error is
// wrapped in *NodeError so callers can identify which node and run failed.
func executeNodeWithTimeout(
	ctx context.Context,
	spec NodeSpec,
	inputs map[string]any,
	config Config,
	defaultTimeout time.Duration,
) (map[string]any, error) {
	timeout := getNodeTimeout(spec.Policy, defaultTimeout)

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	outputs, err := spec.Fn.Invoke(runCtx, inputs, config)
	if err == nil {
		return outputs, nil
	}

	var interruptErr *InterruptError
	if errors.As(err, &interruptErr) {
		return outputs, err
	}

	if timeout > 0 && runCtx.Err() == context.DeadlineExceeded {
		return outputs, &NodeError{
			RunID:  config.RunID,
			NodeID: spec.ID,
			Cause:  fmt.Errorf("node exceeded timeout of %v: %w", timeout, context.DeadlineExceeded),
		}
	}

	return outputs, &NodeError{RunID: config.RunID, NodeID: spec.ID, Cause: err}
}
