// Package graph provides the checkpointed graph execution engine for wirl.
package graph

import "errors"

// Error taxonomy (spec §7). These are kinds, not wrapped types: callers
// use errors.Is against the sentinels below. ExecutionFailed and Timeout
// are represented by *NodeError and context.DeadlineExceeded respectively
// rather than dedicated sentinels, since they always carry a node/run.

// ErrMaxStepsExceeded indicates that the graph execution reached the
// maximum allowed superstep count without completing. This prevents
// infinite loops in cyclic graphs.
var ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")

// ErrBackpressure indicates that the frontier queue is saturated and new
// work could not be admitted within the configured timeout.
var ErrBackpressure = errors.New("downstream backpressure exceeded threshold")

// ErrNoProgress indicates a superstep produced no pending nodes and no
// interrupt, yet the run was expected to continue (a graph authoring
// bug: a node neither terminated nor routed anywhere).
var ErrNoProgress = errors.New("superstep made no progress: no pending nodes and no interrupt")

// ErrInvalidRetryPolicy indicates a NodePolicy.RetryPolicy fails
// validation (MaxAttempts < 1, or MaxDelay < BaseDelay).
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// ErrReplayMismatch indicates a replayed node produced a response whose
// hash differs from the one recorded during original execution —
// evidence of non-deterministic node behavior (stray RNG, wall-clock
// reads, unseeded map iteration).
var ErrReplayMismatch = errors.New("replay mismatch: recorded response hash does not match live execution")

// ErrIdempotencyViolation indicates a checkpoint write was rejected
// because its idempotency key already exists for a different step.
var ErrIdempotencyViolation = errors.New("idempotency violation: duplicate checkpoint write")

// ErrMaxAttemptsExceeded indicates a node exhausted its configured
// retry attempts without succeeding.
var ErrMaxAttemptsExceeded = errors.New("node exceeded maximum retry attempts")

// Store-layer sentinels (spec §4.1/§7): every Store method fails with
// ErrStoreUnavailable on connection loss; a conditional update that
// touched zero rows (e.g. SetFinalState on an already-canceled run)
// returns ErrConflict and is treated as a no-op by callers.
var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict: conditional update matched no rows")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Scheduler/template sentinels (spec §7).
var (
	ErrInvalidCron      = errors.New("invalid cron expression")
	ErrUnknownTimezone  = errors.New("unknown timezone")
	ErrTemplateMissing  = errors.New("template not found")
	ErrValidation       = errors.New("validation error")
)
