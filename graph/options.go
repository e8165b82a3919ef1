package graph

import "time"

// Option is a functional option for configuring a Runner.
//
// Example:
//
//	runner := graph.NewRunner(emitter,
//	    graph.WithMaxConcurrentNodes(8),
//	    graph.WithDefaultNodeTimeout(10*time.Second),
//	)
type Option func(*runnerConfig) error

// runnerConfig collects options before they are applied to a Runner.
type runnerConfig struct {
	opts Options
}

// Options configures Runner execution behavior. Zero values are valid.
type Options struct {
	// MaxSteps limits the number of supersteps a single Run executes, to
	// guard against a graph that never drains its pending-node queue.
	// 0 means no limit.
	MaxSteps int

	// MaxConcurrentNodes bounds how many pending nodes of one superstep
	// are dispatched concurrently. 0 (default) executes them
	// sequentially in OrderKey order (spec §9 Open Question c).
	MaxConcurrentNodes int

	// QueueDepth is stored by WithQueueDepth but not read by the Runner:
	// concurrent supersteps are bounded by MaxConcurrentNodes alone.
	QueueDepth int

	// DefaultNodeTimeout is applied to nodes without an explicit
	// NodePolicy.Timeout. 0 means no timeout.
	DefaultNodeTimeout time.Duration

	// RunWallClockBudget bounds the total wall-clock time of one Run
	// call. 0 disables the budget.
	RunWallClockBudget time.Duration

	// Metrics, if set, receives Prometheus observability updates during
	// execution.
	Metrics *PrometheusMetrics
}

// WithMaxSteps limits the number of supersteps a Run executes.
func WithMaxSteps(n int) Option {
	return func(cfg *runnerConfig) error {
		cfg.opts.MaxSteps = n
		return nil
	}
}

// WithMaxConcurrentNodes sets how many pending nodes of one superstep may
// run concurrently. Default is sequential (0).
func WithMaxConcurrentNodes(n int) Option {
	return func(cfg *runnerConfig) error {
		cfg.opts.MaxConcurrentNodes = n
		return nil
	}
}

// WithQueueDepth sets Options.QueueDepth, which the Runner does not read.
func WithQueueDepth(n int) Option {
	return func(cfg *runnerConfig) error {
		cfg.opts.QueueDepth = n
		return nil
	}
}

// WithDefaultNodeTimeout sets the timeout applied to nodes that don't
// declare their own NodePolicy.Timeout.
func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(cfg *runnerConfig) error {
		cfg.opts.DefaultNodeTimeout = d
		return nil
	}
}

// WithRunWallClockBudget bounds the total wall-clock time of a Run call.
func WithRunWallClockBudget(d time.Duration) Option {
	return func(cfg *runnerConfig) error {
		cfg.opts.RunWallClockBudget = d
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection for the Runner.
func WithMetrics(metrics *PrometheusMetrics) Option {
	return func(cfg *runnerConfig) error {
		cfg.opts.Metrics = metrics
		return nil
	}
}
