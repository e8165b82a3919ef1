// Package worker runs a pool of goroutines that claim queued Runs from a
// store.Store, execute their graph.Graph via a graph.Runner, and record
// the outcome (spec §4.5).
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/madmag77/wirl/graph"
	"github.com/madmag77/wirl/store"
	"github.com/madmag77/wirl/template"
)

// claimPollInterval is how long an idle worker sleeps between
// ClaimNextQueued attempts when nothing is queued, matching
// original_source/apps/workers/workers/worker_pool.py's `time.sleep(10)`.
const claimPollInterval = 10 * time.Second

const defaultConcurrency = 4
const defaultTaskTimeout = 20 * time.Minute

// Option configures a Pool.
type Option func(*Pool)

// WithConcurrency sets how many workers run concurrently (env WORKERS in
// original_source, default 4).
func WithConcurrency(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithTaskTimeout bounds how long a single Run's graph.Runner.Run call may
// execute before it is canceled and recorded as failed (env
// TASK_TIMEOUT_MINUTES in original_source, default 20 minutes).
func WithTaskTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.taskTimeout = d
		}
	}
}

// WithPollInterval overrides the idle-worker sleep between claim attempts.
func WithPollInterval(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// Pool runs N concurrent worker loops, each repeatedly claiming the next
// queued Run, resolving its template, and invoking the graph engine on it
// (spec §4.5, grounded on worker_pool.py's `worker()`/`main()`).
type Pool struct {
	store        store.Store
	checkpointer graph.Checkpointer
	templates    *template.Registry
	runner       *graph.Runner

	concurrency  int
	taskTimeout  time.Duration
	pollInterval time.Duration
}

// NewPool creates a Pool. runner executes graphs; checkpointer is the
// graph engine's persistence layer (distinct from store, which tracks
// Run/Trigger rows — spec §4.8 keeps these as separate concerns).
func NewPool(s store.Store, cp graph.Checkpointer, templates *template.Registry, runner *graph.Runner, opts ...Option) *Pool {
	p := &Pool{
		store:        s,
		checkpointer: cp,
		templates:    templates,
		runner:       runner,
		concurrency:  defaultConcurrency,
		taskTimeout:  defaultTaskTimeout,
		pollInterval: claimPollInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts p.concurrency worker loops and blocks until ctx is canceled,
// then waits for all in-flight tasks to finish.
func (p *Pool) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		workerID := fmt.Sprintf("worker-%d", i+1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.loop(ctx, workerID)
		}()
	}
	wg.Wait()
	return nil
}

// loop repeatedly claims and executes runs until ctx is canceled.
func (p *Pool) loop(ctx context.Context, workerID string) {
	for {
		if ctx.Err() != nil {
			return
		}

		run, found, err := p.store.ClaimNextQueued(ctx, workerID)
		if err != nil {
			log.Printf("worker %s: claim failed: %v", workerID, err)
			if !sleepOrDone(ctx, p.pollInterval) {
				return
			}
			continue
		}
		if !found {
			if !sleepOrDone(ctx, p.pollInterval) {
				return
			}
			continue
		}

		p.execute(ctx, workerID, run)
	}
}

// execute runs one claimed Run to completion and records its outcome.
// Resume selection follows spec §4.5: a resume_payload or a retried
// attempt (attempt > 1) means the thread already has checkpointed state,
// so params is omitted and resume carries the continuation payload;
// otherwise this is the run's first attempt and inputs seed a fresh
// thread.
func (p *Pool) execute(ctx context.Context, workerID string, run *store.Run) {
	g, err := p.templates.Resolve(run.GraphName)
	if err != nil {
		p.fail(ctx, run.ID, err.Error())
		return
	}

	var params map[string]any
	var resume any
	if run.ResumePayload != nil || run.Attempt > 1 {
		decoded, err := store.DecodeResumePayload(run.ResumePayload)
		if err != nil {
			p.fail(ctx, run.ID, err.Error())
			return
		}
		resume = decoded
	} else {
		params = run.Inputs
	}

	taskCtx, cancel := context.WithTimeout(ctx, p.taskTimeout)
	defer cancel()

	out, err := p.runner.Run(taskCtx, g, p.checkpointer, run.ID, run.ThreadID, params, resume)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			p.fail(ctx, run.ID, fmt.Sprintf("Task timed out after %d minutes", int(p.taskTimeout.Minutes())))
			return
		}
		p.fail(ctx, run.ID, err.Error())
		return
	}

	if _, interrupted := out[graph.InterruptChannel]; interrupted {
		if err := p.store.SetFinalState(ctx, run.ID, store.StateNeedsInput, out, nil); err != nil {
			log.Printf("worker %s: SetFinalState(needs_input) run=%s: %v", workerID, run.ID, err)
		}
		return
	}

	if err := p.store.SetFinalState(ctx, run.ID, store.StateSucceeded, out, nil); err != nil {
		log.Printf("worker %s: SetFinalState(succeeded) run=%s: %v", workerID, run.ID, err)
	}
}

func (p *Pool) fail(ctx context.Context, runID, msg string) {
	if err := p.store.SetFinalState(ctx, runID, store.StateFailed, nil, &msg); err != nil {
		log.Printf("SetFinalState(failed) run=%s: %v", runID, err)
	}
}

// sleepOrDone waits for d or ctx cancellation, reporting which happened.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
