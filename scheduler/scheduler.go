// Package scheduler runs the cron-driven trigger loop: on a fixed interval
// (60 seconds by default) it asks the store for due triggers, resolves each one's template, and
// lets the store enqueue the resulting Run (spec §4.6).
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/madmag77/wirl/cron"
	"github.com/madmag77/wirl/store"
	"github.com/madmag77/wirl/template"
)

// defaultTickInterval matches ScheduleRunner's own default
// (poll_interval_seconds=60) in
// original_source/apps/backend/backend/scheduler.py.
const defaultTickInterval = 60 * time.Second

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTickInterval overrides how often due triggers are polled (env
// SCHEDULER_POLL_INTERVAL_SECONDS in original_source, default 60s).
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

// Scheduler polls store.Store.ProcessDueTriggers on a fixed interval
// (grounded on tombee-conductor's daemon scheduler stop/done-channel
// lifecycle; tick semantics from original_source's ScheduleRunner).
type Scheduler struct {
	store     store.Store
	templates *template.Registry
	evaluator *cron.Evaluator

	tickInterval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a Scheduler.
func New(s store.Store, templates *template.Registry, evaluator *cron.Evaluator, opts ...Option) *Scheduler {
	sched := &Scheduler{store: s, templates: templates, evaluator: evaluator, tickInterval: defaultTickInterval}
	for _, opt := range opts {
		opt(sched)
	}
	return sched
}

// Start begins the tick loop in a background goroutine. Calling Start
// while already running is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

// tick processes whatever triggers are due as of now. Errors are logged,
// not returned: a failing tick must not stop future ticks from running.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	if err := s.store.ProcessDueTriggers(ctx, now, s.fire); err != nil {
		log.Printf("scheduler: tick failed: %v", err)
	}
}

// fire is the store.FireFunc invoked once per due trigger, inside the
// store's own transaction: it validates the trigger's template exists
// and computes the trigger's next firing instant. The store inserts the
// Run and persists next_run_at/last_run_at itself (spec §4.6 "always
// compute next firing from now", collapsing any missed ticks into one
// enqueued Run).
func (s *Scheduler) fire(_ context.Context, t *store.Trigger) (time.Time, error) {
	if _, err := s.templates.Resolve(t.TemplateName); err != nil {
		return time.Time{}, fmt.Errorf("trigger %s: %w", t.Name, err)
	}
	next, err := s.evaluator.Next(t.Cron, t.Timezone, time.Now().UTC())
	if err != nil {
		return time.Time{}, fmt.Errorf("trigger %s: %w", t.Name, err)
	}
	return next, nil
}
