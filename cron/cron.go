// Package cron computes the next firing instant for a trigger's
// five-field cron expression and IANA timezone (spec §4.6).
package cron

import (
	"fmt"
	"time"

	"github.com/madmag77/wirl/graph"
	"github.com/robfig/cron/v3"
)

// standardParser accepts the conventional five-field form
// (minute hour day-of-month month day-of-week), matching croniter's
// default in original_source/apps/backend/backend/scheduler.py rather
// than robfig/cron's non-standard six-field-with-seconds default.
var standardParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Evaluator computes next firing instants for cron expressions. It has
// no state: every call re-parses expr, since triggers rarely fire (at
// most once a minute) and a parse cache would add complexity the call
// volume doesn't justify.
type Evaluator struct{}

// NewEvaluator returns an Evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Next returns the first instant strictly after from, in UTC, that expr
// matches when interpreted in zone (spec §4.6): from is converted into
// zone and truncated to the start of the minute first, so that polling
// the same trigger multiple times within one minute never yields two
// different answers. Returns graph.ErrUnknownTimezone for an
// unrecognized zone and graph.ErrInvalidCron for a malformed
// expression.
func (e *Evaluator) Next(expr, zone string, from time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s", graph.ErrUnknownTimezone, zone)
	}

	schedule, err := standardParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", graph.ErrInvalidCron, expr, err)
	}

	base := from.In(loc).Truncate(time.Minute)
	next := schedule.Next(base)
	return next.UTC(), nil
}
