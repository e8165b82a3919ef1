package cron

import (
	"errors"
	"testing"
	"time"

	"github.com/madmag77/wirl/graph"
)

func TestEvaluatorNextIsStrictlyAfterAndMatches(t *testing.T) {
	e := NewEvaluator()
	from := time.Date(2026, 7, 30, 8, 45, 0, 0, time.UTC)

	next, err := e.Next("0 9 * * *", "UTC", from)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	want := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("got %v, want %v", next, want)
	}
	if !next.After(from) {
		t.Fatalf("expected next %v to be strictly after from %v", next, from)
	}
}

func TestEvaluatorSameMinutePollIsStable(t *testing.T) {
	e := NewEvaluator()
	a, err := e.Next("*/15 * * * *", "UTC", time.Date(2026, 1, 1, 10, 0, 10, 0, time.UTC))
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	b, err := e.Next("*/15 * * * *", "UTC", time.Date(2026, 1, 1, 10, 0, 50, 0, time.UTC))
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if !a.Equal(b) {
		t.Fatalf("expected same-minute polls to agree, got %v and %v", a, b)
	}
}

func TestEvaluatorTimezoneConvertsToUTC(t *testing.T) {
	e := NewEvaluator()
	from := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	next, err := e.Next("0 9 * * *", "America/New_York", from)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if next.Location() != time.UTC {
		t.Fatalf("expected result in UTC, got %v", next.Location())
	}
}

func TestEvaluatorUnknownTimezone(t *testing.T) {
	e := NewEvaluator()
	_, err := e.Next("0 9 * * *", "Not/AZone", time.Now())
	if !errors.Is(err, graph.ErrUnknownTimezone) {
		t.Fatalf("expected ErrUnknownTimezone, got %v", err)
	}
}

func TestEvaluatorInvalidCron(t *testing.T) {
	e := NewEvaluator()
	_, err := e.Next("not a cron", "UTC", time.Now())
	if !errors.Is(err, graph.ErrInvalidCron) {
		t.Fatalf("expected ErrInvalidCron, got %v", err)
	}
}
