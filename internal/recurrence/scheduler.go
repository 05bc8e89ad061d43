// Package recurrence rolls recurring church events forward.
//
// All calendar arithmetic (days, months, weekdays) runs in one pinned time
// zone so results do not depend on the host's local zone. Durations are
// carried in absolute time, which keeps them stable across DST transitions.
package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/RTSDA/RTSDA-Android-sub001/internal/model"
)

var (
	// ErrInvalidArgument is returned when an operation needs a recurring
	// event and gets a non-recurring (or unknown) rule.
	ErrInvalidArgument = errors.New("recurrence: invalid argument")

	// ErrTooManySteps is returned when rolling forward would need more than
	// maxRollSteps advances.
	ErrTooManySteps = errors.New("recurrence: too many steps")
)

// maxRollSteps bounds RollForward and Expand. 20000 daily steps is ~55 years.
const maxRollSteps = 20000

// Scheduler computes occurrences in a pinned time zone. It holds no mutable
// state and is safe for concurrent use.
type Scheduler struct {
	loc *time.Location
}

// New returns a Scheduler pinned to loc. A nil loc pins UTC.
func New(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{loc: loc}
}

// Location returns the pinned zone.
func (s *Scheduler) Location() *time.Location {
	return s.loc
}

// NextOccurrence returns the occurrence following e.
//
// The result keeps e's duration, rule and descriptive fields, points
// ParentID at e.ID and leaves ID empty for the caller to assign. Monthly
// advances clamp to the last day of the target month (Jan 31 -> Feb 29 in a
// leap year). Non-recurring rules fail with ErrInvalidArgument.
func (s *Scheduler) NextOccurrence(e model.ScheduledEvent) (model.ScheduledEvent, error) {
	start := e.Start.In(s.loc)

	var next time.Time
	switch e.Recurrence {
	case model.RuleDaily:
		next = start.AddDate(0, 0, 1)
	case model.RuleWeekly:
		next = start.AddDate(0, 0, 7)
	case model.RuleBiweekly:
		next = start.AddDate(0, 0, 14)
	case model.RuleMonthly:
		next = addMonthClamped(start)
	case model.RuleFirstTuesdayOfMonth:
		next = firstTuesdayOfNextMonth(start)
	default:
		return model.ScheduledEvent{}, fmt.Errorf("%w: event %q has rule %q", ErrInvalidArgument, e.ID, e.Recurrence)
	}

	out := e
	out.ID = ""
	out.ParentID = e.ID
	out.Start = next
	out.End = next.Add(e.Duration())
	return out, nil
}

// IsUpcoming reports whether e starts at or after asOf.
func (s *Scheduler) IsUpcoming(e model.ScheduledEvent, asOf time.Time) bool {
	return !e.Start.Before(asOf)
}

// RollForward advances e at least once and keeps advancing until the
// occurrence is upcoming relative to asOf. The returned occurrence has
// ParentID set to e.ID, not to any intermediate step.
func (s *Scheduler) RollForward(e model.ScheduledEvent, asOf time.Time) (model.ScheduledEvent, error) {
	if !e.Recurrence.Recurring() {
		return model.ScheduledEvent{}, fmt.Errorf("%w: event %q has rule %q", ErrInvalidArgument, e.ID, e.Recurrence)
	}

	cur := e
	for i := 0; i < maxRollSteps; i++ {
		next, err := s.NextOccurrence(cur)
		if err != nil {
			return model.ScheduledEvent{}, err
		}
		cur = next
		if s.IsUpcoming(cur, asOf) {
			cur.ParentID = e.ID
			return cur, nil
		}
	}
	return model.ScheduledEvent{}, fmt.Errorf("%w: event %q not upcoming after %d advances", ErrTooManySteps, e.ID, maxRollSteps)
}

// Upcoming filters events to those starting at or after asOf, ordered by
// start time.
func (s *Scheduler) Upcoming(events []model.ScheduledEvent, asOf time.Time) []model.ScheduledEvent {
	out := make([]model.ScheduledEvent, 0, len(events))
	for _, e := range events {
		if s.IsUpcoming(e, asOf) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

func addMonthClamped(t time.Time) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()

	last := daysIn(y, m+1, t.Location())
	if d > last {
		d = last
	}
	return time.Date(y, m+1, d, hh, mm, ss, t.Nanosecond(), t.Location())
}

func firstTuesdayOfNextMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	hh, mm, ss := t.Clock()

	day := time.Date(y, m+1, 1, hh, mm, ss, t.Nanosecond(), t.Location())
	for day.Weekday() != time.Tuesday {
		day = day.AddDate(0, 0, 1)
	}
	return day
}

// daysIn returns the number of days in month m of year y; m may overflow
// into the following year.
func daysIn(y int, m time.Month, loc *time.Location) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, loc).Day()
}
