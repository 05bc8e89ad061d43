package recurrence

import (
	"errors"
	"sort"
	"time"

	appLog "github.com/RTSDA/RTSDA-Android-sub001/internal/log"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 500
)

// ExpandConfig controls the window and safety cap for Expand.
type ExpandConfig struct {
	// RangeStart / RangeEnd define the inclusive time window for occurrences.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps the occurrences produced for one stored
	// event. If zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps the expanded occurrences and the ids of events that hit
// the cap.
type ExpandResult struct {
	Occurrences     []model.ScheduledEvent
	TruncatedEvents []string
}

// Expand turns stored events into the concrete occurrences that intersect
// the configured window. Recurring events are walked with NextOccurrence, so
// the generated occurrences follow exactly the rules the sweep applies.
// Generated occurrences carry an empty ID and ParentID set to the stored
// event; the stored occurrence itself is returned unchanged when it falls in
// the window. Results are ordered by start time.
func (s *Scheduler) Expand(events []model.ScheduledEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	all := make([]model.ScheduledEvent, 0)
	for _, ev := range events {
		occ, hitCap := s.expandEvent(ev, cfg)
		if hitCap {
			result.TruncatedEvents = append(result.TruncatedEvents, ev.ID)
			appLog.Warn("expand: truncated occurrences for event due to cap",
				"id", ev.ID,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
		all = append(all, occ...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Start.Before(all[j].Start)
	})
	result.Occurrences = all
	return result, nil
}

func (s *Scheduler) expandEvent(ev model.ScheduledEvent, cfg ExpandConfig) ([]model.ScheduledEvent, bool) {
	out := make([]model.ScheduledEvent, 0)

	if !ev.Recurrence.Recurring() {
		if timeRangesOverlap(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
			out = append(out, ev)
		}
		return out, false
	}

	cur := ev
	for step := 0; step < maxRollSteps; step++ {
		if cur.Start.After(cfg.RangeEnd) {
			return out, false
		}
		if timeRangesOverlap(cur.Start, cur.End, cfg.RangeStart, cfg.RangeEnd) {
			if len(out) == cfg.MaxOccurrencesPerEvent {
				return out, true
			}
			if step > 0 {
				cur.ParentID = ev.ID
			}
			out = append(out, cur)
		}

		next, err := s.NextOccurrence(cur)
		if err != nil {
			appLog.Error("expand: next occurrence failed", err, "id", ev.ID)
			return out, false
		}
		cur = next
	}
	return out, true
}

func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Before(bStart) {
		return false
	}
	if bEnd.Before(aStart) {
		return false
	}
	return true
}
