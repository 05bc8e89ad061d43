package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "github.com/RTSDA/RTSDA-Android-sub001/internal/log"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/model"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/recurrence"
)

// ParseICS converts the VEVENTs of one feed into scheduled events.
//
// The UID becomes the event id, so re-importing a feed is idempotent.
// Floating times (no TZID, no trailing Z) and all-day dates are read in loc
// rather than the host zone. RRULEs map onto the supported rules; anything
// else is imported as a one-off. Overridden instances (RECURRENCE-ID) and
// EXDATEs have no counterpart in the event model and are skipped.
func ParseICS(src Source, body []byte, loc *time.Location) ([]model.ScheduledEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.UTC
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", src.ID, err)
	}

	events := make([]model.ScheduledEvent, 0)
	for _, ve := range cal.Events() {
		if ve.GetProperty(ical.ComponentPropertyRecurrenceId) != nil {
			appLog.Debug("ics: skipping overridden instance", "id", src.ID, "uid", propValue(ve, ical.ComponentPropertyUniqueId))
			continue
		}
		ev, err := parseVEvent(ve, loc)
		if err != nil {
			appLog.Warn("ics: skipping vevent", "id", src.ID, "error", err.Error())
			continue
		}
		events = append(events, ev)
	}

	appLog.Info("ics parse completed", "id", src.ID, "event_count", len(events))
	return events, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (model.ScheduledEvent, error) {
	var out model.ScheduledEvent

	out.ID = propValue(ve, ical.ComponentPropertyUniqueId)
	if out.ID == "" {
		return out, errors.New("missing UID")
	}
	out.Title = strings.TrimSpace(propValue(ve, ical.ComponentPropertySummary))
	if out.Title == "" {
		out.Title = "(untitled)"
	}
	out.Description = propValue(ve, ical.ComponentPropertyDescription)
	out.Location = propValue(ve, ical.ComponentPropertyLocation)

	start, allDay, err := eventTime(ve, ical.ComponentPropertyDtStart, loc)
	if err != nil {
		return out, fmt.Errorf("uid %s: DTSTART: %w", out.ID, err)
	}
	out.Start = start

	if ve.GetProperty(ical.ComponentPropertyDtEnd) != nil {
		end, _, err := eventTime(ve, ical.ComponentPropertyDtEnd, loc)
		if err != nil {
			return out, fmt.Errorf("uid %s: DTEND: %w", out.ID, err)
		}
		out.End = end
	}
	if out.End.IsZero() || out.End.Before(out.Start) {
		if allDay {
			out.End = out.Start.AddDate(0, 0, 1)
		} else {
			out.End = out.Start
		}
	}

	out.Recurrence = model.RuleNone
	if raw := propValue(ve, ical.ComponentPropertyRrule); raw != "" {
		rule, err := recurrence.RuleFromRRule(raw)
		if err != nil {
			appLog.Warn("ics: unsupported RRULE; importing as one-off", "uid", out.ID, "rrule", raw, "error", err.Error())
		} else {
			out.Recurrence = rule
		}
	}
	return out, nil
}

// eventTime reads a DTSTART/DTEND property. Values with a TZID or a UTC
// suffix keep their zone; floating values and dates are pinned to loc.
func eventTime(ve *ical.VEvent, p ical.ComponentProperty, loc *time.Location) (time.Time, bool, error) {
	prop := ve.GetProperty(p)
	if prop == nil {
		return time.Time{}, false, errors.New("missing")
	}
	val := strings.TrimSpace(prop.Value)
	allDay := !strings.Contains(val, "T")
	if vs, ok := prop.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		allDay = true
	}
	_, hasTZ := prop.ICalParameters["TZID"]

	var (
		t   time.Time
		err error
	)
	if p == ical.ComponentPropertyDtEnd {
		t, err = ve.GetEndAt()
	} else {
		t, err = ve.GetStartAt()
	}
	if err != nil {
		return time.Time{}, allDay, err
	}

	if allDay || (!hasTZ && !strings.HasSuffix(val, "Z")) {
		t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
	}
	return t, allDay, nil
}

func propValue(ve *ical.VEvent, p ical.ComponentProperty) string {
	if prop := ve.GetProperty(p); prop != nil {
		return prop.Value
	}
	return ""
}
