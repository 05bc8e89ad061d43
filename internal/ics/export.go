package ics

import (
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "github.com/RTSDA/RTSDA-Android-sub001/internal/log"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/model"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/recurrence"
)

const (
	localTimeFormat = "20060102T150405"

	// defaultExportHorizon bounds the explicit dates written for events whose
	// rule has no RRULE equivalent.
	defaultExportHorizon = 365 * 24 * time.Hour
)

// ExportOptions describes the published calendar.
type ExportOptions struct {
	Name string
	// Location is the zone recurrence is computed in; nil means UTC.
	Location *time.Location
	// Now stamps DTSTAMP; zero means time.Now.
	Now time.Time
	// Horizon bounds the RDATE list of clamped monthly events. Zero means
	// one year.
	Horizon time.Duration
}

// Export renders events as a VCALENDAR. Times are written in the pinned zone
// with a matching VTIMEZONE so that clients expand RRULEs on the same wall
// clock as the scheduler. Monthly events on day 29 or later are clamped by
// the scheduler in ways RRULE cannot express; they are written with the
// scheduler's own dates as RDATEs instead. Rolled-forward occurrences point
// at their predecessor with RELATED-TO.
func Export(events []model.ScheduledEvent, opts ExportOptions) string {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	horizon := opts.Horizon
	if horizon <= 0 {
		horizon = defaultExportHorizon
	}
	sched := recurrence.New(loc)

	cal := ical.NewCalendarFor("RTSDA Church Calendar")
	cal.SetMethod(ical.MethodPublish)
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}
	zoned := loc != time.UTC
	if zoned {
		cal.SetXWRTimezone(loc.String())
		year := now.In(loc).Year()
		for _, e := range events {
			if y := e.Start.In(loc).Year(); y < year {
				year = y
			}
		}
		cal.AddVTimezone(vtimezone(loc, year))
	}

	for _, e := range events {
		ve := cal.AddEvent(e.ID)
		ve.SetDtStampTime(now)
		if zoned {
			ve.SetProperty(ical.ComponentPropertyDtStart, e.Start.In(loc).Format(localTimeFormat), ical.WithTZID(loc.String()))
			ve.SetProperty(ical.ComponentPropertyDtEnd, e.End.In(loc).Format(localTimeFormat), ical.WithTZID(loc.String()))
		} else {
			ve.SetStartAt(e.Start)
			ve.SetEndAt(e.End)
		}
		ve.SetSummary(e.Title)
		if e.Description != "" {
			ve.SetDescription(e.Description)
		}
		if e.Location != "" {
			ve.SetLocation(e.Location)
		}
		if e.Recurrence.Recurring() {
			addRecurrence(ve, sched, e, horizon)
		}
		if e.ParentID != "" {
			ve.SetProperty(ical.ComponentPropertyRelatedTo, e.ParentID)
		}
	}
	return cal.Serialize()
}

func addRecurrence(ve *ical.VEvent, sched *recurrence.Scheduler, e model.ScheduledEvent, horizon time.Duration) {
	loc := sched.Location()
	if e.Recurrence == model.RuleMonthly && e.Start.In(loc).Day() > 28 {
		res, err := sched.Expand([]model.ScheduledEvent{e}, recurrence.ExpandConfig{
			RangeStart: e.Start,
			RangeEnd:   e.Start.Add(horizon),
		})
		if err != nil {
			appLog.Error("ics export: expand failed", err, "id", e.ID)
			return
		}
		if len(res.Occurrences) < 2 {
			return
		}
		dates := make([]string, 0, len(res.Occurrences)-1)
		for _, occ := range res.Occurrences[1:] {
			dates = append(dates, formatDate(occ.Start, loc))
		}
		if loc == time.UTC {
			ve.AddRdate(strings.Join(dates, ","))
		} else {
			ve.AddRdate(strings.Join(dates, ","), ical.WithTZID(loc.String()))
		}
		return
	}

	rule, err := recurrence.RRule(e.Recurrence)
	if err != nil {
		appLog.Warn("ics export: no RRULE for rule", "id", e.ID, "rule", string(e.Recurrence))
		return
	}
	ve.AddRrule(rule)
}

func formatDate(t time.Time, loc *time.Location) string {
	if loc == time.UTC {
		return t.UTC().Format(localTimeFormat + "Z")
	}
	return t.In(loc).Format(localTimeFormat)
}

// vtimezone describes loc's offsets as observed in year. Each transition
// becomes a STANDARD or DAYLIGHT block with a yearly rule on the same
// weekday of the month.
func vtimezone(loc *time.Location, year int) *ical.VTimezone {
	tz := ical.NewTimezone(loc.String())

	transitions := zoneTransitions(loc, year)
	if len(transitions) == 0 {
		name, offset := time.Date(year, 1, 1, 0, 0, 0, 0, loc).Zone()
		std := ical.NewStandard()
		setObservance(&std.ComponentBase, time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC).Format(localTimeFormat), offset, offset, name, "")
		tz.Components = append(tz.Components, std)
		return tz
	}

	for _, tr := range transitions {
		// DTSTART is the wall clock just before the change, in the old offset.
		wall := tr.at.In(time.FixedZone("", tr.from)).Format(localTimeFormat)
		local := tr.at.In(loc)
		rule := fmt.Sprintf("FREQ=YEARLY;BYMONTH=%d;BYDAY=%s", int(local.Month()), nthWeekday(local))
		if tr.to > tr.from {
			dl := &ical.Daylight{}
			setObservance(&dl.ComponentBase, wall, tr.from, tr.to, tr.name, rule)
			tz.Components = append(tz.Components, dl)
		} else {
			std := ical.NewStandard()
			setObservance(&std.ComponentBase, wall, tr.from, tr.to, tr.name, rule)
			tz.Components = append(tz.Components, std)
		}
	}
	return tz
}

func setObservance(cb *ical.ComponentBase, dtstart string, from, to int, name, rule string) {
	cb.SetProperty(ical.ComponentPropertyDtStart, dtstart)
	cb.SetProperty(ical.ComponentProperty(ical.PropertyTzoffsetfrom), formatOffset(from))
	cb.SetProperty(ical.ComponentProperty(ical.PropertyTzoffsetto), formatOffset(to))
	if name != "" {
		cb.SetProperty(ical.ComponentProperty(ical.PropertyTzname), name)
	}
	if rule != "" {
		cb.SetProperty(ical.ComponentPropertyRrule, rule)
	}
}

type zoneTransition struct {
	at       time.Time
	from, to int
	name     string
}

// zoneTransitions finds the offset changes of loc during year.
func zoneTransitions(loc *time.Location, year int) []zoneTransition {
	var out []zoneTransition
	end := time.Date(year+1, 1, 1, 0, 0, 0, 0, time.UTC)
	prev := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	_, prevOff := prev.In(loc).Zone()
	for t := prev.Add(time.Hour); !t.After(end); t = t.Add(time.Hour) {
		_, off := t.In(loc).Zone()
		if off != prevOff {
			// Narrow down to the second within the hour.
			lo, hi := prev, t
			for hi.Sub(lo) > time.Second {
				mid := lo.Add(hi.Sub(lo) / 2)
				if _, o := mid.In(loc).Zone(); o == prevOff {
					lo = mid
				} else {
					hi = mid
				}
			}
			name, _ := hi.In(loc).Zone()
			out = append(out, zoneTransition{at: hi, from: prevOff, to: off, name: name})
			prevOff = off
		}
		prev = t
	}
	return out
}

// nthWeekday renders t's weekday position in its month as an RRULE BYDAY
// value: "2SU" for the second Sunday, "-1SU" for the last.
func nthWeekday(t time.Time) string {
	days := [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}
	wd := days[t.Weekday()]
	lastDay := time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if t.Day()+7 > lastDay {
		return "-1" + wd
	}
	return fmt.Sprintf("%d%s", (t.Day()-1)/7+1, wd)
}

func formatOffset(seconds int) string {
	sign := '+'
	if seconds < 0 {
		sign = '-'
		seconds = -seconds
	}
	return fmt.Sprintf("%c%02d%02d", sign, seconds/3600, (seconds%3600)/60)
}
