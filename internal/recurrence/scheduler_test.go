package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teambition/rrule-go"

	"github.com/RTSDA/RTSDA-Android-sub001/internal/model"
)

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func event(id string, start time.Time, d time.Duration, rule model.Rule) model.ScheduledEvent {
	return model.ScheduledEvent{
		ID:         id,
		Title:      "Prayer Meeting",
		Location:   "Fellowship Hall",
		Start:      start,
		End:        start.Add(d),
		Recurrence: rule,
	}
}

func TestNextOccurrence_WeeklyAcrossDST(t *testing.T) {
	loc := newYork(t)
	s := New(loc)

	tests := []struct {
		name      string
		start     time.Time
		wantStart time.Time
		absolute  time.Duration
	}{
		{
			name:      "spring forward",
			start:     time.Date(2024, 3, 7, 10, 0, 0, 0, loc),
			wantStart: time.Date(2024, 3, 14, 10, 0, 0, 0, loc),
			absolute:  167 * time.Hour,
		},
		{
			name:      "fall back",
			start:     time.Date(2024, 10, 31, 10, 0, 0, 0, loc),
			wantStart: time.Date(2024, 11, 7, 10, 0, 0, 0, loc),
			absolute:  169 * time.Hour,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := event("evt-1", tt.start, 2*time.Hour, model.RuleWeekly)

			next, err := s.NextOccurrence(e)
			require.NoError(t, err)

			assert.True(t, next.Start.Equal(tt.start.AddDate(0, 0, 7)))
			assert.True(t, next.Start.Equal(tt.wantStart), "got %s", next.Start)
			assert.Equal(t, tt.absolute, next.Start.Sub(tt.start))
			assert.Equal(t, 2*time.Hour, next.Duration())
		})
	}
}

func TestNextOccurrence_PreservesDurationAndFields(t *testing.T) {
	loc := newYork(t)
	s := New(loc)
	start := time.Date(2024, 3, 9, 23, 30, 0, 0, loc)

	for _, rule := range []model.Rule{
		model.RuleDaily,
		model.RuleWeekly,
		model.RuleBiweekly,
		model.RuleMonthly,
		model.RuleFirstTuesdayOfMonth,
	} {
		t.Run(string(rule), func(t *testing.T) {
			e := event("evt-"+string(rule), start, 3*time.Hour+15*time.Minute, rule)

			next, err := s.NextOccurrence(e)
			require.NoError(t, err)

			assert.Equal(t, e.End.Sub(e.Start), next.End.Sub(next.Start))
			assert.Equal(t, rule, next.Recurrence)
			assert.Equal(t, e.ID, next.ParentID)
			assert.Empty(t, next.ID)
			assert.Equal(t, e.Title, next.Title)
			assert.Equal(t, e.Location, next.Location)
			assert.True(t, next.Start.After(e.Start))
			assert.Equal(t, loc, next.Start.Location())
		})
	}
}

func TestNextOccurrence_CalendarSteps(t *testing.T) {
	loc := newYork(t)
	s := New(loc)

	tests := []struct {
		name  string
		rule  model.Rule
		start time.Time
		want  time.Time
	}{
		{"daily", model.RuleDaily, time.Date(2024, 3, 9, 19, 0, 0, 0, loc), time.Date(2024, 3, 10, 19, 0, 0, 0, loc)},
		{"daily year end", model.RuleDaily, time.Date(2024, 12, 31, 8, 0, 0, 0, loc), time.Date(2025, 1, 1, 8, 0, 0, 0, loc)},
		{"biweekly", model.RuleBiweekly, time.Date(2024, 2, 24, 11, 0, 0, 0, loc), time.Date(2024, 3, 9, 11, 0, 0, 0, loc)},
		{"monthly plain", model.RuleMonthly, time.Date(2024, 5, 15, 18, 0, 0, 0, loc), time.Date(2024, 6, 15, 18, 0, 0, 0, loc)},
		{"monthly clamp leap", model.RuleMonthly, time.Date(2024, 1, 31, 18, 0, 0, 0, loc), time.Date(2024, 2, 29, 18, 0, 0, 0, loc)},
		{"monthly clamp non-leap", model.RuleMonthly, time.Date(2023, 1, 31, 18, 0, 0, 0, loc), time.Date(2023, 2, 28, 18, 0, 0, 0, loc)},
		{"monthly clamp 30-day", model.RuleMonthly, time.Date(2024, 3, 31, 18, 0, 0, 0, loc), time.Date(2024, 4, 30, 18, 0, 0, 0, loc)},
		{"monthly december", model.RuleMonthly, time.Date(2024, 12, 31, 18, 0, 0, 0, loc), time.Date(2025, 1, 31, 18, 0, 0, 0, loc)},
		{"first tuesday from friday", model.RuleFirstTuesdayOfMonth, time.Date(2024, 3, 15, 19, 0, 0, 0, loc), time.Date(2024, 4, 2, 19, 0, 0, 0, loc)},
		{"first tuesday month starts tuesday", model.RuleFirstTuesdayOfMonth, time.Date(2024, 9, 3, 19, 0, 0, 0, loc), time.Date(2024, 10, 1, 19, 0, 0, 0, loc)},
		{"first tuesday across year", model.RuleFirstTuesdayOfMonth, time.Date(2024, 12, 3, 19, 0, 0, 0, loc), time.Date(2025, 1, 7, 19, 0, 0, 0, loc)},
		{"first tuesday from first of month", model.RuleFirstTuesdayOfMonth, time.Date(2024, 3, 1, 19, 0, 0, 0, loc), time.Date(2024, 4, 2, 19, 0, 0, 0, loc)},
		{"first tuesday from february", model.RuleFirstTuesdayOfMonth, time.Date(2025, 2, 4, 19, 0, 0, 0, loc), time.Date(2025, 3, 4, 19, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := s.NextOccurrence(event("e", tt.start, time.Hour, tt.rule))
			require.NoError(t, err)
			assert.True(t, next.Start.Equal(tt.want), "got %s want %s", next.Start, tt.want)
		})
	}
}

func TestNextOccurrence_FirstTuesdayMatchesRRule(t *testing.T) {
	loc := newYork(t)
	s := New(loc)
	start := time.Date(2024, 1, 2, 19, 0, 0, 0, loc)

	opt, err := ROption(model.RuleFirstTuesdayOfMonth)
	require.NoError(t, err)
	opt.Dtstart = start
	opt.Count = 13
	r, err := rrule.NewRRule(opt)
	require.NoError(t, err)
	want := r.All()

	cur := event("e", start, time.Hour, model.RuleFirstTuesdayOfMonth)
	for i := 1; i < len(want); i++ {
		cur, err = s.NextOccurrence(cur)
		require.NoError(t, err)
		assert.True(t, cur.Start.Equal(want[i]), "step %d: got %s want %s", i, cur.Start, want[i])
		assert.Equal(t, time.Tuesday, cur.Start.Weekday())
	}
}

func TestNextOccurrence_NonRecurringFails(t *testing.T) {
	s := New(time.UTC)
	start := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)

	for _, rule := range []model.Rule{model.RuleNone, "", "yearly"} {
		_, err := s.NextOccurrence(event("e", start, time.Hour, rule))
		assert.ErrorIs(t, err, ErrInvalidArgument, "rule %q", rule)
	}
}

func TestNextOccurrence_PinnedZoneNotHostZone(t *testing.T) {
	loc := newYork(t)
	s := New(loc)

	// 2024-02-01 03:00 UTC is still January 31 in New York.
	start := time.Date(2024, 2, 1, 3, 0, 0, 0, time.UTC)
	next, err := s.NextOccurrence(event("e", start, time.Hour, model.RuleMonthly))
	require.NoError(t, err)

	assert.True(t, next.Start.Equal(time.Date(2024, 2, 29, 22, 0, 0, 0, loc)), "got %s", next.Start)
}

func TestNewNilLocationPinsUTC(t *testing.T) {
	assert.Equal(t, time.UTC, New(nil).Location())
}

func TestIsUpcoming(t *testing.T) {
	s := New(time.UTC)
	asOf := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)

	assert.True(t, s.IsUpcoming(event("a", asOf, time.Hour, model.RuleNone), asOf))
	assert.True(t, s.IsUpcoming(event("b", asOf.Add(time.Minute), time.Hour, model.RuleNone), asOf))
	assert.False(t, s.IsUpcoming(event("c", asOf.Add(-time.Nanosecond), time.Hour, model.RuleNone), asOf))
}

func TestRollForward(t *testing.T) {
	loc := newYork(t)
	s := New(loc)
	start := time.Date(2024, 1, 6, 9, 30, 0, 0, loc)
	e := event("sabbath-school", start, 75*time.Minute, model.RuleWeekly)

	asOf := time.Date(2024, 2, 1, 12, 0, 0, 0, loc)
	next, err := s.RollForward(e, asOf)
	require.NoError(t, err)

	assert.True(t, next.Start.Equal(time.Date(2024, 2, 3, 9, 30, 0, 0, loc)), "got %s", next.Start)
	assert.Equal(t, "sabbath-school", next.ParentID)
	assert.Equal(t, 75*time.Minute, next.Duration())
	assert.Empty(t, next.ID)
}

func TestRollForward_AdvancesAtLeastOnce(t *testing.T) {
	s := New(time.UTC)
	start := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)

	next, err := s.RollForward(event("e", start, time.Hour, model.RuleDaily), start.Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, next.Start.Equal(start.AddDate(0, 0, 1)))
}

func TestRollForward_Errors(t *testing.T) {
	s := New(time.UTC)
	start := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)

	_, err := s.RollForward(event("e", start, time.Hour, model.RuleNone), start)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = s.RollForward(event("e", start, time.Hour, model.RuleDaily), start.AddDate(100, 0, 0))
	assert.ErrorIs(t, err, ErrTooManySteps)
}

func TestUpcomingSortsAndFilters(t *testing.T) {
	s := New(time.UTC)
	asOf := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)

	events := []model.ScheduledEvent{
		event("late", asOf.Add(48*time.Hour), time.Hour, model.RuleNone),
		event("past", asOf.Add(-time.Hour), time.Hour, model.RuleWeekly),
		event("soon", asOf.Add(time.Hour), time.Hour, model.RuleNone),
	}

	got := s.Upcoming(events, asOf)
	require.Len(t, got, 2)
	assert.Equal(t, "soon", got[0].ID)
	assert.Equal(t, "late", got[1].ID)
}
