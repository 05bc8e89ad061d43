package model

import (
	"fmt"
	"strings"
	"time"
)

// Rule is the recurrence rule attached to a scheduled event. The set is
// closed; the string form is what the store and the JSON API carry.
type Rule string

const (
	RuleNone                Rule = "none"
	RuleDaily               Rule = "daily"
	RuleWeekly              Rule = "weekly"
	RuleBiweekly            Rule = "biweekly"
	RuleMonthly             Rule = "monthly"
	RuleFirstTuesdayOfMonth Rule = "first_tuesday"
)

// Rules lists every known rule in declaration order.
var Rules = []Rule{
	RuleNone,
	RuleDaily,
	RuleWeekly,
	RuleBiweekly,
	RuleMonthly,
	RuleFirstTuesdayOfMonth,
}

// ParseRule maps a stored or user supplied value onto a Rule. The empty
// string is treated as RuleNone.
func ParseRule(s string) (Rule, error) {
	v := Rule(strings.ToLower(strings.TrimSpace(s)))
	if v == "" {
		return RuleNone, nil
	}
	for _, r := range Rules {
		if r == v {
			return r, nil
		}
	}
	return RuleNone, fmt.Errorf("unknown recurrence rule %q", s)
}

// Valid reports whether r is one of the known rules.
func (r Rule) Valid() bool {
	for _, known := range Rules {
		if r == known {
			return true
		}
	}
	return false
}

// Recurring reports whether r produces further occurrences.
func (r Rule) Recurring() bool {
	return r.Valid() && r != RuleNone
}

// ScheduledEvent is one occurrence of a possibly recurring church event.
type ScheduledEvent struct {
	// ID is assigned by the store; the recurrence code never sets it.
	ID string `json:"id"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`

	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	Recurrence Rule `json:"recurrence"`

	// ParentID points at the occurrence this one was rolled forward from.
	// Display and lookup only.
	ParentID string `json:"parent_id,omitempty"`
}

// Duration is the absolute length of the occurrence.
func (e ScheduledEvent) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// InProgress reports whether now falls inside [Start, End).
func (e ScheduledEvent) InProgress(now time.Time) bool {
	return !now.Before(e.Start) && now.Before(e.End)
}
