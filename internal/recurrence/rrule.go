package recurrence

import (
	"errors"
	"fmt"
	"strings"

	"github.com/teambition/rrule-go"

	"github.com/RTSDA/RTSDA-Android-sub001/internal/model"
)

// ErrUnsupportedRule is returned when an RRULE has no equivalent Rule, or a
// Rule has no RRULE form (RuleNone).
var ErrUnsupportedRule = errors.New("recurrence: unsupported rule")

// ROption returns the RFC 5545 recurrence options equivalent to r. Dtstart is
// left zero; callers set it when they need to evaluate the rule.
func ROption(r model.Rule) (rrule.ROption, error) {
	switch r {
	case model.RuleDaily:
		return rrule.ROption{Freq: rrule.DAILY}, nil
	case model.RuleWeekly:
		return rrule.ROption{Freq: rrule.WEEKLY}, nil
	case model.RuleBiweekly:
		return rrule.ROption{Freq: rrule.WEEKLY, Interval: 2}, nil
	case model.RuleMonthly:
		return rrule.ROption{Freq: rrule.MONTHLY}, nil
	case model.RuleFirstTuesdayOfMonth:
		return rrule.ROption{Freq: rrule.MONTHLY, Byweekday: []rrule.Weekday{rrule.TU.Nth(1)}}, nil
	default:
		return rrule.ROption{}, fmt.Errorf("%w: %q", ErrUnsupportedRule, r)
	}
}

// RRule renders r as an RRULE value (without the "RRULE:" prefix), e.g.
// "FREQ=WEEKLY;INTERVAL=2".
func RRule(r model.Rule) (string, error) {
	opt, err := ROption(r)
	if err != nil {
		return "", err
	}
	return opt.RRuleString(), nil
}

// RuleFromRRule maps an RRULE value onto a Rule. COUNT and UNTIL are accepted
// and ignored since a stored event carries no series end. A single BYDAY or
// BYMONTHDAY is assumed to match DTSTART, which is how calendar clients
// write simple weekly and monthly series.
func RuleFromRRule(s string) (model.Rule, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return model.RuleNone, nil
	}

	opt, err := rrule.StrToROption(strings.TrimPrefix(s, "RRULE:"))
	if err != nil {
		return model.RuleNone, fmt.Errorf("parse rrule %q: %w", s, err)
	}

	interval := opt.Interval
	if interval == 0 {
		interval = 1
	}
	if len(opt.Bymonth) > 0 || len(opt.Byyearday) > 0 || len(opt.Byweekno) > 0 ||
		len(opt.Byhour) > 0 || len(opt.Byminute) > 0 || len(opt.Bysecond) > 0 || len(opt.Byeaster) > 0 {
		return model.RuleNone, fmt.Errorf("%w: %q", ErrUnsupportedRule, s)
	}

	switch opt.Freq {
	case rrule.DAILY:
		if interval == 1 && len(opt.Byweekday) == 0 && len(opt.Bymonthday) == 0 && len(opt.Bysetpos) == 0 {
			return model.RuleDaily, nil
		}
	case rrule.WEEKLY:
		if len(opt.Byweekday) > 1 || len(opt.Bymonthday) > 0 || len(opt.Bysetpos) > 0 {
			break
		}
		switch interval {
		case 1:
			return model.RuleWeekly, nil
		case 2:
			return model.RuleBiweekly, nil
		}
	case rrule.MONTHLY:
		if interval != 1 {
			break
		}
		if len(opt.Byweekday) == 0 && len(opt.Bysetpos) == 0 && len(opt.Bymonthday) <= 1 {
			return model.RuleMonthly, nil
		}
		if len(opt.Byweekday) == 1 && len(opt.Bymonthday) == 0 && isFirstTuesday(opt.Byweekday[0], opt.Bysetpos) {
			return model.RuleFirstTuesdayOfMonth, nil
		}
	}
	return model.RuleNone, fmt.Errorf("%w: %q", ErrUnsupportedRule, s)
}

// isFirstTuesday accepts both "BYDAY=1TU" and "BYDAY=TU;BYSETPOS=1".
func isFirstTuesday(wd rrule.Weekday, setpos []int) bool {
	if wd.Day() != rrule.TU.Day() {
		return false
	}
	switch {
	case wd.N() == 1 && len(setpos) == 0:
		return true
	case wd.N() == 0 && len(setpos) == 1 && setpos[0] == 1:
		return true
	}
	return false
}
