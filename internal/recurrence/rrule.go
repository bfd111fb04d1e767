package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

var toFreq = map[Type]rrule.Frequency{
	Daily:   rrule.DAILY,
	Weekly:  rrule.WEEKLY,
	Monthly: rrule.MONTHLY,
	Yearly:  rrule.YEARLY,
}

var fromFreq = map[rrule.Frequency]Type{
	rrule.DAILY:   Daily,
	rrule.WEEKLY:  Weekly,
	rrule.MONTHLY: Monthly,
	rrule.YEARLY:  Yearly,
}

// RRule renders the rule as an RFC 5545 RRULE value for a series starting
// at dtstart. It reports false when the series cannot be expressed as an
// RRULE: RFC 5545 skips months lacking the anchor day instead of clamping,
// so monthly anchors past the 28th and yearly Feb 29 anchors are refused.
//
// RRULE counts include DTSTART, and the expansion cap is folded into
// COUNT so that clients see the same series.
func (x Expander) RRule(r Rule, dtstart time.Time) (string, bool) {
	freq, ok := toFreq[r.Type]
	if !ok {
		return "", false
	}
	switch r.Type {
	case Monthly:
		if dtstart.Day() > 28 {
			return "", false
		}
	case Yearly:
		if dtstart.Month() == time.February && dtstart.Day() == 29 {
			return "", false
		}
	}

	opt := rrule.ROption{Freq: freq, Interval: r.Interval}
	limit := x.limit()
	switch r.EndType {
	case EndCount:
		opt.Count = min(r.Occurrences, limit) + 1
	case EndDate:
		if r.EndDate == nil {
			return "", false
		}
		// Until is only exact if the cap does not cut the series first.
		if last, ok := shift(r.Type, dtstart, (limit+1)*r.Interval); ok && !last.After(*r.EndDate) {
			opt.Count = limit + 1
		} else {
			opt.Until = r.EndDate.UTC()
		}
	default:
		opt.Count = limit + 1
	}
	return opt.RRuleString(), true
}

// ParseRRule converts an RRULE value into a Rule. Only FREQ, INTERVAL,
// COUNT and UNTIL are understood; any BY* part is rejected since the
// rule model has no equivalent.
func ParseRRule(s string) (Rule, error) {
	opt, err := rrule.StrToROption(s)
	if err != nil {
		return Rule{}, fmt.Errorf("parse rrule: %w", err)
	}

	typ, ok := fromFreq[opt.Freq]
	if !ok {
		return Rule{}, fmt.Errorf("unsupported frequency in %q", s)
	}
	if len(opt.Bysetpos) > 0 || len(opt.Bymonth) > 0 || len(opt.Bymonthday) > 0 ||
		len(opt.Byyearday) > 0 || len(opt.Byweekno) > 0 || len(opt.Byweekday) > 0 ||
		len(opt.Byhour) > 0 || len(opt.Byminute) > 0 || len(opt.Bysecond) > 0 ||
		len(opt.Byeaster) > 0 {
		return Rule{}, fmt.Errorf("unsupported rule part in %q", s)
	}

	r := Rule{Type: typ, Interval: opt.Interval, EndType: EndNever}
	if r.Interval == 0 {
		r.Interval = 1
	}
	switch {
	case opt.Count > 0:
		if opt.Count == 1 {
			return Rule{}.Normalize(), nil
		}
		r.EndType = EndCount
		r.Occurrences = opt.Count - 1
	case !opt.Until.IsZero():
		until := opt.Until
		r.EndType = EndDate
		r.EndDate = &until
	}
	return r, r.Validate()
}
