package recurrence

import (
	"iter"
	"time"
)

// DefaultCap bounds how many repeats a single rule may generate.
const DefaultCap = 100

// Occurrence is a single generated repeat of a recurring event. Index is
// the repeat number counted from the base event (the base itself is 0 and
// is never generated).
type Occurrence struct {
	Index int
	Start time.Time
	End   time.Time
}

// Expander generates occurrences. The zero value uses DefaultCap.
type Expander struct {
	Cap int
}

func (x Expander) limit() int {
	if x.Cap <= 0 {
		return DefaultCap
	}
	return x.Cap
}

// Occurrences yields the repeats of an event spanning [start, end] whose
// interval overlaps [rangeStart, rangeEnd], in ascending order. The base
// event is not included. The returned sequence can be ranged over more
// than once.
//
// Repeat n starts at start shifted by n*interval periods. Monthly and
// yearly steps land on the base day of month, clamped to the last day of
// shorter months.
func (x Expander) Occurrences(rule Rule, start, end, rangeStart, rangeEnd time.Time) iter.Seq[Occurrence] {
	return func(yield func(Occurrence) bool) {
		if !rule.IsRecurring() {
			return
		}
		interval := rule.Interval
		if interval < 1 {
			interval = 1
		}
		limit := x.limit()
		if rule.EndType == EndCount && rule.Occurrences < limit {
			limit = rule.Occurrences
		}
		duration := end.Sub(start)

		for n := 1; n <= limit; n++ {
			s, ok := shift(rule.Type, start, n*interval)
			if !ok {
				return
			}
			if rule.EndType == EndDate && rule.EndDate != nil && s.After(*rule.EndDate) {
				return
			}
			if s.After(rangeEnd) {
				return
			}
			e := s.Add(duration)
			if e.Before(rangeStart) {
				continue
			}
			if !yield(Occurrence{Index: n, Start: s, End: e}) {
				return
			}
		}
	}
}

// shift moves t forward by units periods of the given type.
func shift(typ Type, t time.Time, units int) (time.Time, bool) {
	switch typ {
	case Daily:
		return t.AddDate(0, 0, units), true
	case Weekly:
		return t.AddDate(0, 0, 7*units), true
	case Monthly:
		return addMonthsClamped(t, units), true
	case Yearly:
		return addMonthsClamped(t, 12*units), true
	}
	return time.Time{}, false
}

func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	first := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	if last := daysInMonth(first.Year(), first.Month()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
