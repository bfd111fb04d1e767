package recurrence

import (
	"errors"
	"fmt"
	"time"
)

type Type string

const (
	None    Type = "none"
	Daily   Type = "daily"
	Weekly  Type = "weekly"
	Monthly Type = "monthly"
	Yearly  Type = "yearly"
)

type EndType string

const (
	EndNever EndType = "never"
	EndDate  EndType = "date"
	EndCount EndType = "count"
)

// Rule describes how an event repeats. Exactly one end condition is
// active: EndDate is only meaningful for EndType=date and Occurrences only
// for EndType=count.
type Rule struct {
	Type        Type       `json:"type"`
	Interval    int        `json:"interval"`
	EndType     EndType    `json:"end_type"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	Occurrences int        `json:"occurrences,omitempty"`
}

// IsRecurring reports whether the rule produces any repeats.
func (r Rule) IsRecurring() bool {
	return r.Type != "" && r.Type != None
}

// Normalize fills in defaults for fields left empty by callers.
func (r Rule) Normalize() Rule {
	if r.Type == "" {
		r.Type = None
	}
	if r.Interval == 0 {
		r.Interval = 1
	}
	if r.EndType == "" {
		r.EndType = EndNever
	}
	if r.Type == None {
		return Rule{Type: None, Interval: 1, EndType: EndNever}
	}
	return r
}

// Validate checks the rule's invariants. Call it on a normalized rule.
func (r Rule) Validate() error {
	switch r.Type {
	case None:
		return nil
	case Daily, Weekly, Monthly, Yearly:
	default:
		return fmt.Errorf("unknown recurrence type: %q", r.Type)
	}

	if r.Interval < 1 {
		return fmt.Errorf("invalid interval: %d", r.Interval)
	}

	switch r.EndType {
	case EndNever:
		if r.EndDate != nil || r.Occurrences != 0 {
			return errors.New("end date and occurrences must be empty when the rule never ends")
		}
	case EndDate:
		if r.EndDate == nil {
			return errors.New("end date is required")
		}
		if r.Occurrences != 0 {
			return errors.New("occurrences must be empty when the rule ends on a date")
		}
	case EndCount:
		if r.Occurrences < 1 {
			return fmt.Errorf("invalid occurrences: %d", r.Occurrences)
		}
		if r.EndDate != nil {
			return errors.New("end date must be empty when the rule ends after a count")
		}
	default:
		return fmt.Errorf("unknown end type: %q", r.EndType)
	}
	return nil
}

// Describe returns a human-readable description of the rule.
func (r Rule) Describe() string {
	var s string
	switch r.Type {
	case Daily:
		s = "Repeats daily"
		if r.Interval > 1 {
			s = fmt.Sprintf("Repeats every %d days", r.Interval)
		}
	case Weekly:
		s = "Repeats weekly"
		if r.Interval > 1 {
			s = fmt.Sprintf("Repeats every %d weeks", r.Interval)
		}
	case Monthly:
		s = "Repeats monthly"
		if r.Interval > 1 {
			s = fmt.Sprintf("Repeats every %d months", r.Interval)
		}
	case Yearly:
		s = "Repeats yearly"
		if r.Interval > 1 {
			s = fmt.Sprintf("Repeats every %d years", r.Interval)
		}
	default:
		return ""
	}

	switch r.EndType {
	case EndDate:
		if r.EndDate != nil {
			s += " until " + r.EndDate.Format("Jan 2, 2006")
		}
	case EndCount:
		if r.Occurrences == 1 {
			s += ", 1 more time"
		} else {
			s += fmt.Sprintf(", %d more times", r.Occurrences)
		}
	}
	return s
}
