package ics

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/dukerupert/morandi/internal/apperr"
	"github.com/dukerupert/morandi/internal/calendar"
	"github.com/dukerupert/morandi/internal/model"
	"github.com/dukerupert/morandi/internal/recurrence"
)

// MaxImportEvents bounds the number of VEVENTs accepted in one document.
const MaxImportEvents = 500

type ImportResult struct {
	Created []int64  `json:"created"`
	Skipped []string `json:"skipped,omitempty"`
}

type Importer struct {
	calendar *calendar.Service
	logger   *slog.Logger
}

func NewImporter(c *calendar.Service, logger *slog.Logger) *Importer {
	return &Importer{calendar: c, logger: logger}
}

// Import stores every VEVENT of the document as a personal event of
// userID. The whole document is checked before anything is stored.
// Overridden instances (RECURRENCE-ID) are skipped.
func (im *Importer) Import(ctx context.Context, userID int64, r io.Reader) (*ImportResult, error) {
	cal, err := ical.ParseCalendar(r)
	if err != nil {
		return nil, apperr.Validationf("invalid calendar: %v", err)
	}
	vevents := cal.Events()
	if len(vevents) > MaxImportEvents {
		return nil, apperr.Validationf("calendar has %d events, at most %d can be imported", len(vevents), MaxImportEvents)
	}

	res := &ImportResult{}
	inputs := make([]calendar.EventInput, 0, len(vevents))
	for i, ve := range vevents {
		name := eventName(ve, i)
		if ve.GetProperty(propRecurrenceID) != nil {
			res.Skipped = append(res.Skipped, name+": overridden instance")
			continue
		}
		in, err := toInput(ve)
		if err != nil {
			return nil, apperr.Validationf("%s: %v", name, err)
		}
		inputs = append(inputs, in)
	}

	for _, in := range inputs {
		e, err := im.calendar.CreatePersonal(ctx, userID, in)
		if err != nil {
			return res, err
		}
		res.Created = append(res.Created, e.ID)
	}
	im.logger.Info("calendar imported", "user_id", userID, "created", len(res.Created), "skipped", len(res.Skipped))
	return res, nil
}

func toInput(ve *ical.VEvent) (calendar.EventInput, error) {
	var in calendar.EventInput
	in.Title = text(ve, ical.ComponentPropertySummary)
	if in.Title == "" {
		in.Title = "Untitled event"
	}
	in.Description = text(ve, ical.ComponentPropertyDescription)
	if cats := text(ve, ical.ComponentPropertyCategories); cats != "" {
		in.Category = strings.TrimSpace(strings.Split(cats, ",")[0])
	}
	if p := ve.GetProperty(propColor); p != nil {
		in.Color = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyClass); p != nil && strings.EqualFold(p.Value, string(ical.ClassificationPublic)) {
		in.Privacy = model.PrivacyPublic
	}

	start, end, allDay, err := times(ve)
	if err != nil {
		return in, err
	}
	in.StartDate, in.EndDate, in.IsAllDay = start, end, allDay

	in.Recurrence = recurrence.Rule{}.Normalize()
	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		rule, err := recurrence.ParseRRule(p.Value)
		if err != nil {
			return in, err
		}
		in.Recurrence = rule
	}
	return in, nil
}

// times reads DTSTART and DTEND. A missing DTEND makes a zero-length event,
// or a one-day event for date values.
func times(ve *ical.VEvent) (start, end time.Time, allDay bool, err error) {
	dtstart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtstart == nil {
		return start, end, false, fmt.Errorf("missing DTSTART")
	}
	allDay = !strings.Contains(dtstart.Value, "T")

	if allDay {
		start, err = ve.GetAllDayStartAt()
		if err != nil {
			return start, end, allDay, fmt.Errorf("parse DTSTART: %w", err)
		}
		start = dateUTC(start)
		end = start
		if ve.GetProperty(ical.ComponentPropertyDtEnd) != nil {
			exclusive, err := ve.GetAllDayEndAt()
			if err != nil {
				return start, end, allDay, fmt.Errorf("parse DTEND: %w", err)
			}
			if last := dateUTC(exclusive).AddDate(0, 0, -1); last.After(start) {
				end = last
			}
		}
		return start, end, allDay, nil
	}

	start, err = ve.GetStartAt()
	if err != nil {
		return start, end, allDay, fmt.Errorf("parse DTSTART: %w", err)
	}
	start = start.UTC()
	end = start
	if ve.GetProperty(ical.ComponentPropertyDtEnd) != nil {
		end, err = ve.GetEndAt()
		if err != nil {
			return start, end, allDay, fmt.Errorf("parse DTEND: %w", err)
		}
		end = end.UTC()
	}
	return start, end, allDay, nil
}

func dateUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func text(ve *ical.VEvent, prop ical.ComponentProperty) string {
	p := ve.GetProperty(prop)
	if p == nil {
		return ""
	}
	return strings.TrimSpace(unescapeText(p.Value))
}

func eventName(ve *ical.VEvent, i int) string {
	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil && p.Value != "" {
		return p.Value
	}
	return fmt.Sprintf("event %d", i+1)
}
