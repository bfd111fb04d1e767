// Package ics converts between stored events and iCalendar documents.
package ics

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/dukerupert/morandi/internal/model"
	"github.com/dukerupert/morandi/internal/recurrence"
	"github.com/dukerupert/morandi/internal/visibility"
)

const productID = "-//morandi//calendar//EN"

const (
	propColor        = ical.ComponentProperty("COLOR")
	propRecurrenceID = ical.ComponentProperty("RECURRENCE-ID")
)

type Exporter struct {
	resolver *visibility.Resolver
	expander recurrence.Expander
	domain   string
	logger   *slog.Logger
	now      func() time.Time
}

// NewExporter builds an Exporter. domain is the right-hand side of
// generated UIDs.
func NewExporter(resolver *visibility.Resolver, expander recurrence.Expander, domain string, logger *slog.Logger) *Exporter {
	if domain == "" {
		domain = "morandi"
	}
	return &Exporter{resolver: resolver, expander: expander, domain: domain, logger: logger, now: time.Now}
}

// Export renders the events userID may read in rng as an iCalendar
// document. Series an RRULE can describe are written once with the rule;
// the rest are written as one VEVENT per instance in rng.
func (x *Exporter) Export(ctx context.Context, userID int64, rng visibility.Range) (string, error) {
	bases, err := x.resolver.VisibleBases(ctx, userID, rng)
	if err != nil {
		return "", err
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	stamp := x.now().UTC()
	var series, instances int
	for i := range bases {
		base := &bases[i]
		if base.Recurrence.IsRecurring() {
			if rule, ok := x.expander.RRule(base.Recurrence, base.StartDate); ok {
				ev := x.addEvent(cal, base, x.uid(base.ID, 0), stamp)
				ev.SetProperty(ical.ComponentPropertyRrule, rule)
				series++
				continue
			}
		}
		for _, e := range x.resolver.Expand(*base, rng) {
			ev := x.addEvent(cal, &e, x.uid(base.ID, e.OccurrenceIndex), stamp)
			if e.IsRecurring {
				ev.SetProperty(propRecurrenceID, formatTime(e.StartDate))
			}
			instances++
		}
	}

	x.logger.Debug("calendar exported", "user_id", userID, "series", series, "instances", instances)
	return cal.Serialize(), nil
}

func (x *Exporter) addEvent(cal *ical.Calendar, e *model.Event, uid string, stamp time.Time) *ical.VEvent {
	ev := cal.AddEvent(uid)
	ev.SetDtStampTime(stamp)
	ev.SetCreatedTime(e.CreatedAt.UTC())
	ev.SetModifiedAt(e.UpdatedAt.UTC())
	if e.IsAllDay {
		ev.SetAllDayStartAt(e.StartDate)
		// DTEND is exclusive for date values.
		ev.SetAllDayEndAt(e.EndDate.AddDate(0, 0, 1))
	} else {
		ev.SetStartAt(e.StartDate.UTC())
		ev.SetEndAt(e.EndDate.UTC())
	}
	ev.SetSummary(e.Title)
	if e.Description != "" {
		ev.SetDescription(e.Description)
	}
	if e.Category != "" {
		ev.SetProperty(ical.ComponentPropertyCategories, escapeText(e.Category))
	}
	if e.Color != "" {
		ev.SetProperty(propColor, e.Color)
	}
	if e.Status == model.EventCancelled {
		ev.SetStatus(ical.ObjectStatusCancelled)
	} else {
		ev.SetStatus(ical.ObjectStatusConfirmed)
	}
	switch e.Privacy {
	case model.PrivacyPublic:
		ev.SetClass(ical.ClassificationPublic)
	default:
		ev.SetClass(ical.ClassificationPrivate)
	}
	return ev
}

// uid names a stored event, or one generated instance of it when index is
// positive.
func (x *Exporter) uid(id int64, index int) string {
	if index > 0 {
		return fmt.Sprintf("event-%d-%d@%s", id, index, x.domain)
	}
	return fmt.Sprintf("event-%d@%s", id, x.domain)
}

func formatTime(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

var (
	textEscaper   = strings.NewReplacer(`\`, `\\`, ";", `\;`, ",", `\,`, "\n", `\n`)
	textUnescaper = strings.NewReplacer(`\\`, `\`, `\;`, ";", `\,`, ",", `\n`, "\n", `\N`, "\n")
)

func escapeText(s string) string   { return textEscaper.Replace(s) }
func unescapeText(s string) string { return textUnescaper.Replace(s) }
