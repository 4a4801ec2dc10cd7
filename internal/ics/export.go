package ics

import (
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"cohortcal/internal/model"
)

// uidNamespace scopes the name-based UUIDs of exported events.
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("cohortcal:event"))

// EventUID returns a stable UID for an event. occurrence distinguishes
// duplicate schedule rows that would otherwise share a UID.
func EventUID(ev model.CalendarEvent, occurrence int) string {
	key := strings.Join([]string{
		ev.Start,
		ev.ExtendedProps.Cohort,
		ev.ExtendedProps.Unit,
		ev.Title,
		strconv.Itoa(occurrence),
	}, "\x1f")
	return uuid.NewSHA1(uidNamespace, []byte(key)).String() + "@cohortcal"
}

// UIDs assigns EventUID to every event, numbering duplicates in order.
func UIDs(events []model.CalendarEvent) []string {
	seen := make(map[string]int)
	out := make([]string, len(events))
	for i, ev := range events {
		base := EventUID(ev, 0)
		n := seen[base]
		seen[base] = n + 1
		if n == 0 {
			out[i] = base
		} else {
			out[i] = EventUID(ev, n)
		}
	}
	return out
}

// BuildCalendar renders events as all-day VEVENTs in an ICS document.
//
// Each event carries its category in CATEGORIES and its display color in
// COLOR; teacher, cohort and unit go into the description.
func BuildCalendar(name string, events []model.CalendarEvent, stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//cohortcal//schedule//EN")
	if name != "" {
		cal.SetXWRCalName(name)
	}

	uids := UIDs(events)
	for i, ev := range events {
		start := ev.Date
		if start.IsZero() {
			t, err := time.Parse(model.DateLayout, ev.Start)
			if err != nil {
				continue
			}
			start = t
		}

		ve := cal.AddEvent(uids[i])
		ve.SetDtStampTime(stamp.UTC())
		ve.SetAllDayStartAt(start)
		ve.SetAllDayEndAt(start.AddDate(0, 0, 1))
		ve.SetSummary(ev.Title)
		ve.SetDescription(Description(ev))
		if ev.Category != "" {
			ve.SetProperty(ical.ComponentPropertyCategories, string(ev.Category))
		}
		if ev.Color != "" {
			ve.SetProperty(ical.ComponentProperty("COLOR"), ev.Color)
		}
	}

	return cal.Serialize()
}

// Description renders the attribution lines of an event.
func Description(ev model.CalendarEvent) string {
	teacher := ev.ExtendedProps.Teacher
	if teacher == "" {
		teacher = "Unassigned"
	}
	return "Cohort: " + ev.ExtendedProps.Cohort +
		"\nUnit: " + ev.ExtendedProps.Unit +
		"\nTeacher: " + teacher
}
