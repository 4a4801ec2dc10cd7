package ics

import (
	"bytes"
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"

	"cohortcal/internal/model"
)

func sampleEvents() []model.CalendarEvent {
	d := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	ev := model.CalendarEvent{
		Title: "CohortA: FSDI 101 (Sam)",
		Start: "2025-03-10",
		Color: "#1f77b4",
		ExtendedProps: model.EventProps{
			Teacher: "Sam", Cohort: "CohortA", Unit: "FSDI 101",
		},
		Date:     d,
		Category: model.CategoryFSDI,
	}
	return []model.CalendarEvent{ev, ev}
}

func TestUIDs_StableAndDistinct(t *testing.T) {
	events := sampleEvents()
	a := UIDs(events)
	b := UIDs(events)

	if a[0] != b[0] || a[1] != b[1] {
		t.Errorf("UIDs not stable: %v vs %v", a, b)
	}
	if a[0] == a[1] {
		t.Errorf("duplicate events must get distinct UIDs: %v", a)
	}
}

func TestBuildCalendar_ParsesBack(t *testing.T) {
	out := BuildCalendar("Cohort Schedule", sampleEvents(), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	cal, err := ical.ParseCalendar(bytes.NewReader([]byte(out)))
	if err != nil {
		t.Fatalf("ParseCalendar: %v", err)
	}
	events := cal.Events()
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}

	ev := events[0]
	if p := ev.GetProperty(ical.ComponentPropertySummary); p == nil || p.Value != "CohortA: FSDI 101 (Sam)" {
		t.Errorf("summary = %+v", p)
	}
	if p := ev.GetProperty(ical.ComponentPropertyDtStart); p == nil || p.Value != "20250310" {
		t.Errorf("dtstart = %+v", p)
	}
	if p := ev.GetProperty(ical.ComponentPropertyCategories); p == nil || p.Value != "FSDI" {
		t.Errorf("categories = %+v", p)
	}
	if !strings.Contains(out, "X-WR-CALNAME:Cohort Schedule") {
		t.Errorf("calendar name missing:\n%s", out)
	}
}

func TestDescription_Unassigned(t *testing.T) {
	ev := model.CalendarEvent{ExtendedProps: model.EventProps{Cohort: "B", Unit: "Orientation"}}
	if got := Description(ev); !strings.Contains(got, "Teacher: Unassigned") {
		t.Errorf("description = %q", got)
	}
}
