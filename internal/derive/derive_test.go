package derive

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"cohortcal/internal/model"
	"cohortcal/internal/roster"
	"cohortcal/internal/schedule"
)

func entry(raw, cohort, unit string) model.ScheduleEntry {
	d, ok := schedule.ParseDate(raw)
	if !ok {
		panic("bad test date " + raw)
	}
	return model.ScheduleEntry{RawDate: raw, Date: d, Cohort: cohort, UnitRaw: unit}
}

func march2025() model.Period {
	return model.MonthPeriod(2025, time.March)
}

func titles(events []model.CalendarEvent) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Title)
	}
	return out
}

func TestEvents_EndToEndWideCSV(t *testing.T) {
	res, err := schedule.ReadWideCSV(strings.NewReader("Date,CohortA,CohortB\n\"03/10/25\",FSDI 101,Orientation\n"))
	if err != nil {
		t.Fatalf("ReadWideCSV: %v", err)
	}

	events, err := Events(res.Entries, Query{Cohorts: res.Cohorts, Period: march2025()}, roster.NewStore(nil, nil), model.DefaultPalette())
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	want := []string{"CohortA: FSDI 101", "CohortB: Orientation"}
	if got := titles(events); !reflect.DeepEqual(got, want) {
		t.Errorf("titles = %v, want %v", got, want)
	}
	for _, e := range events {
		if e.Start != "2025-03-10" {
			t.Errorf("start = %s, want 2025-03-10", e.Start)
		}
	}
	if events[0].Color != "#1f77b4" || events[1].Color != "#d62728" {
		t.Errorf("colors = %s, %s", events[0].Color, events[1].Color)
	}
	if events[0].ExtendedProps != (model.EventProps{Teacher: "", Cohort: "CohortA", Unit: "FSDI 101"}) {
		t.Errorf("props = %+v", events[0].ExtendedProps)
	}
}

func TestEvents_NoCohorts(t *testing.T) {
	entries := []model.ScheduleEntry{entry("03/10/25", "A", "FSDI 101")}

	_, err := Events(entries, Query{Period: march2025()}, nil, model.DefaultPalette())
	if !errors.Is(err, ErrNoCohorts) {
		t.Fatalf("Events err = %v, want ErrNoCohorts", err)
	}
	_, err = Table(entries, Query{Period: march2025()}, nil)
	if !errors.Is(err, ErrNoCohorts) {
		t.Fatalf("Table err = %v, want ErrNoCohorts", err)
	}

	// A selection that matches nothing is an empty success, not NoSelection.
	events, err := Events(entries, Query{Cohorts: []string{"Z"}, Period: march2025()}, nil, model.DefaultPalette())
	if err != nil || len(events) != 0 {
		t.Fatalf("unmatched cohort: %v, %v", events, err)
	}
}

func TestEvents_Filters(t *testing.T) {
	entries := []model.ScheduleEntry{
		entry("03/03/25", "A", "FSDI 101"),
		entry("03/04/25", "A", "orientation"),
		entry("03/05/25", "B", "MDI-1 205"),
		entry("03/06/25", "B", "nan"),
		entry("03/07/25", "C", "FSDI 101"),
		entry("04/01/25", "A", "FSDI 102"),
		entry("02/28/25", "A", "FSDI 100"),
	}
	teachers := roster.NewStore(roster.Assignments{
		"A": {"101": "Sam"},
		"B": {"205": "Jordan"},
	}, nil)
	all := []string{"A", "B", "C"}

	cases := []struct {
		name string
		q    Query
		want []string
	}{
		{
			name: "no unit or teacher filter",
			q:    Query{Cohorts: all, Period: march2025()},
			want: []string{"A: FSDI 101 (Sam)", "A: orientation", "B: MDI-1 205 (Jordan)", "C: FSDI 101"},
		},
		{
			name: "cohort subset",
			q:    Query{Cohorts: []string{"B"}, Period: march2025()},
			want: []string{"B: MDI-1 205 (Jordan)"},
		},
		{
			name: "orientation only",
			q:    Query{Cohorts: all, Units: []string{"Orientation"}, Period: march2025()},
			want: []string{"A: orientation"},
		},
		{
			name: "exact unit membership",
			q:    Query{Cohorts: all, Units: []string{"FSDI 101", "FSDI"}, Period: march2025()},
			want: []string{"A: FSDI 101 (Sam)", "C: FSDI 101"},
		},
		{
			name: "teacher filter",
			q:    Query{Cohorts: all, Teachers: []string{"Jordan"}, Period: march2025()},
			want: []string{"B: MDI-1 205 (Jordan)"},
		},
		{
			name: "unassigned",
			q:    Query{Cohorts: all, Teachers: []string{"Unassigned"}, Period: march2025()},
			want: []string{"A: orientation", "C: FSDI 101"},
		},
		{
			name: "date range spanning months",
			q: Query{Cohorts: []string{"A"}, Period: model.RangePeriod(
				time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC),
				time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))},
			want: []string{"A: FSDI 101 (Sam)", "A: orientation", "A: FSDI 102", "A: FSDI 100"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			events, err := Events(entries, tc.q, teachers, model.DefaultPalette())
			if err != nil {
				t.Fatalf("Events: %v", err)
			}
			if got := titles(events); !reflect.DeepEqual(got, tc.want) {
				t.Errorf("titles = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEvents_DuplicatesAreKept(t *testing.T) {
	e := entry("03/10/25", "A", "FSDI 101")
	events, err := Events([]model.ScheduleEntry{e, e}, Query{Cohorts: []string{"A"}, Period: march2025()}, nil, model.DefaultPalette())
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Errorf("events = %d, want 2", len(events))
	}
}

func TestEvents_ColorFallsBackToDefault(t *testing.T) {
	colors := model.Palette{model.CategoryDefault: "#000000"}
	events, err := Events([]model.ScheduleEntry{entry("03/10/25", "A", "MDI2 300")},
		Query{Cohorts: []string{"A"}, Period: march2025()}, nil, colors)
	if err != nil {
		t.Fatal(err)
	}
	if events[0].Color != "#000000" || events[0].Category != model.CategoryMDI2 {
		t.Errorf("event = %+v", events[0])
	}
}

func TestTitle_SaturdaySuffix(t *testing.T) {
	cases := []struct {
		slot, teacher, want string
	}{
		{"Saturday (9 am - 12 pm)", "Sam", "A: FSDI 101 (Sam) (Sat AM)"},
		{"Saturday (12 pm - 3 pm)", "", "A: FSDI 101 (Sat PM)"},
		{"Saturday", "", "A: FSDI 101 (Sat)"},
		{"Monday (9 am - 12 pm)", "", "A: FSDI 101"},
		{"", "Sam", "A: FSDI 101 (Sam)"},
	}
	for _, tc := range cases {
		if got := Title("A", "FSDI 101", tc.teacher, tc.slot); got != tc.want {
			t.Errorf("Title(slot=%q) = %q, want %q", tc.slot, got, tc.want)
		}
	}
}

func TestTable_Pivot(t *testing.T) {
	entries := []model.ScheduleEntry{
		entry("03/12/25", "B", "MDI-1 201"),
		entry("Saturday (9 am - 12 pm), 03/15/25", "A", "FSDI 101"),
		entry("Saturday (12 pm - 3 pm), 03/15/25", "A", "FSDI 102"),
		entry("03/15/25", "A", "FSDI 101"),
		entry("03/10/25", "A", "Orientation"),
		entry("03/10/25", "Z", "FSDI 999"),
	}

	tbl, err := Table(entries, Query{Cohorts: []string{"A", "B", "A"}, Period: march2025()}, nil)
	if err != nil {
		t.Fatalf("Table: %v", err)
	}
	if !reflect.DeepEqual(tbl.Cohorts, []string{"A", "B"}) {
		t.Errorf("cohorts = %v", tbl.Cohorts)
	}

	want := []model.TableRow{
		{Date: "2025-03-10", Cells: map[string]string{"A": "Orientation"}},
		{Date: "2025-03-12", Cells: map[string]string{"B": "MDI-1 201"}},
		{Date: "2025-03-15", Cells: map[string]string{"A": "FSDI 101 / FSDI 102"}},
	}
	if !reflect.DeepEqual(tbl.Rows, want) {
		t.Errorf("rows = %+v, want %+v", tbl.Rows, want)
	}
}

func TestOptions(t *testing.T) {
	entries := []model.ScheduleEntry{
		entry("03/10/25", "B", "FSDI 102"),
		entry("03/10/25", "A", "Orientation"),
		entry("03/11/25", "A", "FSDI 101"),
		entry("03/11/25", "B", "FSDI 101"),
	}
	opts := Options(entries, []string{"Sam", "Alex"})

	if !reflect.DeepEqual(opts.Cohorts, []string{"B", "A"}) {
		t.Errorf("cohorts = %v", opts.Cohorts)
	}
	if !reflect.DeepEqual(opts.Units, []string{"FSDI 101", "FSDI 102", "Orientation"}) {
		t.Errorf("units = %v", opts.Units)
	}
	if !reflect.DeepEqual(opts.Teachers, []string{"Unassigned", "Alex", "Sam"}) {
		t.Errorf("teachers = %v", opts.Teachers)
	}
}

func TestMonths(t *testing.T) {
	entries := []model.ScheduleEntry{
		entry("03/10/25", "A", "FSDI 101"),
		entry("01/31/25", "A", "FSDI 100"),
		entry("03/11/25", "A", "FSDI 101"),
	}
	months := Months(entries)
	if len(months) != 3 {
		t.Fatalf("months = %+v, want 3", months)
	}
	if months[0].Label != "January 2025" || months[0].Entries != 1 {
		t.Errorf("first = %+v", months[0])
	}
	if months[1].Month != time.February || months[1].Entries != 0 {
		t.Errorf("gap month = %+v", months[1])
	}
	if months[2].Month != time.March || months[2].Entries != 2 {
		t.Errorf("last = %+v", months[2])
	}

	def, ok := DefaultMonth(months, time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC))
	if !ok || def.Month != time.March {
		t.Errorf("default = %+v", def)
	}
	def, ok = DefaultMonth(months, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	if !ok || def.Month != time.January || def.Year != 2025 {
		t.Errorf("fallback default = %+v", def)
	}
	if Months(nil) != nil {
		t.Errorf("Months(nil) should be nil")
	}
}
