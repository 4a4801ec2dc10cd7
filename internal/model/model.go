package model

import (
	"strings"
	"time"
)

// DateLayout is the canonical calendar-date rendering used in API payloads.
const DateLayout = "2006-01-02"

// ScheduleEntry is one long-form schedule row: a cohort doing a unit on a date.
//
// RawDate keeps the original date text (possibly with a slot label prefix such
// as "Saturday (9 am - 12 pm), 03/14/25") so the date can be re-parsed on every
// load. Date is the parsed calendar date at UTC midnight.
type ScheduleEntry struct {
	RawDate string
	Date    time.Time
	Cohort  string
	UnitRaw string
}

// Category is the coarse unit grouping that drives event color.
type Category string

const (
	CategoryFSDI        Category = "FSDI"
	CategoryMDI1        Category = "MDI1"
	CategoryMDI2        Category = "MDI2"
	CategoryOrientation Category = "ORIENTATION"
	CategoryDefault     Category = "DEFAULT"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryFSDI,
	CategoryMDI1,
	CategoryMDI2,
	CategoryOrientation,
	CategoryDefault,
}

// ParseCategory resolves a category name case-insensitively.
func ParseCategory(s string) (Category, bool) {
	up := Category(strings.ToUpper(strings.TrimSpace(s)))
	for _, c := range Categories {
		if c == up {
			return c, true
		}
	}
	return "", false
}

// UnitLabel is the normalized view of a schedule cell.
type UnitLabel struct {
	Display  string
	Category Category
	// TeacherKey is empty when HasTeacherKey is false (blank, "nan" or
	// orientation cells).
	TeacherKey    string
	HasTeacherKey bool
}

// Palette maps categories to display colors (EventColors).
type Palette map[Category]string

// DefaultPalette returns the built-in color set.
func DefaultPalette() Palette {
	return Palette{
		CategoryFSDI:        "#1f77b4",
		CategoryMDI1:        "#ff7f0e",
		CategoryMDI2:        "#2ca02c",
		CategoryOrientation: "#d62728",
		CategoryDefault:     "#7f7f7f",
	}
}

// Color returns the color for c, falling back to the DEFAULT entry.
func (p Palette) Color(c Category) string {
	if v, ok := p[c]; ok && v != "" {
		return v
	}
	if v, ok := p[CategoryDefault]; ok && v != "" {
		return v
	}
	return DefaultPalette()[CategoryDefault]
}

// Clone returns an independent copy of p.
func (p Palette) Clone() Palette {
	out := make(Palette, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Period is an inclusive calendar-date window. A month is represented as the
// range from its first to its last day.
type Period struct {
	Start time.Time
	End   time.Time
}

// MonthPeriod returns the period covering the whole given month.
func MonthPeriod(year int, month time.Month) Period {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.AddDate(0, 1, -1)}
}

// RangePeriod returns an inclusive [start, end] period truncated to dates.
func RangePeriod(start, end time.Time) Period {
	return Period{Start: DateOf(start), End: DateOf(end)}
}

// Contains reports whether d falls inside the period (inclusive on both ends).
func (p Period) Contains(d time.Time) bool {
	d = DateOf(d)
	return !d.Before(p.Start) && !d.After(p.End)
}

// DateOf truncates t to its calendar date at UTC midnight.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// EventProps carries the attribution fields of a CalendarEvent.
type EventProps struct {
	Teacher string `json:"teacher"`
	Cohort  string `json:"cohort"`
	Unit    string `json:"unit"`
}

// CalendarEvent is the derived event consumed by the calendar renderer.
type CalendarEvent struct {
	Title         string     `json:"title"`
	Start         string     `json:"start"`
	Color         string     `json:"color"`
	ExtendedProps EventProps `json:"extendedProps"`

	Date     time.Time `json:"-"`
	Category Category  `json:"-"`
}

// TableRow is one date of the pivoted table view. Cells is keyed by cohort.
type TableRow struct {
	Date  string            `json:"date"`
	Cells map[string]string `json:"cells"`
}

// Table is the sparse cohort-by-date pivot of passing entries.
type Table struct {
	Cohorts []string   `json:"cohorts"`
	Rows    []TableRow `json:"rows"`
}

// MonthOption is one selectable month with the number of entries in it.
type MonthOption struct {
	Year    int        `json:"year"`
	Month   time.Month `json:"month"`
	Label   string     `json:"label"`
	Entries int        `json:"entries"`
}

// FilterOptions lists the choices offered by the sidebar filters.
type FilterOptions struct {
	Cohorts  []string `json:"cohorts"`
	Units    []string `json:"units"`
	Teachers []string `json:"teachers"`
}
