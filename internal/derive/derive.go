// Package derive turns schedule entries into calendar events and the pivoted
// table view, applying cohort, unit, teacher and period filters.
//
// The package only reads its inputs; teacher assignments and colors are owned
// by the caller.
package derive

import (
	"errors"
	"sort"
	"strings"

	"cohortcal/internal/model"
	"cohortcal/internal/schedule"
)

// ErrNoCohorts is returned when the query selects no cohorts. It is a
// distinct "nothing selected" state, not a failure.
var ErrNoCohorts = errors.New("derive: no cohorts selected")

const (
	// UnassignedTeacher is the teacher filter value matching events
	// without a resolved teacher.
	UnassignedTeacher = "Unassigned"
	// OrientationUnit is the unit filter value matching orientation cells.
	OrientationUnit = "Orientation"

	tableSeparator = " / "
)

// TeacherLookup resolves the teacher for a cohort and unit key.
type TeacherLookup interface {
	Teacher(cohort, key string) string
}

// Query selects which entries become events. Empty Units or Teachers means
// no filtering on that axis; empty Cohorts is ErrNoCohorts.
type Query struct {
	Cohorts  []string
	Units    []string
	Teachers []string
	Period   model.Period
}

type match struct {
	entry   model.ScheduleEntry
	label   model.UnitLabel
	teacher string
}

// Events derives one calendar event per entry passing every filter. Output
// order follows the input entries.
func Events(entries []model.ScheduleEntry, q Query, teachers TeacherLookup, colors model.Palette) ([]model.CalendarEvent, error) {
	matches, err := filter(entries, q, teachers)
	if err != nil {
		return nil, err
	}

	events := make([]model.CalendarEvent, 0, len(matches))
	for _, m := range matches {
		events = append(events, model.CalendarEvent{
			Title: Title(m.entry.Cohort, m.label.Display, m.teacher, schedule.SlotLabel(m.entry.RawDate)),
			Start: m.entry.Date.Format(model.DateLayout),
			Color: colors.Color(m.label.Category),
			ExtendedProps: model.EventProps{
				Teacher: m.teacher,
				Cohort:  m.entry.Cohort,
				Unit:    m.label.Display,
			},
			Date:     m.entry.Date,
			Category: m.label.Category,
		})
	}
	return events, nil
}

// Table pivots passing entries into one row per date and one column per
// selected cohort. Several units for the same date and cohort are joined with
// " / " after de-duplication. Rows are sorted by ascending date.
func Table(entries []model.ScheduleEntry, q Query, teachers TeacherLookup) (model.Table, error) {
	matches, err := filter(entries, q, teachers)
	if err != nil {
		return model.Table{}, err
	}

	tbl := model.Table{Cohorts: uniqueStrings(q.Cohorts)}

	type cellKey struct{ date, cohort string }
	units := make(map[cellKey][]string)
	rowIdx := make(map[string]int)

	for _, m := range matches {
		date := m.entry.Date.Format(model.DateLayout)
		if _, ok := rowIdx[date]; !ok {
			rowIdx[date] = len(tbl.Rows)
			tbl.Rows = append(tbl.Rows, model.TableRow{Date: date, Cells: make(map[string]string)})
		}
		k := cellKey{date, m.entry.Cohort}
		if !contains(units[k], m.label.Display) {
			units[k] = append(units[k], m.label.Display)
		}
	}

	for k, list := range units {
		tbl.Rows[rowIdx[k.date]].Cells[k.cohort] = strings.Join(list, tableSeparator)
	}
	// DateLayout sorts lexically in date order.
	sort.SliceStable(tbl.Rows, func(i, j int) bool { return tbl.Rows[i].Date < tbl.Rows[j].Date })
	return tbl, nil
}

func filter(entries []model.ScheduleEntry, q Query, teachers TeacherLookup) ([]match, error) {
	if len(q.Cohorts) == 0 {
		return nil, ErrNoCohorts
	}
	cohorts := toSet(q.Cohorts)
	units := toSet(q.Units)
	teacherSet := toSet(q.Teachers)

	var out []match
	for _, e := range entries {
		if !q.Period.Contains(e.Date) {
			continue
		}
		if _, ok := cohorts[e.Cohort]; !ok {
			continue
		}
		if schedule.IsBlankCell(e.UnitRaw) {
			continue
		}

		label := schedule.Normalize(e.UnitRaw)
		if !unitPasses(label.Display, units) {
			continue
		}

		teacher := ""
		if label.HasTeacherKey && teachers != nil {
			teacher = teachers.Teacher(e.Cohort, label.TeacherKey)
		}
		if !teacherPasses(teacher, teacherSet) {
			continue
		}

		out = append(out, match{entry: e, label: label, teacher: teacher})
	}
	return out, nil
}

func unitPasses(display string, units map[string]struct{}) bool {
	if len(units) == 0 {
		return true
	}
	if schedule.IsOrientation(display) {
		if _, ok := units[OrientationUnit]; ok {
			return true
		}
	}
	_, ok := units[display]
	return ok
}

func teacherPasses(teacher string, teachers map[string]struct{}) bool {
	if len(teachers) == 0 {
		return true
	}
	if teacher == "" {
		_, ok := teachers[UnassignedTeacher]
		return ok
	}
	_, ok := teachers[teacher]
	return ok
}

// Title builds "{cohort}: {unit}", then " ({teacher})" when a teacher is
// known, then a Saturday slot suffix when the slot label names Saturday.
func Title(cohort, unit, teacher, slot string) string {
	title := cohort + ": " + unit
	if teacher != "" {
		title += " (" + teacher + ")"
	}
	return title + SlotSuffix(slot)
}

// SlotSuffix returns " (Sat AM)", " (Sat PM)" or " (Sat)" for Saturday slot
// labels and "" otherwise.
func SlotSuffix(slot string) string {
	if !strings.Contains(slot, "Saturday") {
		return ""
	}
	switch {
	case strings.Contains(slot, "(9 am - 12 pm)"):
		return " (Sat AM)"
	case strings.Contains(slot, "(12 pm - 3 pm)"):
		return " (Sat PM)"
	default:
		return " (Sat)"
	}
}

func toSet(list []string) map[string]struct{} {
	m := make(map[string]struct{}, len(list))
	for _, s := range list {
		m[s] = struct{}{}
	}
	return m
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func uniqueStrings(list []string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if !contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
