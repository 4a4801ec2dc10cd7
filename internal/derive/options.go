package derive

import (
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "cohortcal/internal/log"
	"cohortcal/internal/model"
	"cohortcal/internal/schedule"
)

// Options lists the filter choices for a schedule: cohorts in first-seen
// order, "Orientation" plus every other distinct unit sorted, and
// "Unassigned" followed by the known teachers sorted.
func Options(entries []model.ScheduleEntry, knownTeachers []string) model.FilterOptions {
	var opts model.FilterOptions

	seenCohort := make(map[string]bool)
	units := map[string]bool{OrientationUnit: true}
	for _, e := range entries {
		if !seenCohort[e.Cohort] {
			seenCohort[e.Cohort] = true
			opts.Cohorts = append(opts.Cohorts, e.Cohort)
		}
		if schedule.IsBlankCell(e.UnitRaw) || schedule.IsOrientation(e.UnitRaw) {
			continue
		}
		units[schedule.Normalize(e.UnitRaw).Display] = true
	}

	for u := range units {
		opts.Units = append(opts.Units, u)
	}
	sort.Strings(opts.Units)

	teachers := append([]string(nil), knownTeachers...)
	sort.Strings(teachers)
	opts.Teachers = append([]string{UnassignedTeacher}, teachers...)
	return opts
}

// Months returns every month from the earliest to the latest entry date,
// including months without entries, each with its entry count.
func Months(entries []model.ScheduleEntry) []model.MonthOption {
	if len(entries) == 0 {
		return nil
	}

	counts := make(map[time.Time]int)
	first, last := entries[0].Date, entries[0].Date
	for _, e := range entries {
		counts[monthStart(e.Date)]++
		if e.Date.Before(first) {
			first = e.Date
		}
		if e.Date.After(last) {
			last = e.Date
		}
	}

	r, err := rrule.NewRRule(rrule.ROption{
		Freq:    rrule.MONTHLY,
		Dtstart: monthStart(first),
		Until:   monthStart(last),
	})
	if err != nil {
		appLog.Error("months: failed to build monthly rule", err)
		return nil
	}

	starts := r.All()
	out := make([]model.MonthOption, 0, len(starts))
	for _, t := range starts {
		out = append(out, model.MonthOption{
			Year:    t.Year(),
			Month:   t.Month(),
			Label:   t.Format("January 2006"),
			Entries: counts[monthStart(t)],
		})
	}
	return out
}

// DefaultMonth picks the month containing now when offered, else the first
// option. ok is false when there are no options.
func DefaultMonth(months []model.MonthOption, now time.Time) (model.MonthOption, bool) {
	if len(months) == 0 {
		return model.MonthOption{}, false
	}
	for _, m := range months {
		if m.Year == now.Year() && m.Month == now.Month() {
			return m, true
		}
	}
	return months[0], true
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
