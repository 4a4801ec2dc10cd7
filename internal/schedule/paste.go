package schedule

import (
	"regexp"
	"strings"

	"cohortcal/internal/model"
)

var dateTokenRe = regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{2,4}$`)

// PasteResult is the outcome of parsing a pasted long-form schedule block.
type PasteResult struct {
	Cohorts []string
	Entries []model.ScheduleEntry
	// Skipped counts non-blank lines that yielded no entry.
	Skipped int
}

// ParseLongForm parses a pasted schedule block.
//
// The first non-blank line names the cohort. Each following line holds an
// optional day label, a date and the unit, separated by tabs (or whitespace
// when the line has no tab). After a blank line, a line that is not a data
// row names a new cohort; data rows stay with the current one. Other lines
// without a parseable date or unit are skipped.
func ParseLongForm(text string) PasteResult {
	var res PasteResult
	cohort := ""
	afterBlank := false

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" {
			afterBlank = true
			continue
		}
		entry, ok := parseLongFormLine(line)
		if cohort == "" || (afterBlank && !ok) {
			cohort = line
			afterBlank = false
			res.Cohorts = appendUnique(res.Cohorts, cohort)
			continue
		}
		afterBlank = false

		if !ok {
			res.Skipped++
			continue
		}
		entry.Cohort = cohort
		res.Entries = append(res.Entries, entry)
	}
	return res
}

func parseLongFormLine(line string) (model.ScheduleEntry, bool) {
	fields := splitFields(line)

	at := -1
	for i, f := range fields {
		if dateTokenRe.MatchString(f) {
			at = i
			break
		}
	}
	if at < 0 || at == len(fields)-1 {
		return model.ScheduleEntry{}, false
	}

	date, ok := ParseLongFormDate(fields[at])
	if !ok {
		return model.ScheduleEntry{}, false
	}
	unit := strings.Join(fields[at+1:], " ")
	if IsBlankCell(unit) {
		return model.ScheduleEntry{}, false
	}

	raw := fields[at]
	if label := strings.Join(fields[:at], " "); label != "" {
		raw = label + ", " + raw
	}
	return model.ScheduleEntry{RawDate: raw, Date: date, UnitRaw: unit}, true
}

func splitFields(line string) []string {
	if !strings.Contains(line, "\t") {
		return strings.Fields(line)
	}
	var out []string
	for _, f := range strings.Split(line, "\t") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
