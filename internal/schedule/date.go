package schedule

import (
	"strings"
	"time"

	"cohortcal/internal/model"
)

// Layouts use non-padded month/day so "3/5/25" and "03/05/25" both parse.
const (
	layoutShortYear = "1/2/06"
	layoutLongYear  = "1/2/2006"
)

var (
	wideLayouts     = []string{layoutShortYear, layoutLongYear}
	longFormLayouts = []string{layoutLongYear, layoutShortYear}
)

// ParseDate parses a date cell from a wide schedule table. Text up to the
// last comma is a slot label and is ignored. Two-digit years are tried first.
//
// ok is false for empty input or text matching neither layout; callers drop
// the row.
func ParseDate(raw string) (time.Time, bool) {
	return parseWith(raw, wideLayouts)
}

// ParseLongFormDate is ParseDate with four-digit years tried first, matching
// the format of pasted long-form schedules.
func ParseLongFormDate(raw string) (time.Time, bool) {
	return parseWith(raw, longFormLayouts)
}

func parseWith(raw string, layouts []string) (time.Time, bool) {
	part := datePart(raw)
	if part == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, part); err == nil {
			return model.DateOf(t), true
		}
	}
	return time.Time{}, false
}

func datePart(raw string) string {
	if i := strings.LastIndex(raw, ","); i >= 0 {
		raw = raw[i+1:]
	}
	return strings.TrimSpace(raw)
}

// SlotLabel returns the text before the last comma of raw, or "" when raw has
// no comma. It is only used for display suffixes.
func SlotLabel(raw string) string {
	i := strings.LastIndex(raw, ",")
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(raw[:i])
}
