package schedule

import (
	"regexp"
	"strings"

	"cohortcal/internal/model"
)

var unitNumberRe = regexp.MustCompile(`\b(\d{3})\b`)

// IsBlankCell reports whether a cell denotes no activity at all: empty text or
// the "nan" artifact of missing-value stringification.
func IsBlankCell(cell string) bool {
	s := strings.TrimSpace(cell)
	return s == "" || strings.EqualFold(s, "nan")
}

// IsOrientation reports whether the cell is exactly "orientation" (any case).
func IsOrientation(cell string) bool {
	return strings.EqualFold(strings.TrimSpace(cell), "orientation")
}

// Normalize maps a raw schedule cell to its display label, color category and
// teacher lookup key.
func Normalize(cell string) model.UnitLabel {
	s := strings.TrimSpace(cell)
	if IsBlankCell(s) {
		return model.UnitLabel{Category: model.CategoryDefault}
	}

	label := model.UnitLabel{
		Display:  s,
		Category: CategoryOf(s),
	}
	if IsOrientation(s) {
		return label
	}

	label.HasTeacherKey = true
	if m := unitNumberRe.FindStringSubmatch(s); m != nil {
		label.TeacherKey = m[1]
	} else {
		label.TeacherKey = s
	}
	return label
}

// CategoryOf classifies unit text by case-insensitive substring, first match
// wins: FSDI, MDI1/MDI-1, MDI2/MDI-2, ORIENTATION, else DEFAULT.
func CategoryOf(unit string) model.Category {
	up := strings.ToUpper(unit)
	switch {
	case up == "":
		return model.CategoryDefault
	case strings.Contains(up, "FSDI"):
		return model.CategoryFSDI
	case strings.Contains(up, "MDI1") || strings.Contains(up, "MDI-1"):
		return model.CategoryMDI1
	case strings.Contains(up, "MDI2") || strings.Contains(up, "MDI-2"):
		return model.CategoryMDI2
	case strings.Contains(up, "ORIENTATION"):
		return model.CategoryOrientation
	default:
		return model.CategoryDefault
	}
}
