// Package roster holds cohort/unit to teacher assignments and parses the
// pasted assignment blocks they are built from.
package roster

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Assignments maps cohort name -> unit key -> teacher name.
type Assignments map[string]map[string]string

// Delta is the result of parsing one assignment block.
type Delta struct {
	Assignments Assignments
	Teachers    []string
	// Skipped counts non-blank lines that were neither a header nor an
	// assignment, including assignment lines seen before any header.
	Skipped int
}

var (
	unitLeadRe   = regexp.MustCompile(`^\d{3}\s`)
	leadDigitsRe = regexp.MustCompile(`^(\d+)`)
)

// ParseBlock parses a pasted teacher assignment block:
//
//	Cohort 52
//	101	Sam
//	102	Jordan
//
// Header detection is heuristic: a tab-free line that does not start with a
// three digit unit number and either starts with "COHORT " or contains "CH "
// or "CH." (case-insensitive). Stray lines are skipped, not rejected.
func ParseBlock(raw string) Delta {
	d := Delta{Assignments: make(Assignments)}
	seen := make(map[string]bool)
	current := ""

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if IsCohortHeader(line) {
			current = line
			d.Assignments[current] = make(map[string]string)
			continue
		}
		if current == "" {
			d.Skipped++
			continue
		}

		unit, teacher, ok := splitAssignment(line)
		if !ok {
			d.Skipped++
			continue
		}
		d.Assignments[current][unitKey(unit)] = teacher
		if !seen[teacher] {
			seen[teacher] = true
			d.Teachers = append(d.Teachers, teacher)
		}
	}
	sort.Strings(d.Teachers)
	return d
}

// IsCohortHeader reports whether line opens a new cohort section.
func IsCohortHeader(line string) bool {
	line = strings.TrimSpace(line)
	if strings.Contains(line, "\t") || unitLeadRe.MatchString(line) {
		return false
	}
	up := strings.ToUpper(line)
	return strings.HasPrefix(up, "COHORT ") ||
		strings.Contains(up, "CH ") ||
		strings.Contains(up, "CH.")
}

// splitAssignment splits on the first run of whitespace into unit token and
// teacher name; the teacher name may itself contain spaces.
func splitAssignment(line string) (string, string, bool) {
	i := strings.IndexFunc(line, isSpace)
	if i < 0 {
		return "", "", false
	}
	unit := strings.TrimSpace(line[:i])
	teacher := strings.TrimSpace(line[i:])
	if unit == "" || teacher == "" {
		return "", "", false
	}
	return unit, teacher, true
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t'
}

// unitKey keeps the leading digit run of a unit token ("101a" -> "101").
func unitKey(unit string) string {
	if m := leadDigitsRe.FindStringSubmatch(unit); m != nil {
		return m[1]
	}
	return unit
}

// Store is the process-wide assignment table plus the set of every teacher
// name ever parsed. It only grows: Merge overwrites pairs, nothing deletes.
type Store struct {
	mu          sync.RWMutex
	assignments Assignments
	teachers    map[string]struct{}
}

// NewStore seeds a store from persisted state. Nil arguments are fine.
func NewStore(assignments Assignments, teachers []string) *Store {
	s := &Store{
		assignments: make(Assignments),
		teachers:    make(map[string]struct{}),
	}
	for cohort, units := range assignments {
		m := make(map[string]string, len(units))
		for k, v := range units {
			m[k] = v
			s.teachers[v] = struct{}{}
		}
		s.assignments[cohort] = m
	}
	for _, t := range teachers {
		if t != "" {
			s.teachers[t] = struct{}{}
		}
	}
	return s
}

// Merge writes every (cohort, unit key) pair of d into the store, replacing
// existing pairs with the same keys, and records all teachers in d.
func (s *Store) Merge(d Delta) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for cohort, units := range d.Assignments {
		dst, ok := s.assignments[cohort]
		if !ok {
			dst = make(map[string]string, len(units))
			s.assignments[cohort] = dst
		}
		for k, v := range units {
			dst[k] = v
			s.teachers[v] = struct{}{}
		}
	}
	for _, t := range d.Teachers {
		s.teachers[t] = struct{}{}
	}
}

// Teacher returns the teacher for (cohort, key), or "" when either is unknown.
func (s *Store) Teacher(cohort, key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assignments[cohort][key]
}

// KnownTeachers returns every teacher name seen so far, sorted.
func (s *Store) KnownTeachers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.teachers))
	for t := range s.teachers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns a deep copy of the assignment table.
func (s *Store) Snapshot() Assignments {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Assignments, len(s.assignments))
	for cohort, units := range s.assignments {
		m := make(map[string]string, len(units))
		for k, v := range units {
			m[k] = v
		}
		out[cohort] = m
	}
	return out
}
