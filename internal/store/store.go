// Package store persists long-form schedule entries in a flat CSV file.
//
// Dates are stored as their original text and re-parsed on every load.
// Writes rewrite the whole file through a temp file and rename, so readers
// never see a half-written schedule.
package store

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"

	"cohortcal/internal/fileutil"
	appLog "cohortcal/internal/log"
	"cohortcal/internal/metrics"
	"cohortcal/internal/model"
	"cohortcal/internal/schedule"
)

// Persisted column names.
const (
	ColumnDate   = "OriginalDateString"
	ColumnCohort = "CohortName"
	ColumnUnit   = "UnitActivity"
)

var header = []string{ColumnDate, ColumnCohort, ColumnUnit}

// LoadResult is the parsed content of the schedule file.
type LoadResult struct {
	Entries []model.ScheduleEntry
	// Skipped counts stored rows dropped because their date no longer
	// parses or their cohort is blank.
	Skipped int
}

// Store is the single process-wide schedule table.
type Store struct {
	path string

	mu    sync.Mutex
	cache *LoadResult
}

type rawRow struct {
	date, cohort, unit string
}

// New returns a store backed by the CSV file at path. The file is created on
// first write.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load returns every persisted entry whose date parses. The result is cached
// until the next successful write or Invalidate. A missing file is an empty
// schedule; a file without the required columns yields schedule.ErrSchema and
// no entries.
func (s *Store) Load() (LoadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cache != nil {
		return cloneResult(*s.cache), nil
	}

	rows, err := s.readRows()
	if err != nil {
		return LoadResult{}, err
	}

	var res LoadResult
	for _, r := range rows {
		date, ok := schedule.ParseDate(r.date)
		if !ok || r.cohort == "" {
			res.Skipped++
			continue
		}
		res.Entries = append(res.Entries, model.ScheduleEntry{
			RawDate: r.date,
			Date:    date,
			Cohort:  r.cohort,
			UnitRaw: r.unit,
		})
	}
	if res.Skipped > 0 {
		appLog.Warn("schedule store rows skipped", "path", s.path, "count", res.Skipped)
	}
	metrics.ObserveSkipped("load", res.Skipped)

	s.cache = &res
	return cloneResult(res), nil
}

// Append adds entries after the persisted ones. Duplicates are kept. If the
// existing file cannot be read or lacks the required columns it is replaced
// by the new entries alone.
func (s *Store) Append(entries []model.ScheduleEntry) error {
	if err := validate(entries); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readRows()
	if err != nil {
		appLog.Error("schedule store unreadable; replacing with new entries", err, "path", s.path)
		existing = nil
	}
	if err := s.write(append(existing, toRows(entries)...)); err != nil {
		return err
	}
	s.cache = nil
	return nil
}

// Replace rewrites the whole file with entries.
func (s *Store) Replace(entries []model.ScheduleEntry) error {
	if err := validate(entries); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write(toRows(entries)); err != nil {
		return err
	}
	s.cache = nil
	return nil
}

// Invalidate drops the cached Load result.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cache = nil
	s.mu.Unlock()
}

func (s *Store) readRows() ([]rawRow, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	return parseRows(f)
}

func parseRows(r io.Reader) ([]rawRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	head, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read schedule header: %w", err)
	}

	idx := make(map[string]int, len(head))
	for i, h := range head {
		idx[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, col := range header {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", schedule.ErrSchema, col)
		}
	}

	var rows []rawRow
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read schedule row: %w", err)
		}
		rows = append(rows, rawRow{
			date:   field(rec, idx[ColumnDate]),
			cohort: field(rec, idx[ColumnCohort]),
			unit:   field(rec, idx[ColumnUnit]),
		})
	}
	return rows, nil
}

func (s *Store) write(rows []rawRow) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		if err := w.Write([]string{r.date, r.cohort, r.unit}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	if err := fileutil.WriteAtomic(s.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write schedule: %w", err)
	}
	return nil
}

func validate(entries []model.ScheduleEntry) error {
	for i, e := range entries {
		if strings.TrimSpace(e.Cohort) == "" {
			return fmt.Errorf("entry %d: cohort is empty", i)
		}
		if _, ok := schedule.ParseDate(e.RawDate); !ok {
			return fmt.Errorf("entry %d: unparseable date %q", i, e.RawDate)
		}
	}
	return nil
}

func toRows(entries []model.ScheduleEntry) []rawRow {
	rows := make([]rawRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, rawRow{date: e.RawDate, cohort: e.Cohort, unit: e.UnitRaw})
	}
	return rows
}

func field(rec []string, i int) string {
	if i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func cloneResult(r LoadResult) LoadResult {
	return LoadResult{
		Entries: append([]model.ScheduleEntry(nil), r.Entries...),
		Skipped: r.Skipped,
	}
}
