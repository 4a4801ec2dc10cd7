// Package service owns the process-wide state (schedule store, teacher
// assignments, event colors and the config file they persist to) and exposes
// the operations the CLI and HTTP layers call.
package service

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"cohortcal/internal/config"
	"cohortcal/internal/derive"
	appLog "cohortcal/internal/log"
	"cohortcal/internal/metrics"
	"cohortcal/internal/model"
	"cohortcal/internal/roster"
	"cohortcal/internal/schedule"
	"cohortcal/internal/store"
)

var (
	// ErrConfigIO wraps a failed config write. The in-memory change has
	// already been applied; callers report it as a warning.
	ErrConfigIO = errors.New("config io failure")
	// ErrEmptyInput is returned for blank pasted text.
	ErrEmptyInput = errors.New("no data provided")
	// ErrInvalidColor is returned for an unknown category or non-hex color.
	ErrInvalidColor = errors.New("invalid color")
)

// ImportReport summarizes one ingestion.
type ImportReport struct {
	Cohorts []string `json:"cohorts"`
	Added   int      `json:"added"`
	Skipped int      `json:"skipped"`
}

// Overview is what a calendar front end needs to build its filter sidebar.
type Overview struct {
	Options      model.FilterOptions `json:"options"`
	Months       []model.MonthOption `json:"months"`
	DefaultMonth *model.MonthOption  `json:"default_month,omitempty"`
	Colors       map[string]string   `json:"colors"`
	Skipped      int                 `json:"skipped"`
}

// Service is the single handle to shared state. Safe for concurrent use.
type Service struct {
	configPath string
	store      *store.Store
	roster     *roster.Store

	mu      sync.RWMutex
	cfg     *config.Config
	palette model.Palette

	subMu       sync.Mutex
	subscribers []func()

	now func() time.Time
}

// New builds a Service from a loaded config.
func New(configPath string, cfg *config.Config) *Service {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	cfg.Normalize()
	return &Service{
		configPath: configPath,
		store:      store.New(cfg.SchedulePath),
		roster:     roster.NewStore(cfg.TeacherAssignments, cfg.AllKnownTeachers),
		cfg:        cfg,
		palette:    cfg.Palette(),
		now:        time.Now,
	}
}

// SetClock replaces the time source used to pick the default month.
func (s *Service) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Service) clock() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now()
}

// Roster returns the teacher assignment store.
func (s *Service) Roster() *roster.Store { return s.roster }

// ICSName returns the configured calendar name.
func (s *Service) ICSName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.ICSName
}

// Palette returns a copy of the current event colors.
func (s *Service) Palette() model.Palette {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.palette.Clone()
}

// Subscribe registers fn to run after every change to schedule or config.
func (s *Service) Subscribe(fn func()) {
	s.subMu.Lock()
	s.subscribers = append(s.subscribers, fn)
	s.subMu.Unlock()
}

func (s *Service) notify() {
	s.subMu.Lock()
	subs := append([]func(){}, s.subscribers...)
	s.subMu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

// Reload drops the cached schedule so the next read goes to disk.
func (s *Service) Reload() {
	s.store.Invalidate()
	s.notify()
}

// Schedule returns the persisted schedule.
func (s *Service) Schedule() (store.LoadResult, error) {
	return s.store.Load()
}

// ImportWide ingests a wide CSV/XLSX schedule and appends it to (or, with
// replace, substitutes it for) the persisted schedule.
func (s *Service) ImportWide(name string, r io.Reader, replace bool) (ImportReport, error) {
	res, err := schedule.ReadWide(name, r)
	if err != nil {
		return ImportReport{}, err
	}
	metrics.ObserveSkipped("wide", res.SkippedRows)

	if err := s.write(res.Entries, replace); err != nil {
		return ImportReport{}, err
	}
	appLog.Info("wide schedule imported", "file", name, "cohorts", len(res.Cohorts), "entries", len(res.Entries), "skipped", res.SkippedRows, "replace", replace)
	return ImportReport{Cohorts: res.Cohorts, Added: len(res.Entries), Skipped: res.SkippedRows}, nil
}

// ImportLongForm ingests a pasted long-form block and appends it.
func (s *Service) ImportLongForm(text string) (ImportReport, error) {
	if strings.TrimSpace(text) == "" {
		return ImportReport{}, ErrEmptyInput
	}
	res := schedule.ParseLongForm(text)
	metrics.ObserveSkipped("paste", res.Skipped)

	if len(res.Entries) > 0 {
		if err := s.write(res.Entries, false); err != nil {
			return ImportReport{}, err
		}
	}
	appLog.Info("long-form schedule imported", "cohorts", len(res.Cohorts), "entries", len(res.Entries), "skipped", res.Skipped)
	return ImportReport{Cohorts: res.Cohorts, Added: len(res.Entries), Skipped: res.Skipped}, nil
}

func (s *Service) write(entries []model.ScheduleEntry, replace bool) error {
	mode := "append"
	var err error
	if replace {
		mode = "replace"
		err = s.store.Replace(entries)
	} else {
		err = s.store.Append(entries)
	}
	metrics.ObserveStoreWrite(mode, err)
	if err != nil {
		return err
	}
	s.notify()
	return nil
}

// UpdateAssignments parses a pasted teacher block, merges it and persists
// the config. A returned ErrConfigIO means the merge is live but unsaved.
func (s *Service) UpdateAssignments(raw string) (roster.Delta, error) {
	if strings.TrimSpace(raw) == "" {
		return roster.Delta{}, ErrEmptyInput
	}
	delta := roster.ParseBlock(raw)
	metrics.ObserveSkipped("teachers", delta.Skipped)
	s.roster.Merge(delta)
	appLog.Info("teacher assignments merged", "cohorts", len(delta.Assignments), "teachers", len(delta.Teachers), "skipped", delta.Skipped)

	err := s.persist()
	s.notify()
	return delta, err
}

// SetColor changes the color of one category and persists the config.
func (s *Service) SetColor(category, color string) error {
	cat, ok := model.ParseCategory(category)
	if !ok {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidColor, category)
	}
	color = strings.TrimSpace(color)
	if !config.ValidColor(color) {
		return fmt.Errorf("%w: %q is not #rrggbb", ErrInvalidColor, color)
	}

	s.mu.Lock()
	s.palette[cat] = color
	s.mu.Unlock()

	err := s.persist()
	s.notify()
	return err
}

func (s *Service) persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg.TeacherAssignments = s.roster.Snapshot()
	s.cfg.AllKnownTeachers = s.roster.KnownTeachers()
	s.cfg.SetPalette(s.palette)

	err := s.cfg.Save(s.configPath)
	metrics.ObserveConfigSave(err)
	if err != nil {
		appLog.Warn("config save failed; keeping changes in memory", "path", s.configPath, "err", err)
		return fmt.Errorf("%w: %v", ErrConfigIO, err)
	}
	return nil
}

// Events derives calendar events from the persisted schedule.
func (s *Service) Events(q derive.Query) ([]model.CalendarEvent, int, error) {
	res, err := s.Schedule()
	if err != nil {
		return nil, 0, err
	}
	events, err := derive.Events(res.Entries, q, s.roster, s.Palette())
	metrics.ObserveDerive("events", deriveResult(err), len(events))
	return events, res.Skipped, err
}

// Table derives the pivoted table view from the persisted schedule.
func (s *Service) Table(q derive.Query) (model.Table, int, error) {
	res, err := s.Schedule()
	if err != nil {
		return model.Table{}, 0, err
	}
	tbl, err := derive.Table(res.Entries, q, s.roster)
	metrics.ObserveDerive("table", deriveResult(err), 0)
	return tbl, res.Skipped, err
}

// deriveResult labels NoSelection apart from failures.
func deriveResult(err error) string {
	if errors.Is(err, derive.ErrNoCohorts) {
		return metrics.ResultNoSelection
	}
	return metrics.Result(err)
}

// AllCohorts returns every cohort of the persisted schedule in first-seen
// order.
func (s *Service) AllCohorts() ([]string, error) {
	res, err := s.Schedule()
	if err != nil {
		return nil, err
	}
	return derive.Options(res.Entries, nil).Cohorts, nil
}

// DefaultPeriod is the month a view opens on: the current month when the
// schedule covers it, else the earliest scheduled month, else the current
// month.
func (s *Service) DefaultPeriod() (model.Period, error) {
	res, err := s.Schedule()
	if err != nil {
		return model.Period{}, err
	}
	now := s.clock()
	if m, ok := derive.DefaultMonth(derive.Months(res.Entries), now); ok {
		return model.MonthPeriod(m.Year, m.Month), nil
	}
	return model.MonthPeriod(now.Year(), now.Month()), nil
}

// Overview lists filter options, selectable months and colors.
func (s *Service) Overview() (Overview, error) {
	res, err := s.Schedule()
	if err != nil {
		return Overview{}, err
	}

	ov := Overview{
		Options: derive.Options(res.Entries, s.roster.KnownTeachers()),
		Months:  derive.Months(res.Entries),
		Colors:  make(map[string]string),
		Skipped: res.Skipped,
	}
	if m, ok := derive.DefaultMonth(ov.Months, s.clock()); ok {
		ov.DefaultMonth = &m
	}
	for cat, color := range s.Palette() {
		ov.Colors[string(cat)] = color
	}
	return ov, nil
}
