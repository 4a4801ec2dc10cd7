package config

import (
	"errors"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"cohortcal/internal/fileutil"
	"cohortcal/internal/model"
)

// NOTE: This file provides the configuration model and YAML load/save,
// including first-run config creation and 0600 permissions. Teacher
// assignments and event colors live here too, so every user edit is
// persisted by a single Save.

var hexColorRe = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// SchedulePath is the long-form schedule CSV maintained by the store.
	SchedulePath string `yaml:"schedule_path" json:"schedule_path"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// RefreshCron is a cron-style schedule string (e.g. "*/10 * * * *")
	// on which the schedule cache is dropped and re-read. Empty disables it.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// WatchSchedule re-reads the schedule whenever the file changes on disk.
	WatchSchedule bool `yaml:"watch_schedule" json:"watch_schedule"`

	// ICSName is the calendar name advertised in exported ICS feeds.
	ICSName string `yaml:"ics_name" json:"ics_name"`

	// EventColors maps a category (FSDI, MDI1, MDI2, ORIENTATION, DEFAULT)
	// to a "#rrggbb" color.
	EventColors map[string]string `yaml:"event_colors" json:"event_colors"`

	// TeacherAssignments maps cohort -> unit key -> teacher.
	TeacherAssignments map[string]map[string]string `yaml:"teacher_assignments" json:"teacher_assignments"`

	// AllKnownTeachers is every teacher name ever parsed.
	AllKnownTeachers []string `yaml:"all_known_teachers" json:"all_known_teachers"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		Listen:             "127.0.0.1:8080",
		SchedulePath:       "./data/schedule.csv",
		LogLevel:           "info",
		RefreshCron:        "*/10 * * * *",
		WatchSchedule:      true,
		ICSName:            "Cohort Schedule",
		EventColors:        make(map[string]string),
		TeacherAssignments: make(map[string]map[string]string),
		AllKnownTeachers:   []string{},
	}
	for cat, color := range model.DefaultPalette() {
		cfg.EventColors[string(cat)] = color
	}
	return cfg
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.SchedulePath == "" {
		c.SchedulePath = def.SchedulePath
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.ICSName == "" {
		c.ICSName = def.ICSName
	}

	// Keep only known categories with valid colors; fill the rest.
	colors := make(map[string]string, len(model.Categories))
	for k, v := range c.EventColors {
		cat, ok := model.ParseCategory(k)
		if !ok || !ValidColor(v) {
			continue
		}
		colors[string(cat)] = v
	}
	for k, v := range def.EventColors {
		if _, ok := colors[k]; !ok {
			colors[k] = v
		}
	}
	c.EventColors = colors

	if c.TeacherAssignments == nil {
		c.TeacherAssignments = make(map[string]map[string]string)
	}
	if c.AllKnownTeachers == nil {
		c.AllKnownTeachers = []string{}
	}
}

// Palette returns the event colors keyed by category.
func (c *Config) Palette() model.Palette {
	p := model.DefaultPalette()
	for k, v := range c.EventColors {
		if cat, ok := model.ParseCategory(k); ok && v != "" {
			p[cat] = v
		}
	}
	return p
}

// SetPalette replaces the stored event colors.
func (c *Config) SetPalette(p model.Palette) {
	c.EventColors = make(map[string]string, len(p))
	for cat, v := range p {
		c.EventColors[string(cat)] = v
	}
}

// ValidColor reports whether s is a "#rrggbb" hex color.
func ValidColor(s string) bool {
	return hexColorRe.MatchString(strings.TrimSpace(s))
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//
// On any read or parse failure Load still returns a usable default config
// alongside the error so the caller can warn and carry on.
func Load(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return DefaultConfig(), err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file + rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return fileutil.WriteAtomic(path, data, 0o600)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
