// Package config loads and validates the device's scouting configuration.
// Fields are pointers so a partial YAML file only overrides what it names;
// the Get* accessors supply defaults for everything else. The same struct is
// served to and accepted from the settings API, so every field carries
// matching YAML and JSON tags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fieldline-data/scout.report/internal/chartkind"
)

// DefaultConfigFile is the canonical config file name, searched for in the
// working directory and under config/.
const DefaultConfigFile = "scout.yaml"

// Config is the root configuration document.
type Config struct {
	Device   *DeviceConfig   `yaml:"device,omitempty" json:"device,omitempty"`
	Event    *EventConfig    `yaml:"event,omitempty" json:"event,omitempty"`
	Analysis *AnalysisConfig `yaml:"analysis,omitempty" json:"analysis,omitempty"`
	Survey   *SurveyConfig   `yaml:"survey,omitempty" json:"survey,omitempty"`
	Updates  *UpdatesConfig  `yaml:"updates,omitempty" json:"updates,omitempty"`
}

// DeviceConfig names this scouting device.
type DeviceConfig struct {
	Name *string `yaml:"name,omitempty" json:"name,omitempty"`
}

// EventConfig identifies the competition being scouted.
type EventConfig struct {
	Name   *string `yaml:"name,omitempty" json:"name,omitempty"`
	Season *string `yaml:"season,omitempty" json:"season,omitempty"`
}

// AnalysisConfig controls the analyze view and its charts.
type AnalysisConfig struct {
	ExpectedDevices *int          `yaml:"expected_devices,omitempty" json:"expected_devices,omitempty"`
	MatchesPerPage  *int          `yaml:"matches_per_page,omitempty" json:"matches_per_page,omitempty"`
	Graphs          []GraphConfig `yaml:"graphs,omitempty" json:"graphs,omitempty"`
}

// GraphConfig is one configured chart.
type GraphConfig struct {
	Field     string `yaml:"field" json:"field"`
	Label     string `yaml:"label,omitempty" json:"label,omitempty"`
	ChartType string `yaml:"chart_type,omitempty" json:"chart_type,omitempty"`
	Color     string `yaml:"color,omitempty" json:"color,omitempty"`
	Enabled   *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// SurveyConfig points at the survey schema file. Empty means the embedded
// stock schema.
type SurveyConfig struct {
	Path *string `yaml:"path,omitempty" json:"path,omitempty"`
}

// UpdatesConfig controls the release update checker.
type UpdatesConfig struct {
	Repo          *string `yaml:"repo,omitempty" json:"repo,omitempty"`
	CheckInterval *string `yaml:"check_interval,omitempty" json:"check_interval,omitempty"` // duration string like "1h"
	Enabled       *bool   `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// Helper functions to create pointers
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }
func ptrBool(v bool) *bool       { return &v }

// Default returns an empty config; accessors fall back to defaults.
func Default() *Config {
	return &Config{}
}

// Load reads and validates a YAML config file. Fields omitted from the file
// keep their defaults, so partial configs are safe.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes and validates config YAML.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadDefault tries the usual config locations and falls back to an empty
// config when none exists. A malformed file is still an error: silently
// ignoring a broken config hides scoring-field typos until an event.
func LoadDefault() (*Config, error) {
	candidates := []string{
		DefaultConfigFile,
		filepath.Join("config", DefaultConfigFile),
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "scout.report", DefaultConfigFile))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return Load(path)
	}
	return Default(), nil
}

// Save writes the config as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// YAML renders the config for export.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if c.Analysis != nil {
		if c.Analysis.ExpectedDevices != nil && *c.Analysis.ExpectedDevices < 0 {
			return fmt.Errorf("expected_devices must be non-negative, got %d", *c.Analysis.ExpectedDevices)
		}
		if c.Analysis.MatchesPerPage != nil && *c.Analysis.MatchesPerPage < 0 {
			return fmt.Errorf("matches_per_page must be non-negative, got %d", *c.Analysis.MatchesPerPage)
		}
	}

	if c.Updates != nil && c.Updates.CheckInterval != nil && *c.Updates.CheckInterval != "" {
		if _, err := time.ParseDuration(*c.Updates.CheckInterval); err != nil {
			return fmt.Errorf("invalid check_interval '%s': %w", *c.Updates.CheckInterval, err)
		}
	}

	return nil
}

// GetDeviceName returns the configured device name or the default.
func (c *Config) GetDeviceName() string {
	if c.Device == nil || c.Device.Name == nil || strings.TrimSpace(*c.Device.Name) == "" {
		return "Scouting Device"
	}
	return strings.TrimSpace(*c.Device.Name)
}

// GetEventName returns the configured event name or the default.
func (c *Config) GetEventName() string {
	if c.Event == nil || c.Event.Name == nil || strings.TrimSpace(*c.Event.Name) == "" {
		return "Practice Event"
	}
	return strings.TrimSpace(*c.Event.Name)
}

// GetEventSeason returns the configured season or the default.
func (c *Config) GetEventSeason() string {
	if c.Event == nil || c.Event.Season == nil || strings.TrimSpace(*c.Event.Season) == "" {
		return "offseason"
	}
	return strings.TrimSpace(*c.Event.Season)
}

// GetExpectedDevices returns how many scouting devices the event plans to
// run, used by the device status panel.
func (c *Config) GetExpectedDevices() int {
	if c.Analysis == nil || c.Analysis.ExpectedDevices == nil {
		return 8
	}
	return *c.Analysis.ExpectedDevices
}

// GetMatchesPerPage returns the record page size, clamped to 5..500.
func (c *Config) GetMatchesPerPage() int {
	n := 25
	if c.Analysis != nil && c.Analysis.MatchesPerPage != nil {
		n = *c.Analysis.MatchesPerPage
	}
	return ClampPageSize(n)
}

// ClampPageSize bounds a requested page size to 5..500.
func ClampPageSize(n int) int {
	switch {
	case n < 5:
		return 5
	case n > 500:
		return 500
	}
	return n
}

// GetSurveyPath returns the survey schema path; empty means the embedded
// stock schema.
func (c *Config) GetSurveyPath() string {
	if c.Survey == nil || c.Survey.Path == nil {
		return ""
	}
	return strings.TrimSpace(*c.Survey.Path)
}

// GetUpdatesRepo returns the GitHub owner/repo consulted for releases.
func (c *Config) GetUpdatesRepo() string {
	if c.Updates == nil || c.Updates.Repo == nil || strings.TrimSpace(*c.Updates.Repo) == "" {
		return "fieldline-data/scout.report"
	}
	return strings.TrimSpace(*c.Updates.Repo)
}

// GetUpdatesEnabled reports whether background update checks run.
func (c *Config) GetUpdatesEnabled() bool {
	if c.Updates == nil || c.Updates.Enabled == nil {
		return true
	}
	return *c.Updates.Enabled
}

// GetCheckInterval returns the update poll interval.
func (c *Config) GetCheckInterval() time.Duration {
	if c.Updates == nil || c.Updates.CheckInterval == nil || *c.Updates.CheckInterval == "" {
		return time.Hour
	}
	d, err := time.ParseDuration(*c.Updates.CheckInterval)
	if err != nil {
		return time.Hour
	}
	return d
}

// ConfigID derives the event's stable identifier stamped into every record:
// event name and season lowercased with runs of non-alphanumerics collapsed
// to single underscores.
func (c *Config) ConfigID() string {
	return slug(c.GetEventName() + "_" + c.GetEventSeason())
}

func slug(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(s) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimRight(b.String(), "_")
}

// SanitizedGraphs normalizes the configured charts: unknown chart kinds fall
// back to line, disabled and duplicate entries drop out, fields outside
// available (when provided) drop out, and missing colours pick from the
// default palette by position.
func (c *Config) SanitizedGraphs(available []string) []GraphConfig {
	var raw []GraphConfig
	if c.Analysis != nil {
		raw = c.Analysis.Graphs
	}
	if len(raw) == 0 {
		raw = []GraphConfig{
			{Field: "auto_score", ChartType: chartkind.Line},
			{Field: "teleop_score", ChartType: chartkind.Line},
		}
	}

	var availSet map[string]bool
	if available != nil {
		availSet = make(map[string]bool, len(available))
		for _, f := range available {
			availSet[f] = true
		}
	}

	out := make([]GraphConfig, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, g := range raw {
		field := strings.TrimSpace(g.Field)
		if field == "" || seen[field] {
			continue
		}
		if g.Enabled != nil && !*g.Enabled {
			continue
		}
		if availSet != nil && !availSet[field] {
			continue
		}
		seen[field] = true

		g.Field = field
		g.ChartType = chartkind.Sanitize(g.ChartType)
		if strings.TrimSpace(g.Color) == "" {
			g.Color = chartkind.PaletteColor(len(out))
		}
		out = append(out, g)
	}
	return out
}
