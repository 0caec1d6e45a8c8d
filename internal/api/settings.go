package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fieldline-data/scout.report/internal/config"
	"github.com/fieldline-data/scout.report/internal/httputil"
	"github.com/fieldline-data/scout.report/internal/security"
	"github.com/fieldline-data/scout.report/internal/survey"
)

// setupVersion is the bundle format revision accepted by setup import.
const setupVersion = 1

// maxSetupBytes caps the setup import body. Bundles are a schema plus a few
// settings; anything bigger is a mistake.
const maxSetupBytes = 1 << 20

// SetupBundle is the one-file event setup handed between devices before a
// competition: who the event is, the survey schema, and the analysis
// settings. One lead device exports it, every other device imports it.
type SetupBundle struct {
	SetupVersion int                    `yaml:"setup_version" json:"setup_version"`
	Created      string                 `yaml:"created" json:"created"`
	Event        SetupEvent             `yaml:"event" json:"event"`
	SurveyJSON   map[string]any         `yaml:"survey_json" json:"survey_json"`
	Analysis     *config.AnalysisConfig `yaml:"analysis,omitempty" json:"analysis,omitempty"`
}

// SetupEvent identifies the competition inside a setup bundle.
type SetupEvent struct {
	Name   string `yaml:"name" json:"name"`
	Season string `yaml:"season" json:"season"`
}

// handleGetConfig returns the stored settings document plus the resolved
// values the defaults fill in, so clients never re-implement the fallbacks.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.config()
	httputil.WriteJSONOK(w, map[string]any{
		"config": cfg,
		"effective": map[string]any{
			"device_name":      cfg.GetDeviceName(),
			"event_name":       cfg.GetEventName(),
			"event_season":     cfg.GetEventSeason(),
			"config_id":        cfg.ConfigID(),
			"expected_devices": cfg.GetExpectedDevices(),
			"matches_per_page": cfg.GetMatchesPerPage(),
			"survey_path":      cfg.GetSurveyPath(),
			"updates_enabled":  cfg.GetUpdatesEnabled(),
			"updates_repo":     cfg.GetUpdatesRepo(),
			"check_interval":   cfg.GetCheckInterval().String(),
		},
	})
}

// handlePutConfig replaces the settings document. When the new document
// points at a different survey file, the schema is reloaded from it before
// anything is swapped in, so a bad path rejects the whole update.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var next config.Config
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := next.Validate(); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	form, err := s.reloadSurvey(next.GetSurveyPath())
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	if s.configPath != "" {
		data, err := next.YAML()
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to encode config: %v", err))
			return
		}
		if err := s.fs.WriteFile(s.configPath, data, 0o644); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to save config: %v", err))
			return
		}
	}

	s.mu.Lock()
	s.cfg = &next
	if form != nil {
		s.form = form
	}
	s.mu.Unlock()

	httputil.WriteJSONOK(w, map[string]any{
		"success":   true,
		"config_id": next.ConfigID(),
	})
}

// reloadSurvey loads the schema a config change points at. It returns nil
// when the path is unchanged, and the stock schema when the path was
// cleared.
func (s *Server) reloadSurvey(path string) (*survey.Survey, error) {
	current := s.config().GetSurveyPath()
	if path == current {
		return nil, nil
	}
	if path == "" {
		form, err := survey.DefaultSurvey()
		if err != nil {
			return nil, fmt.Errorf("failed to load stock survey: %w", err)
		}
		return form, nil
	}

	data, err := s.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("survey file %s: %w", path, err)
	}
	form, err := survey.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("survey file %s: %w", path, err)
	}
	return form, nil
}

// handleSetupExport serves the current event setup as a downloadable YAML
// bundle.
func (s *Server) handleSetupExport(w http.ResponseWriter, r *http.Request) {
	cfg := s.config()
	now := s.clock.Now()
	bundle := SetupBundle{
		SetupVersion: setupVersion,
		Created:      now.Format(time.RFC3339),
		Event: SetupEvent{
			Name:   cfg.GetEventName(),
			Season: cfg.GetEventSeason(),
		},
		SurveyJSON: s.schema().Raw(),
		Analysis:   cfg.Analysis,
	}

	data, err := yaml.Marshal(bundle)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to build setup bundle: %v", err))
		return
	}

	filename := fmt.Sprintf("setup_%s_%s.yaml",
		security.SanitizeFilename(cfg.GetEventName()),
		now.Format("2006-01-02_15-04-05"))
	w.Header().Set("Content-Type", "application/x-yaml")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	_, _ = w.Write(data)
}

// handleSetupImport applies a setup bundle: the survey schema is validated
// and written to the survey path, and the event and analysis settings
// replace the current ones. Nothing is swapped in until every step has
// succeeded.
func (s *Server) handleSetupImport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSetupBytes+1))
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("failed to read request body: %v", err))
		return
	}
	if len(body) > maxSetupBytes {
		httputil.WriteJSONError(w, http.StatusRequestEntityTooLarge, "setup bundle too large")
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		httputil.BadRequest(w, "empty setup bundle")
		return
	}

	var bundle SetupBundle
	if err := yaml.Unmarshal(body, &bundle); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid setup bundle: %v", err))
		return
	}
	if bundle.SetupVersion != setupVersion {
		httputil.BadRequest(w, fmt.Sprintf("unsupported setup_version %d, want %d", bundle.SetupVersion, setupVersion))
		return
	}
	eventName := strings.TrimSpace(bundle.Event.Name)
	if eventName == "" {
		httputil.BadRequest(w, "setup bundle is missing the event name")
		return
	}
	if len(bundle.SurveyJSON) == 0 {
		httputil.BadRequest(w, "setup bundle is missing survey_json")
		return
	}

	surveyData, err := json.Marshal(bundle.SurveyJSON)
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid survey_json: %v", err))
		return
	}
	form, err := survey.Parse(surveyData)
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid survey_json: %v", err))
		return
	}

	if s.surveyPath != "" {
		// Write the schema with system fields already ensured, so the file
		// on disk matches what the server serves.
		data, err := json.MarshalIndent(form.Raw(), "", "  ")
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to encode survey: %v", err))
			return
		}
		if err := s.fs.WriteFile(s.surveyPath, data, 0o644); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to save survey: %v", err))
			return
		}
	}

	next := s.bundleConfig(bundle, eventName)
	if err := next.Validate(); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if s.configPath != "" {
		data, err := next.YAML()
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to encode config: %v", err))
			return
		}
		if err := s.fs.WriteFile(s.configPath, data, 0o644); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to save config: %v", err))
			return
		}
	}

	s.mu.Lock()
	s.cfg = next
	s.form = form
	s.mu.Unlock()

	httputil.WriteJSONOK(w, map[string]any{
		"success": true,
		"event":   eventName,
		"fields":  len(form.FieldNames()),
	})
}

// bundleConfig builds the settings document a bundle import results in.
// Device identity and update settings are per-device and survive the
// import; everything event-scoped comes from the bundle.
func (s *Server) bundleConfig(bundle SetupBundle, eventName string) *config.Config {
	current := s.config()
	next := &config.Config{
		Device:  current.Device,
		Updates: current.Updates,
		Event:   &config.EventConfig{Name: &eventName},
	}
	if season := strings.TrimSpace(bundle.Event.Season); season != "" {
		next.Event.Season = &season
	}
	if bundle.Analysis != nil {
		next.Analysis = bundle.Analysis
	} else {
		next.Analysis = current.Analysis
	}
	if s.surveyPath != "" {
		path := s.surveyPath
		next.Survey = &config.SurveyConfig{Path: &path}
	} else {
		next.Survey = current.Survey
	}
	return next
}
