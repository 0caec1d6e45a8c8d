package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/fieldline-data/scout.report/internal/config"
)

type configResponse struct {
	Config    config.Config  `json:"config"`
	Effective map[string]any `json:"effective"`
}

func TestGetConfigDefaults(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.get(t, "/api/config")
	require.Equal(t, http.StatusOK, rr.Code)

	var got configResponse
	decodeJSON(t, rr, &got)
	eff := got.Effective
	assert.Equal(t, "Scouting Device", eff["device_name"])
	assert.Equal(t, "Practice Event", eff["event_name"])
	assert.Equal(t, "offseason", eff["event_season"])
	assert.Equal(t, "practice_event_offseason", eff["config_id"])
	assert.Equal(t, float64(8), eff["expected_devices"])
	assert.Equal(t, float64(25), eff["matches_per_page"])
	assert.Equal(t, true, eff["updates_enabled"])
	assert.Equal(t, "fieldline-data/scout.report", eff["updates_repo"])
	assert.Equal(t, "1h0m0s", eff["check_interval"])
}

func TestPutConfig(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.putJSON(t, "/api/config", `{"event": {"name": "Azalea Regional", "season": "2026"}}`)
	require.Equal(t, http.StatusOK, rr.Code, "body: %s", rr.Body.String())
	var got struct {
		Success  bool   `json:"success"`
		ConfigID string `json:"config_id"`
	}
	decodeJSON(t, rr, &got)
	assert.True(t, got.Success)
	assert.Equal(t, "azalea_regional_2026", got.ConfigID)

	// The document is persisted, and new entries carry the new event.
	data, err := ts.fs.ReadFile(ts.Server.configPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Azalea Regional")

	ts.addRecord(t, "33", "1", 10, 5)
	rr = ts.get(t, "/api/records")
	var page recordsPage
	decodeJSON(t, rr, &page)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "Azalea Regional", page.Records[0].EventName)
	assert.Equal(t, "azalea_regional_2026", page.Records[0].ConfigID)
}

func TestPutConfigRejectsInvalid(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.putJSON(t, "/api/config", `{"analysis": {"expected_devices": -1}}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "expected_devices must be non-negative")

	rr = ts.putJSON(t, "/api/config", `not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// The stored settings are untouched after a rejected update.
	rr = ts.get(t, "/api/config")
	var got configResponse
	decodeJSON(t, rr, &got)
	assert.Equal(t, float64(8), got.Effective["expected_devices"])
}

func TestPutConfigRejectsBadSurveyPath(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.putJSON(t, "/api/config", `{"survey": {"path": "missing.json"}}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "survey file missing.json")
}

func TestPutConfigReloadsSurvey(t *testing.T) {
	ts := newTestServer(t)

	custom := `{
		"pages": [{"elements": [
			{"type": "text", "name": "team", "title": "Team Number", "isRequired": true},
			{"type": "text", "name": "auto_score", "title": "Auto Score"},
			{"type": "text", "name": "teleop_score", "title": "Teleop Score"},
			{"type": "dropdown", "name": "robot_class", "title": "Robot Class", "isRequired": true,
			 "choices": ["light", "heavy"]}
		]}]
	}`
	require.NoError(t, ts.fs.WriteFile("custom_survey.json", []byte(custom), 0o644))

	rr := ts.putJSON(t, "/api/config", `{"survey": {"path": "custom_survey.json"}}`)
	require.Equal(t, http.StatusOK, rr.Code, "body: %s", rr.Body.String())

	// The new schema's required fields now gate record creation.
	rr = ts.postJSON(t, "/api/records", `{"fields": {"team": "33", "auto_score": 1, "teleop_score": 2}}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "Robot Class")

	rr = ts.postJSON(t, "/api/records",
		`{"fields": {"team": "33", "auto_score": 1, "teleop_score": 2, "robot_class": "light"}}`)
	assert.Equal(t, http.StatusCreated, rr.Code, "body: %s", rr.Body.String())
}

func TestSetupExport(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.get(t, "/api/setup/export")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "yaml")
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "setup_Practice_Event_2026-03-14_09-00-00.yaml")

	var bundle SetupBundle
	require.NoError(t, yaml.Unmarshal(rr.Body.Bytes(), &bundle))
	assert.Equal(t, 1, bundle.SetupVersion)
	assert.Equal(t, testStart.Format(time.RFC3339), bundle.Created)
	assert.Equal(t, "Practice Event", bundle.Event.Name)
	assert.Equal(t, "offseason", bundle.Event.Season)
	assert.Contains(t, bundle.SurveyJSON, "pages")
}

const importBundle = `setup_version: 1
event:
  name: Azalea Regional
  season: "2026"
survey_json:
  title: Azalea Survey
  pages:
    - elements:
        - type: text
          name: team
          title: Team Number
          isRequired: true
        - type: text
          name: auto_score
          title: Auto Score
        - type: text
          name: teleop_score
          title: Teleop Score
        - type: rating
          name: defense_rating
          title: Defense Rating
analysis:
  expected_devices: 4
`

func TestSetupImport(t *testing.T) {
	ts := newTestServer(t)

	// Device identity is per-device and must survive the import.
	rr := ts.putJSON(t, "/api/config", `{"device": {"name": "Lead Tablet"}}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = ts.postJSON(t, "/api/setup/import", importBundle)
	require.Equal(t, http.StatusOK, rr.Code, "body: %s", rr.Body.String())
	var got struct {
		Success bool   `json:"success"`
		Event   string `json:"event"`
		Fields  int    `json:"fields"`
	}
	decodeJSON(t, rr, &got)
	assert.True(t, got.Success)
	assert.Equal(t, "Azalea Regional", got.Event)
	assert.Equal(t, 4, got.Fields)

	rr = ts.get(t, "/api/config")
	var cfg configResponse
	decodeJSON(t, rr, &cfg)
	eff := cfg.Effective
	assert.Equal(t, "Azalea Regional", eff["event_name"])
	assert.Equal(t, "2026", eff["event_season"])
	assert.Equal(t, float64(4), eff["expected_devices"])
	assert.Equal(t, "Lead Tablet", eff["device_name"])
	assert.Equal(t, ts.Server.surveyPath, eff["survey_path"])

	// The schema landed on disk with the system fields ensured.
	data, err := ts.fs.ReadFile(ts.Server.surveyPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "defense_rating")

	// And it is live: the survey now drives chart fields.
	rr = ts.postJSON(t, "/api/records", `{"fields": {"team": "33", "auto_score": 1, "teleop_score": 2}}`)
	assert.Equal(t, http.StatusCreated, rr.Code, "body: %s", rr.Body.String())
}

func TestSetupImportRejections(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name string
		body string
		want string
	}{
		{"empty", "   ", "empty setup bundle"},
		{"malformed", "{bad: [unclosed", "invalid setup bundle"},
		{"wrong version", "setup_version: 2\nevent:\n  name: X\nsurvey_json:\n  pages: []\n", "unsupported setup_version 2"},
		{"no event", "setup_version: 1\nsurvey_json:\n  pages: []\n", "missing the event name"},
		{"no survey", "setup_version: 1\nevent:\n  name: X\n", "missing survey_json"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := ts.postJSON(t, "/api/setup/import", tc.body)
			require.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Contains(t, rr.Body.String(), tc.want)
		})
	}

	// A rejected import leaves the current settings alone.
	rr := ts.get(t, "/api/config")
	var got configResponse
	decodeJSON(t, rr, &got)
	assert.Equal(t, "Practice Event", got.Effective["event_name"])
}
