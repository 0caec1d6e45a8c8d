package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/fieldline-data/scout.report/internal/analysis"
	"github.com/fieldline-data/scout.report/internal/chartdata"
	"github.com/fieldline-data/scout.report/internal/httputil"
	"github.com/fieldline-data/scout.report/internal/monitoring"
	"github.com/fieldline-data/scout.report/internal/render"
	"github.com/fieldline-data/scout.report/internal/scoutdb"
)

// handleCharts serves GET /charts: one interactive page of charts for a
// single team, drawn from the local store merged with any uploads named in
// the "uploads" query parameter.
func (s *Server) handleCharts(w http.ResponseWriter, r *http.Request) {
	team := strings.TrimSpace(r.URL.Query().Get("team"))
	if team == "" {
		http.Error(w, "missing team parameter", http.StatusBadRequest)
		return
	}

	view, status, err := s.teamView(team, splitUploadIDs(r.URL.Query().Get("uploads")))
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}

	// Render into a buffer first so a failed render never leaves a
	// half-written page behind a 200.
	var buf bytes.Buffer
	if err := s.chartPage(&buf).Render(view); err != nil {
		monitoring.Logf("api: chart page render failed: %v", err)
		http.Error(w, "failed to render charts", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

type reportRequest struct {
	Team    string   `json:"team"`
	Uploads []string `json:"uploads"`
}

// handleReport serves POST /api/report: the same view as /charts rendered
// to image files for printing. The response lists the written paths.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "report rendering is not configured")
		return
	}

	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	req.Team = strings.TrimSpace(req.Team)
	if req.Team == "" {
		httputil.BadRequest(w, "team is required")
		return
	}

	view, status, err := s.teamView(req.Team, req.Uploads)
	if err != nil {
		httputil.WriteJSONError(w, status, err.Error())
		return
	}

	files, err := s.reports.RenderReport(view)
	if err != nil {
		monitoring.Logf("api: report render failed: %v", err)
		httputil.InternalServerError(w, fmt.Sprintf("failed to render report: %v", err))
		return
	}
	httputil.WriteJSONOK(w, map[string]any{
		"success": true,
		"team":    req.Team,
		"files":   files,
	})
}

// teamView assembles everything the chart page shows for one team. The
// trend and distribution charts use only the team's own rows; the radar
// overview scores the team against the full merged record set.
func (s *Server) teamView(team string, uploadIDs []string) (render.View, int, error) {
	merged, status, err := s.mergeSources(uploadIDs)
	if err != nil {
		return render.View{}, status, err
	}

	teamRecords := recordsForTeam(team, merged.Records)
	if len(teamRecords) == 0 {
		return render.View{}, http.StatusNotFound, fmt.Errorf("no data found for team %s", team)
	}

	cfg := s.config()
	form := s.schema()
	chartSchema := form.ChartSchema()

	graphs := cfg.SanitizedGraphs(form.FieldNames())
	fieldConfigs := make([]chartdata.FieldConfig, len(graphs))
	fields := make([]string, len(graphs))
	labels := make([]string, len(graphs))
	for i, g := range graphs {
		fieldConfigs[i] = chartdata.FieldConfig{
			Field: g.Field,
			Label: g.Label,
			Kind:  g.ChartType,
			Color: g.Color,
		}
		fields[i] = g.Field
		labels[i] = g.Label
		if labels[i] == "" {
			labels[i] = chartdata.TitleForField(g.Field)
		}
	}

	scores := analysis.RadarScores(chartSchema, fields, team, merged.Records)
	radar, note := chartdata.BuildRadarOverview(chartdata.RadarInput{
		Metrics: labels,
		Fields:  fields,
		Scores:  scores,
	})

	matches := "matches"
	if len(teamRecords) == 1 {
		matches = "match"
	}
	view := render.View{
		Title:      "Team " + team,
		Subtitle:   fmt.Sprintf("%s %s, %d %s scouted", cfg.GetEventName(), cfg.GetEventSeason(), len(teamRecords), matches),
		Notes:      merged.Warnings,
		Directives: chartdata.BuildDirectives(chartSchema, fieldConfigs, teamRecords),
		RadarTitle: "Team " + team + " overview",
	}
	if note == "" {
		view.Radar = &radar
	} else {
		view.RadarNote = note
	}
	return view, http.StatusOK, nil
}

// recordsForTeam filters merged rows down to one team, preserving match
// order. Rows name their team under either header spelling.
func recordsForTeam(team string, records []chartdata.Record) []chartdata.Record {
	var out []chartdata.Record
	for _, rec := range records {
		t := scoutdb.FieldString(rec["team"])
		if t == "" {
			t = scoutdb.FieldString(rec["team_number"])
		}
		if t == team {
			out = append(out, rec)
		}
	}
	return out
}

func splitUploadIDs(raw string) []string {
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
