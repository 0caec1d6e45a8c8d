package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fieldline-data/scout.report/internal/config"
	"github.com/fieldline-data/scout.report/internal/csvio"
	"github.com/fieldline-data/scout.report/internal/httputil"
	"github.com/fieldline-data/scout.report/internal/monitoring"
	"github.com/fieldline-data/scout.report/internal/scoutdb"
	"github.com/fieldline-data/scout.report/internal/security"
	"github.com/fieldline-data/scout.report/internal/survey"
)

// scoutNameAliases are fields exempt from the survey's isRequired flag, so a
// missing scout name never blocks a submission.
var scoutNameAliases = map[string]bool{
	"scout_name":   true,
	"scout":        true,
	"scouter_name": true,
}

// handleListRecords returns one page of stored records, newest first.
// Query params: page (1-based), page_size (clamped to 5..500).
func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	page := parseIntParam(r, "page", 1)
	if page < 1 {
		page = 1
	}
	size := parseIntParam(r, "page_size", s.config().GetMatchesPerPage())
	size = config.ClampPageSize(size)

	records, err := s.db.ListRecords(size, (page-1)*size)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list records: %v", err))
		return
	}
	total, err := s.db.CountRecords()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to count records: %v", err))
		return
	}
	if records == nil {
		records = []scoutdb.StoredRecord{}
	}

	httputil.WriteJSONOK(w, map[string]any{
		"records":   records,
		"total":     total,
		"page":      page,
		"page_size": size,
	})
}

// createRecordRequest is the POST /api/records body: the survey answers,
// keyed by field name.
type createRecordRequest struct {
	Fields map[string]any `json:"fields"`
}

// handleCreateRecord stores one scouting entry. The server stamps the
// metadata columns; the client only sends the answers.
func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	var req createRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(req.Fields) == 0 {
		httputil.BadRequest(w, "fields object is required")
		return
	}

	if missing := s.missingRequired(req.Fields); len(missing) > 0 {
		httputil.BadRequest(w, "missing required fields: "+strings.Join(missing, ", "))
		return
	}

	cfg := s.config()
	now := s.clock.Now()
	rec := &scoutdb.StoredRecord{
		Timestamp:   now.Format(time.RFC3339),
		EventName:   cfg.GetEventName(),
		EventSeason: cfg.GetEventSeason(),
		ConfigID:    cfg.ConfigID(),
		DeviceID:    s.identity.ID,
		DeviceName:  cfg.GetDeviceName(),
		Fields:      req.Fields,
	}
	if err := s.db.InsertRecord(rec); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to save entry: %v", err))
		return
	}

	s.registerSelf(now)

	total, err := s.db.CountRecords()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to count records: %v", err))
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"id":      rec.ID,
		"total":   total,
	})
}

// missingRequired returns display titles for unanswered required fields: the
// base trio plus any survey element flagged isRequired. Empty strings and
// empty JSON containers count as unanswered.
func (s *Server) missingRequired(fields map[string]any) []string {
	form := s.schema()
	titles := form.FieldTitles()

	var missing []string
	seen := make(map[string]bool)
	add := func(name string) {
		title := titles[name]
		if title == "" {
			title = name
		}
		if !seen[title] {
			seen[title] = true
			missing = append(missing, title)
		}
	}

	for _, name := range survey.RequiredFields {
		if isMissingValue(fields[name]) {
			add(name)
		}
	}
	for _, e := range form.Elements() {
		name := e.Name()
		if name == "" || scoutNameAliases[strings.ToLower(name)] {
			continue
		}
		if req, ok := e["isRequired"].(bool); !ok || !req {
			continue
		}
		if isMissingValue(fields[name]) {
			add(name)
		}
	}
	return missing
}

// isMissingValue reports whether a submitted answer should be treated as
// absent.
func isMissingValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		trimmed := strings.TrimSpace(val)
		return trimmed == "" || trimmed == "[]" || trimmed == "{}"
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}
	return false
}

// registerSelf refreshes this device's row in the registry after a local
// write.
func (s *Server) registerSelf(now time.Time) {
	count, err := s.db.CountRecordsForDevice(s.identity.ID)
	if err != nil {
		count = 0
	}
	err = s.db.UpsertDevice(scoutdb.DeviceStatus{
		DeviceID:   s.identity.ID,
		Name:       s.config().GetDeviceName(),
		LastSeen:   now.Format(time.RFC3339),
		EntryCount: count,
		LastSource: "local",
	})
	if err != nil {
		monitoring.Logf("api: failed to register device: %v", err)
	}
}

// handleCountRecords reports how many entries this device holds and when the
// newest one was recorded.
func (s *Server) handleCountRecords(w http.ResponseWriter, r *http.Request) {
	total, err := s.db.CountRecords()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to count records: %v", err))
		return
	}

	var last string
	if total > 0 {
		newest, err := s.db.ListRecords(1, 0)
		if err == nil && len(newest) > 0 {
			last = newest[0].Timestamp
		}
	}

	httputil.WriteJSONOK(w, map[string]any{
		"count":          total,
		"last_timestamp": last,
	})
}

// handleExportCSV streams every local record as the interchange CSV, named
// after the event so merged files stay attributable.
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	records, err := s.db.Snapshot()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to read records: %v", err))
		return
	}
	if len(records) == 0 {
		httputil.NotFound(w, "no scouting data recorded yet")
		return
	}

	cfg := s.config()
	var buf bytes.Buffer
	if err := csvio.Export(&buf, s.schema().FieldNames(), records); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to export CSV: %v", err))
		return
	}

	filename := fmt.Sprintf("scouting_%s_%s.csv",
		security.SanitizeFilename(cfg.ConfigID()),
		s.clock.Now().Format("2006-01-02_15-04-05"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	_, _ = w.Write(buf.Bytes())
}
