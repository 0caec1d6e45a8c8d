package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/fieldline-data/scout.report/internal/analysis"
	"github.com/fieldline-data/scout.report/internal/chartdata"
	"github.com/fieldline-data/scout.report/internal/csvio"
	"github.com/fieldline-data/scout.report/internal/httputil"
	"github.com/fieldline-data/scout.report/internal/monitoring"
	"github.com/fieldline-data/scout.report/internal/scoutdb"
	"github.com/fieldline-data/scout.report/internal/uploads"
)

// analyzeRequest names the stored uploads to merge with this device's own
// records. An empty list analyzes local data alone.
type analyzeRequest struct {
	Uploads []string `json:"uploads"`
}

// handleAnalyze merges the local snapshot with the named uploads, runs the
// analysis pipeline, and returns the full report. Devices seen in the merge
// are folded into the registry.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
			return
		}
	}

	merged, status, err := s.mergeSources(req.Uploads)
	if err != nil {
		httputil.WriteJSONError(w, status, err.Error())
		return
	}

	cfg := s.config()
	form := s.schema()
	report := analysis.Analyze(merged, analysis.Options{
		Schema:          form.ChartSchema(),
		Fields:          s.statFields(),
		ExpectedDevices: cfg.GetExpectedDevices(),
	})

	s.registerMergedDevices(merged.Records, req.Uploads)

	httputil.WriteJSONOK(w, report)
}

// mergeSources loads the local snapshot plus each named upload and merges
// them. The returned status is the HTTP code to use when err is non-nil.
func (s *Server) mergeSources(uploadIDs []string) (analysis.MergeResult, int, error) {
	local, err := s.db.Snapshot()
	if err != nil {
		return analysis.MergeResult{}, http.StatusInternalServerError,
			fmt.Errorf("failed to read local records: %w", err)
	}

	if len(uploadIDs) > 0 && s.uploads == nil {
		return analysis.MergeResult{}, http.StatusInternalServerError,
			fmt.Errorf("no upload store configured")
	}

	fields := s.schema().FieldNames()
	sources := []analysis.Source{{Name: "local", Records: local}}

	for _, id := range uploadIDs {
		name, data, err := s.uploads.Read(id)
		if err != nil {
			if errors.Is(err, uploads.ErrNotFound) || errors.Is(err, uploads.ErrInvalidName) {
				return analysis.MergeResult{}, http.StatusNotFound,
					fmt.Errorf("upload not found: %s", id)
			}
			return analysis.MergeResult{}, http.StatusInternalServerError,
				fmt.Errorf("failed to read upload %s: %w", id, err)
		}

		res, err := csvio.Import(bytes.NewReader(data), fields)
		if err != nil {
			return analysis.MergeResult{}, http.StatusBadRequest,
				fmt.Errorf("error reading %s: %w", name, err)
		}
		sources = append(sources, analysis.SourceFromImport(name, res))
	}

	return analysis.Merge(sources...), 0, nil
}

// statFields returns the fields the report and charts aggregate: the
// configured graphs, restricted to fields the survey still has.
func (s *Server) statFields() []string {
	graphs := s.config().SanitizedGraphs(s.schema().FieldNames())
	fields := make([]string, 0, len(graphs))
	for _, g := range graphs {
		fields = append(fields, g.Field)
	}
	return fields
}

// registerMergedDevices folds every device seen in a merge into the
// registry, so the device panel reflects who has synced. Rows missing a
// device_id are skipped; they cannot be told apart across merges.
func (s *Server) registerMergedDevices(records []chartdata.Record, uploadIDs []string) {
	source := "local"
	if len(uploadIDs) > 0 {
		source = "merge"
	}
	now := s.clock.Now().Format(time.RFC3339)

	counts := make(map[string]int)
	names := make(map[string]string)
	for _, rec := range records {
		id := scoutdb.FieldString(rec["device_id"])
		if id == "" {
			continue
		}
		counts[id]++
		if name := scoutdb.FieldString(rec["device_name"]); name != "" {
			names[id] = name
		}
	}

	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		err := s.db.UpsertDevice(scoutdb.DeviceStatus{
			DeviceID:   id,
			Name:       names[id],
			LastSeen:   now,
			EntryCount: counts[id],
			LastSource: source,
		})
		if err != nil {
			monitoring.Logf("api: failed to register device %s: %v", id, err)
		}
	}
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.db.ListDevices()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list devices: %v", err))
		return
	}
	if devices == nil {
		devices = []scoutdb.DeviceStatus{}
	}
	httputil.WriteJSONOK(w, map[string]any{
		"devices":  devices,
		"expected": s.config().GetExpectedDevices(),
	})
}

// handleReset backs the database up and then clears all local scouting data.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	backupPath, err := s.db.Reset(s.backupDir)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to reset data: %v", err))
		return
	}
	monitoring.Logf("api: local data reset, backup at %s", backupPath)
	httputil.WriteJSONOK(w, map[string]any{
		"success": true,
		"backup":  backupPath,
	})
}
