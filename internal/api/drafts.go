package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fieldline-data/scout.report/internal/httputil"
)

// saveDraftRequest is the POST /api/draft body. The payload is the client's
// in-progress answers, stored opaquely and returned as-is.
type saveDraftRequest struct {
	Payload json.RawMessage `json:"payload"`
}

// handleSaveDraft stores the in-progress entry so a tablet crash mid-match
// loses nothing. One draft per device; saving replaces it.
func (s *Server) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	var req saveDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(req.Payload) == 0 || string(req.Payload) == "null" {
		httputil.BadRequest(w, "payload is required")
		return
	}

	savedAt := s.clock.Now().Format(time.RFC3339)
	if err := s.db.SaveDraft(s.identity.ID, string(req.Payload), savedAt); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to save draft: %v", err))
		return
	}
	httputil.WriteJSONOK(w, map[string]any{
		"success":  true,
		"saved_at": savedAt,
	})
}

// handleGetDraft returns this device's stored draft, 404 when none exists.
func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	payload, savedAt, err := s.db.LoadDraft(s.identity.ID)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load draft: %v", err))
		return
	}
	if payload == "" {
		httputil.NotFound(w, "no draft saved")
		return
	}
	httputil.WriteJSONOK(w, map[string]any{
		"payload":  json.RawMessage(payload),
		"saved_at": savedAt,
	})
}

// handleClearDraft removes the stored draft. Clearing when none exists still
// succeeds.
func (s *Server) handleClearDraft(w http.ResponseWriter, r *http.Request) {
	if err := s.db.ClearDraft(s.identity.ID); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to clear draft: %v", err))
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"success": true})
}
