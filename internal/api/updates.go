package api

import (
	"net/http"

	"github.com/fieldline-data/scout.report/internal/httputil"
	"github.com/fieldline-data/scout.report/internal/updates"
)

// handleUpdatesStatus returns the update lifecycle snapshot the settings
// page polls.
func (s *Server) handleUpdatesStatus(w http.ResponseWriter, r *http.Request) {
	if s.updates == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "updates are not configured")
		return
	}
	httputil.WriteJSONOK(w, s.updates.Status())
}

// handleUpdatesCheck queries the release feed now, ignoring the cooldown.
func (s *Server) handleUpdatesCheck(w http.ResponseWriter, r *http.Request) {
	if s.updates == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "updates are not configured")
		return
	}
	st, err := s.updates.Check(r.Context(), true)
	if err != nil {
		httputil.WriteJSONError(w, updatesErrorCode(st, err, http.StatusBadGateway, http.StatusBadRequest), err.Error())
		return
	}
	httputil.WriteJSONOK(w, st)
}

// handleUpdatesDownload stages the available release.
func (s *Server) handleUpdatesDownload(w http.ResponseWriter, r *http.Request) {
	if s.updates == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "updates are not configured")
		return
	}
	st, err := s.updates.Download(r.Context())
	if err != nil {
		httputil.WriteJSONError(w, updatesErrorCode(st, err, http.StatusBadGateway, http.StatusConflict), err.Error())
		return
	}
	httputil.WriteJSONOK(w, st)
}

// handleUpdatesApply swaps in the downloaded binary. The new build runs
// after the next restart.
func (s *Server) handleUpdatesApply(w http.ResponseWriter, r *http.Request) {
	if s.updates == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "updates are not configured")
		return
	}
	st, err := s.updates.Apply(r.Context())
	if err != nil {
		httputil.WriteJSONError(w, updatesErrorCode(st, err, http.StatusInternalServerError, http.StatusConflict), err.Error())
		return
	}
	httputil.WriteJSONOK(w, st)
}

// updatesErrorCode separates failures of the operation itself, which the
// manager records in the status, from refusals where the lifecycle was not
// in the right state to start.
func updatesErrorCode(st updates.Status, err error, failureCode, refusalCode int) int {
	if st.State == updates.StateError && st.Error == err.Error() {
		return failureCode
	}
	return refusalCode
}
