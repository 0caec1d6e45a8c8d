package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fieldline-data/scout.report/internal/httputil"
	"github.com/fieldline-data/scout.report/internal/uploads"
)

// handleSaveUploads accepts one or more CSV exports from other devices as
// multipart form files under "csv_files". A single bad file rejects the whole
// batch so a retry can resend everything.
func (s *Server) handleSaveUploads(w http.ResponseWriter, r *http.Request) {
	if s.uploads == nil {
		httputil.InternalServerError(w, "no upload store configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid multipart form: %v", err))
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	files := r.MultipartForm.File["csv_files"]
	if len(files) == 0 {
		httputil.BadRequest(w, "please choose at least one CSV file")
		return
	}

	var saved []uploads.Stored
	for _, header := range files {
		name := filepath.Base(header.Filename)
		if !strings.HasSuffix(strings.ToLower(name), ".csv") {
			s.discardUploads(saved)
			httputil.BadRequest(w, fmt.Sprintf("%s: only .csv uploads are supported", name))
			return
		}

		file, err := header.Open()
		if err != nil {
			s.discardUploads(saved)
			httputil.BadRequest(w, fmt.Sprintf("error reading %s: %v", name, err))
			return
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			s.discardUploads(saved)
			httputil.BadRequest(w, fmt.Sprintf("error reading %s: %v", name, err))
			return
		}

		stored, err := s.uploads.Save(name, data)
		if err != nil {
			s.discardUploads(saved)
			if errors.Is(err, uploads.ErrInvalidName) {
				httputil.BadRequest(w, err.Error())
				return
			}
			httputil.InternalServerError(w, fmt.Sprintf("failed to store %s: %v", name, err))
			return
		}
		saved = append(saved, stored)
	}

	httputil.WriteJSON(w, http.StatusCreated, map[string]any{"uploads": saved})
}

// discardUploads removes files already stored by a batch that later failed.
func (s *Server) discardUploads(saved []uploads.Stored) {
	for _, stored := range saved {
		_ = s.uploads.Delete(stored.ID)
	}
}

func (s *Server) handleListUploads(w http.ResponseWriter, r *http.Request) {
	if s.uploads == nil {
		httputil.InternalServerError(w, "no upload store configured")
		return
	}

	stored, err := s.uploads.List()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list uploads: %v", err))
		return
	}
	if stored == nil {
		stored = []uploads.Stored{}
	}
	httputil.WriteJSONOK(w, map[string]any{"uploads": stored})
}

func (s *Server) handleDeleteUpload(w http.ResponseWriter, r *http.Request) {
	if s.uploads == nil {
		httputil.InternalServerError(w, "no upload store configured")
		return
	}

	id := chi.URLParam(r, "id")
	err := s.uploads.Delete(id)
	switch {
	case errors.Is(err, uploads.ErrInvalidName):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, uploads.ErrNotFound):
		httputil.NotFound(w, fmt.Sprintf("upload not found: %s", id))
	case err != nil:
		httputil.InternalServerError(w, fmt.Sprintf("failed to delete upload: %v", err))
	default:
		httputil.WriteJSONOK(w, map[string]any{"success": true})
	}
}
