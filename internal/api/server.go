// Package api is the HTTP surface of the scouting server: the JSON API the
// form and analyze pages talk to, the server-rendered chart pages, and the
// embedded index page. Handlers stay thin; storage, merging, derivation and
// rendering live in their own packages.
package api

import (
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/fieldline-data/scout.report/internal/config"
	"github.com/fieldline-data/scout.report/internal/device"
	"github.com/fieldline-data/scout.report/internal/fsutil"
	"github.com/fieldline-data/scout.report/internal/httputil"
	"github.com/fieldline-data/scout.report/internal/monitoring"
	"github.com/fieldline-data/scout.report/internal/render"
	"github.com/fieldline-data/scout.report/internal/scoutdb"
	"github.com/fieldline-data/scout.report/internal/survey"
	"github.com/fieldline-data/scout.report/internal/timeutil"
	"github.com/fieldline-data/scout.report/internal/updates"
	"github.com/fieldline-data/scout.report/internal/uploads"
	"github.com/fieldline-data/scout.report/internal/version"
)

// ANSI escape codes for the access log
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// maxUploadBytes bounds multipart CSV uploads and setup imports.
const maxUploadBytes = 10 << 20

// reportRenderer renders a view to chart files and returns their paths.
// render.PNGRenderer is the production implementation.
type reportRenderer interface {
	RenderReport(view render.View) ([]string, error)
}

// Options wires the server's collaborators. DB, Config, Survey and Identity
// are required; the rest default to production implementations.
type Options struct {
	DB       *scoutdb.DB
	Config   *config.Config
	Survey   *survey.Survey
	Identity device.Identity

	// ConfigPath is where settings changes are persisted. Empty keeps
	// changes in memory only.
	ConfigPath string
	// SurveyPath is where imported survey schemas are written.
	SurveyPath string
	// BackupDir receives database backups taken before destructive
	// operations.
	BackupDir string
	// AssetsDir is the on-disk directory serving the chart page's script
	// bundle, so rendered pages work without internet access.
	AssetsDir string

	Uploads *uploads.Store
	Updates *updates.Manager

	FS    fsutil.FileSystem
	Clock timeutil.Clock

	// Templates overrides the embedded page templates in tests.
	Templates TemplateProvider
	// ChartPage builds the renderer for the /charts response body. Defaults
	// to the go-echarts HTML renderer.
	ChartPage func(w io.Writer) render.Renderer
	// Reports renders printable chart files for POST /api/report.
	Reports reportRenderer
}

// Server handles the scouting HTTP interface.
type Server struct {
	db       *scoutdb.DB
	identity device.Identity
	uploads  *uploads.Store
	updates  *updates.Manager
	fs       fsutil.FileSystem
	clock    timeutil.Clock

	configPath string
	surveyPath string
	backupDir  string
	assetsDir  string

	templates TemplateProvider
	chartPage func(w io.Writer) render.Renderer
	reports   reportRenderer

	router chi.Router

	// mu guards cfg and form, which settings and setup imports replace at
	// runtime.
	mu   sync.RWMutex
	cfg  *config.Config
	form *survey.Survey
}

// NewServer builds the server and its route table.
func NewServer(opts Options) (*Server, error) {
	s := &Server{
		db:         opts.DB,
		identity:   opts.Identity,
		uploads:    opts.Uploads,
		updates:    opts.Updates,
		fs:         opts.FS,
		clock:      opts.Clock,
		configPath: opts.ConfigPath,
		surveyPath: opts.SurveyPath,
		backupDir:  opts.BackupDir,
		assetsDir:  opts.AssetsDir,
		templates:  opts.Templates,
		chartPage:  opts.ChartPage,
		reports:    opts.Reports,
		cfg:        opts.Config,
		form:       opts.Survey,
	}
	if s.cfg == nil {
		s.cfg = config.Default()
	}
	if s.form == nil {
		form, err := survey.DefaultSurvey()
		if err != nil {
			return nil, err
		}
		s.form = form
	}
	if s.fs == nil {
		s.fs = fsutil.OSFileSystem{}
	}
	if s.clock == nil {
		s.clock = timeutil.RealClock{}
	}
	if s.templates == nil {
		s.templates = NewEmbeddedTemplateProvider(pagesFS, "pages")
	}
	if s.chartPage == nil {
		s.chartPage = func(w io.Writer) render.Renderer {
			return render.NewEChartsRenderer(w)
		}
	}

	router, err := s.routes()
	if err != nil {
		return nil, err
	}
	s.router = router
	return s, nil
}

// ServeHTTP dispatches to the route table.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() (chi.Router, error) {
	r := chi.NewRouter()

	r.Use(LoggingMiddleware)
	r.Use(SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/", s.handleIndex)
	r.Get("/charts", s.handleCharts)

	r.Route("/api", func(r chi.Router) {
		r.Get("/version", s.handleVersion)

		r.Get("/records", s.handleListRecords)
		r.Post("/records", s.handleCreateRecord)
		r.Get("/records/count", s.handleCountRecords)
		r.Get("/export.csv", s.handleExportCSV)

		r.Get("/uploads", s.handleListUploads)
		r.Post("/uploads", s.handleSaveUploads)
		r.Delete("/uploads/{id}", s.handleDeleteUpload)

		r.Post("/analyze", s.handleAnalyze)
		r.Post("/report", s.handleReport)

		r.Get("/config", s.handleGetConfig)
		r.Put("/config", s.handlePutConfig)
		r.Get("/setup/export", s.handleSetupExport)
		r.Post("/setup/import", s.handleSetupImport)

		r.Get("/devices", s.handleListDevices)
		r.Post("/reset", s.handleReset)

		r.Get("/draft", s.handleGetDraft)
		r.Post("/draft", s.handleSaveDraft)
		r.Delete("/draft", s.handleClearDraft)

		r.Get("/updates/status", s.handleUpdatesStatus)
		r.Post("/updates/check", s.handleUpdatesCheck)
		r.Post("/updates/download", s.handleUpdatesDownload)
		r.Post("/updates/apply", s.handleUpdatesApply)
	})

	if s.assetsDir != "" {
		assets := http.StripPrefix(render.EChartsAssetsPrefix, http.FileServer(http.Dir(s.assetsDir)))
		r.Get(render.EChartsAssetsPrefix+"*", assets.ServeHTTP)
	}

	if s.db != nil {
		debugMux := http.NewServeMux()
		if err := s.db.AttachAdminRoutes(debugMux); err != nil {
			return nil, err
		}
		r.Handle("/debug", debugMux)
		r.Handle("/debug/*", debugMux)
	}

	return r, nil
}

// config returns the current settings document.
func (s *Server) config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// schema returns the current survey schema.
func (s *Server) schema() *survey.Survey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.form
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"status":  "ok",
		"service": "scout",
		"version": version.Version,
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// SecurityHeaders stamps the browser hardening headers on every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// parseIntParam reads an integer query parameter, falling back on absence or
// junk.
func parseIntParam(r *http.Request, param string, defaultValue int) int {
	valueStr := r.URL.Query().Get(param)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
