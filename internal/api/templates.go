package api

import (
	"embed"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/fieldline-data/scout.report/internal/monitoring"
	"github.com/fieldline-data/scout.report/internal/version"
)

//go:embed pages
var pagesFS embed.FS

// TemplateProvider abstracts page template loading and execution.
// Production uses EmbeddedTemplateProvider; tests use MockTemplateProvider.
type TemplateProvider interface {
	// GetTemplate returns a parsed template by name.
	GetTemplate(name string) (*template.Template, error)
	// ExecuteTemplate executes a template with the given data.
	ExecuteTemplate(w io.Writer, name string, data any) error
}

// EmbeddedTemplateProvider loads templates from an embedded filesystem and
// caches the parsed result per name.
type EmbeddedTemplateProvider struct {
	fs      embed.FS
	baseDir string

	mu    sync.Mutex
	cache map[string]*template.Template
}

// NewEmbeddedTemplateProvider creates a provider reading under baseDir of
// the given embedded FS.
func NewEmbeddedTemplateProvider(embedFS embed.FS, baseDir string) *EmbeddedTemplateProvider {
	return &EmbeddedTemplateProvider{
		fs:      embedFS,
		baseDir: baseDir,
		cache:   make(map[string]*template.Template),
	}
}

// GetTemplate parses and caches a template from the embedded FS.
func (p *EmbeddedTemplateProvider) GetTemplate(name string) (*template.Template, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.cache[name]; ok {
		return t, nil
	}

	path := name
	if p.baseDir != "" {
		path = p.baseDir + "/" + name
	}

	content, err := p.fs.ReadFile(path)
	if err != nil {
		return nil, err
	}

	t, err := template.New(name).Parse(string(content))
	if err != nil {
		return nil, err
	}

	p.cache[name] = t
	return t, nil
}

// ExecuteTemplate loads and executes a template.
func (p *EmbeddedTemplateProvider) ExecuteTemplate(w io.Writer, name string, data any) error {
	t, err := p.GetTemplate(name)
	if err != nil {
		return err
	}
	return t.Execute(w, data)
}

// DirTemplateProvider reads templates from a local directory on every
// request, so page edits show up in dev mode without restarting the
// server. No caching.
type DirTemplateProvider struct {
	dir string
}

// NewDirTemplateProvider creates a provider reading templates under dir.
func NewDirTemplateProvider(dir string) *DirTemplateProvider {
	return &DirTemplateProvider{dir: dir}
}

// GetTemplate parses a template from disk.
func (p *DirTemplateProvider) GetTemplate(name string) (*template.Template, error) {
	content, err := os.ReadFile(filepath.Join(p.dir, name))
	if err != nil {
		return nil, err
	}
	return template.New(name).Parse(string(content))
}

// ExecuteTemplate loads and executes a template.
func (p *DirTemplateProvider) ExecuteTemplate(w io.Writer, name string, data any) error {
	t, err := p.GetTemplate(name)
	if err != nil {
		return err
	}
	return t.Execute(w, data)
}

// MockTemplateProvider provides templates for testing.
type MockTemplateProvider struct {
	Templates    map[string]string
	ExecuteError error
	ExecuteCalls []executeCall
	GetError     error
}

type executeCall struct {
	Name string
	Data any
}

// NewMockTemplateProvider creates a mock provider with predefined templates.
func NewMockTemplateProvider(templates map[string]string) *MockTemplateProvider {
	return &MockTemplateProvider{
		Templates:    templates,
		ExecuteCalls: []executeCall{},
	}
}

// GetTemplate returns a parsed template from the mock templates.
func (m *MockTemplateProvider) GetTemplate(name string) (*template.Template, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}

	content, ok := m.Templates[name]
	if !ok {
		return nil, fs.ErrNotExist
	}

	return template.New(name).Parse(content)
}

// ExecuteTemplate records the call and executes the template.
func (m *MockTemplateProvider) ExecuteTemplate(w io.Writer, name string, data any) error {
	m.ExecuteCalls = append(m.ExecuteCalls, executeCall{Name: name, Data: data})

	if m.ExecuteError != nil {
		return m.ExecuteError
	}

	t, err := m.GetTemplate(name)
	if err != nil {
		return err
	}

	return t.Execute(w, data)
}

// indexData is what the landing page renders: where this device is, what it
// holds, and where to go next.
type indexData struct {
	EventName   string
	EventSeason string
	ConfigID    string
	DeviceName  string
	DeviceID    string
	Records     int
	LastEntry   string
	Uploads     int
	Version     string
}

// handleIndex serves the landing page: event and device identity plus a
// summary of what this device has collected.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	cfg := s.config()

	total, err := s.db.CountRecords()
	if err != nil {
		monitoring.Logf("api: failed to count records: %v", err)
	}
	var last string
	if total > 0 {
		if newest, err := s.db.ListRecords(1, 0); err == nil && len(newest) > 0 {
			last = newest[0].Timestamp
		}
	}
	uploadCount := 0
	if s.uploads != nil {
		if stored, err := s.uploads.List(); err == nil {
			uploadCount = len(stored)
		}
	}

	data := indexData{
		EventName:   cfg.GetEventName(),
		EventSeason: cfg.GetEventSeason(),
		ConfigID:    cfg.ConfigID(),
		DeviceName:  cfg.GetDeviceName(),
		DeviceID:    s.identity.ID,
		Records:     total,
		LastEntry:   last,
		Uploads:     uploadCount,
		Version:     version.Version,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, "index.html", data); err != nil {
		http.Error(w, "Error executing template: "+err.Error(), http.StatusInternalServerError)
	}
}
