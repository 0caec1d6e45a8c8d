// Package render draws resolved chart directives with concrete chart
// engines. The derivation layer decides WHAT each chart shows; this package
// owns HOW: an interactive go-echarts HTML page for the browser, and
// gonum/plot PNG files for printed reports. No engine type leaks back into
// the derivation layer.
package render

import "github.com/fieldline-data/scout.report/internal/chartdata"

// View is everything one render pass draws: a header, one chart per
// directive, and the optional team radar overview.
type View struct {
	Title    string
	Subtitle string
	// Notes are page-level notices (merge warnings and the like) shown in
	// the header block.
	Notes      []string
	Directives []chartdata.Directive
	// Radar is nil when the overview resolved to hidden; RadarNote then
	// carries the explanation.
	Radar      *chartdata.RadarChart
	RadarTitle string
	RadarNote  string
}

// Renderer draws every chart a view names. Implementations own their output
// target: an HTML stream, PNG files in a directory. Each call rebuilds the
// output from scratch, so rendering the same view twice leaves exactly one
// chart per slot rather than accumulating stale ones.
type Renderer interface {
	Render(view View) error
}

// MockRenderer records render calls for testing.
type MockRenderer struct {
	RenderCalls []View
	RenderError error
}

// Render records the view and returns the configured error.
func (m *MockRenderer) Render(view View) error {
	m.RenderCalls = append(m.RenderCalls, view)
	return m.RenderError
}
