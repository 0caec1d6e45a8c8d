package render

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/fieldline-data/scout.report/internal/chartdata"
	"github.com/fieldline-data/scout.report/internal/chartkind"
	"github.com/fieldline-data/scout.report/internal/security"
)

// chartFilePrefix marks the files RenderReport owns in its output
// directory. Anything else in the directory is left alone.
const chartFilePrefix = "chart_"

const (
	reportWidth  = 14 * vg.Inch
	reportHeight = 6 * vg.Inch
)

// PNGRenderer writes one PNG per directive into a report directory, for
// printed pit sheets and anywhere a browser can't go. Radar overviews are a
// page concept and are skipped here; pie and doughnut directives fall back
// to bars of their counts.
type PNGRenderer struct {
	outputDir string
}

// NewPNGRenderer creates a renderer writing into outputDir.
func NewPNGRenderer(outputDir string) *PNGRenderer {
	return &PNGRenderer{outputDir: outputDir}
}

// Render implements Renderer, discarding the written paths.
func (r *PNGRenderer) Render(view View) error {
	_, err := r.RenderReport(view)
	return err
}

// RenderReport draws every directive and returns the written file paths in
// directive order. Chart files from a previous report are removed first, so
// a slot rendered twice ends with exactly one file and stale slots
// disappear.
func (r *PNGRenderer) RenderReport(view View) ([]string, error) {
	if r.outputDir == "" {
		return nil, fmt.Errorf("no output directory configured")
	}
	if err := os.MkdirAll(r.outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	if err := r.removePrevious(); err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(view.Directives))
	for i, d := range view.Directives {
		name := fmt.Sprintf("%s%02d_%s.png", chartFilePrefix, i+1, security.SanitizeFilename(d.Field))
		file := filepath.Join(r.outputDir, name)
		if err := renderDirectivePNG(d, file); err != nil {
			return paths, fmt.Errorf("chart %s: %w", d.Field, err)
		}
		paths = append(paths, file)
	}
	return paths, nil
}

// OutputDir returns the directory the renderer writes into.
func (r *PNGRenderer) OutputDir() string {
	return r.outputDir
}

func (r *PNGRenderer) removePrevious() error {
	stale, err := filepath.Glob(filepath.Join(r.outputDir, chartFilePrefix+"*.png"))
	if err != nil {
		return err
	}
	for _, f := range stale {
		if err := os.Remove(f); err != nil {
			return fmt.Errorf("failed to remove stale chart %s: %w", f, err)
		}
	}
	return nil
}

// renderDirectivePNG draws one directive. Trend-mode line directives become
// line plots; everything else becomes a bar plot of its values.
func renderDirectivePNG(d chartdata.Directive, file string) error {
	p := plot.New()
	p.Title.Text = d.Title
	if d.Note != "" {
		p.Title.Text = d.Title + " (" + d.Note + ")"
	}

	if d.Kind == chartkind.Line && d.Mode == chartdata.ModeTrend {
		return saveTrendLine(p, d, file)
	}
	return saveBars(p, d, file)
}

func saveTrendLine(p *plot.Plot, d chartdata.Directive, file string) error {
	p.X.Label.Text = "Match"
	p.Y.Label.Text = "Value"

	// Matches without a numeric value are omitted rather than drawn as
	// fabricated zeros; X keeps the match sequence position.
	pts := make(plotter.XYs, 0, len(d.Values))
	for i, v := range d.Values {
		if !d.Has[i] {
			continue
		}
		pts = append(pts, plotter.XY{X: float64(i + 1), Y: v})
	}
	if len(pts) == 0 {
		return saveBars(p, d, file)
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Color = parseHexColor(d.Color)
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add(d.Title, line)
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	return p.Save(reportWidth, reportHeight, file)
}

func saveBars(p *plot.Plot, d chartdata.Directive, file string) error {
	if d.Mode == chartdata.ModeTrend {
		p.Y.Label.Text = "Value"
	} else {
		p.Y.Label.Text = "Count"
	}

	if len(d.Values) > 0 {
		bars, err := plotter.NewBarChart(plotter.Values(d.Values), vg.Points(24))
		if err != nil {
			return err
		}
		bars.LineStyle.Width = vg.Length(0)
		bars.Color = parseHexColor(d.Color)
		p.Add(bars)
		p.NominalX(d.Labels...)
	}

	return p.Save(reportWidth, reportHeight, file)
}

// parseHexColor converts a #rrggbb colour to RGBA. Anything unparseable
// gets the first palette colour.
func parseHexColor(s string) color.Color {
	var r, g, b uint8
	n, err := fmt.Sscanf(strings.ToLower(strings.TrimSpace(s)), "#%2x%2x%2x", &r, &g, &b)
	if err != nil || n != 3 {
		return color.RGBA{R: 0x3b, G: 0x82, B: 0xf6, A: 255}
	}
	return color.RGBA{R: r, G: g, B: b, A: 255}
}
