package render

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fieldline-data/scout.report/internal/chartdata"
	"github.com/fieldline-data/scout.report/internal/chartkind"
)

func trendDirective() chartdata.Directive {
	return chartdata.Directive{
		Field:    "auto_score",
		Title:    "Auto Score",
		Kind:     chartkind.Line,
		Mode:     chartdata.ModeTrend,
		Labels:   []string{"Match 1", "Match 2", "Match 3"},
		Values:   []float64{5, 0, 12},
		Has:      []bool{true, false, true},
		Meanings: []string{"", "", "High"},
		Color:    "#3b82f6",
	}
}

func distributionDirective(kind string) chartdata.Directive {
	return chartdata.Directive{
		Field:    "climb",
		Title:    "Climb",
		Kind:     kind,
		Mode:     chartdata.ModeDistribution,
		Labels:   []string{"None", "Low", "High"},
		Values:   []float64{2, 1, 4},
		Has:      []bool{true, true, true},
		Meanings: []string{"", "", ""},
	}
}

func renderToString(t *testing.T, view View) string {
	t.Helper()
	var buf bytes.Buffer
	if err := NewEChartsRenderer(&buf).Render(view); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	return buf.String()
}

// chartSlots counts the chart containers on a rendered page.
func chartSlots(html string) int {
	return strings.Count(html, `class="item"`)
}

func TestEChartsRendererPage(t *testing.T) {
	radar := chartdata.RadarChart{
		Metrics:  []string{"Auto Score", "Teleop Score", "Climb"},
		Values:   []float64{100, 63.6, 41.2},
		Baseline: []float64{100, 100, 100},
	}
	view := View{
		Title:      "Practice Event Charts",
		Subtitle:   "offseason, 9 records",
		Directives: []chartdata.Directive{trendDirective(), distributionDirective(chartkind.Pie)},
		Radar:      &radar,
		RadarTitle: "Team 254 Overview",
	}

	html := renderToString(t, view)

	// header block + two directives + radar
	if got := chartSlots(html); got != 4 {
		t.Errorf("expected 4 chart slots, got %d", got)
	}

	for _, want := range []string{
		"Practice Event Charts",
		"Auto Score",
		"Climb",
		"Team 254 Overview",
		"Baseline",
		"dark",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("page missing %q", want)
		}
	}
}

func TestEChartsRendererTrendTooltips(t *testing.T) {
	view := View{Directives: []chartdata.Directive{trendDirective()}}
	html := renderToString(t, view)

	if !strings.Contains(html, "Match 1: 5") {
		t.Error("missing tooltip for first point")
	}
	if !strings.Contains(html, "Match 2: No data") {
		t.Error("missing no-data tooltip for skipped point")
	}
	if !strings.Contains(html, "Meaning: High") {
		t.Error("missing decoded meaning line")
	}
	// the skipped point keeps its slot as a null value
	if !strings.Contains(html, "null") {
		t.Error("expected a null data slot for the missing value")
	}
}

func TestEChartsRendererDistributionTooltips(t *testing.T) {
	view := View{Directives: []chartdata.Directive{distributionDirective(chartkind.Bar)}}
	html := renderToString(t, view)

	// counts 2, 1, 4 of total 7
	for _, want := range []string{
		"None: 2 (28.6%)",
		"Low: 1 (14.3%)",
		"High: 4 (57.1%)",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("page missing tooltip %q", want)
		}
	}
}

func TestEChartsRendererDoughnutRadius(t *testing.T) {
	view := View{Directives: []chartdata.Directive{distributionDirective(chartkind.Doughnut)}}
	html := renderToString(t, view)

	if !strings.Contains(html, "40%") || !strings.Contains(html, "70%") {
		t.Error("doughnut chart missing hollow-centre radius")
	}
}

func TestEChartsRendererFallbackNote(t *testing.T) {
	d := distributionDirective(chartkind.Bar)
	d.Note = "Choice fields are shown as category counts."
	view := View{Directives: []chartdata.Directive{d}}

	html := renderToString(t, view)
	if !strings.Contains(html, d.Note) {
		t.Error("fallback note not rendered on the page")
	}
}

func TestEChartsRendererHiddenRadarNote(t *testing.T) {
	view := View{
		RadarTitle: "Team 254 Overview",
		RadarNote:  chartdata.RadarNoteNoVariation,
	}

	html := renderToString(t, view)
	if got := chartSlots(html); got != 1 {
		t.Errorf("expected a single notice slot, got %d", got)
	}
	if !strings.Contains(html, chartdata.RadarNoteNoVariation) {
		t.Error("hidden radar note not rendered")
	}
}

func TestEChartsRendererHeaderNotes(t *testing.T) {
	view := View{
		Title: "Scout Charts",
		Notes: []string{
			"Missing fields in uploaded CSVs: climb",
			"Removed 2 duplicate rows (same device + match + team).",
		},
	}

	html := renderToString(t, view)
	for _, note := range view.Notes {
		if !strings.Contains(html, note) {
			t.Errorf("header missing note %q", note)
		}
	}
}

func TestEChartsRendererRebuildKeepsOneChartPerSlot(t *testing.T) {
	view := View{
		Title:      "Scout Charts",
		Directives: []chartdata.Directive{trendDirective()},
	}

	first := renderToString(t, view)
	second := renderToString(t, view)

	if chartSlots(first) != chartSlots(second) {
		t.Errorf("slot count changed across renders: %d vs %d", chartSlots(first), chartSlots(second))
	}
	if got := chartSlots(second); got != 2 {
		t.Errorf("expected header plus one chart, got %d slots", got)
	}
}

func TestEChartsRendererLocalAssets(t *testing.T) {
	view := View{Directives: []chartdata.Directive{trendDirective()}}
	html := renderToString(t, view)

	if !strings.Contains(html, EChartsAssetsPrefix+"echarts.min.js") {
		t.Error("page does not load the ECharts bundle from the local assets route")
	}
}

func TestMockRendererRecordsCalls(t *testing.T) {
	mock := &MockRenderer{}
	view := View{Title: "Scout Charts"}

	if err := mock.Render(view); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mock.RenderCalls) != 1 {
		t.Fatalf("expected 1 recorded call, got %d", len(mock.RenderCalls))
	}
	if mock.RenderCalls[0].Title != "Scout Charts" {
		t.Errorf("recorded wrong view title %q", mock.RenderCalls[0].Title)
	}
}
