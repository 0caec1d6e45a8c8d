package render

import (
	"io"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"github.com/fieldline-data/scout.report/internal/chartdata"
	"github.com/fieldline-data/scout.report/internal/chartkind"
)

// EChartsAssetsPrefix points chart pages at the locally served ECharts
// bundle so pages keep rendering with no internet access. The HTTP layer
// serves this route from the on-disk assets directory.
const EChartsAssetsPrefix = "/echarts/assets/"

const (
	chartWidth   = "900px"
	chartHeight  = "500px"
	radarHeight  = "600px"
	headerHeight = "180px"

	// radarAxisMax leaves headroom above the 100-point baseline ring so it
	// never sits on the outer edge.
	radarAxisMax = 120
)

// EChartsRenderer renders a view as a single dark-themed HTML page with one
// interactive chart per directive, in directive order.
type EChartsRenderer struct {
	w io.Writer
}

// NewEChartsRenderer returns a renderer that writes the page to w.
func NewEChartsRenderer(w io.Writer) *EChartsRenderer {
	return &EChartsRenderer{w: w}
}

// Render builds a fresh page from the view and writes it out. Charts whose
// requested kind was not honored carry the fallback note as their subtitle.
func (r *EChartsRenderer) Render(view View) error {
	page := components.NewPage()
	page.SetAssetsHost(EChartsAssetsPrefix)
	page.PageTitle = view.Title

	if view.Title != "" || len(view.Notes) > 0 {
		page.AddCharts(titleBlock(view))
	}

	for _, d := range view.Directives {
		switch {
		case d.Kind == chartkind.Pie || d.Kind == chartkind.Doughnut:
			page.AddCharts(pieChart(view.Title, d))
		case d.Kind == chartkind.Line && d.Mode == chartdata.ModeTrend:
			page.AddCharts(trendChart(view.Title, d))
		default:
			page.AddCharts(barChart(view.Title, d))
		}
	}

	switch {
	case view.Radar != nil:
		page.AddCharts(radarChart(view.Title, view.RadarTitle, *view.Radar))
	case view.RadarNote != "":
		page.AddCharts(noticeBlock(view.Title, view.RadarTitle, view.RadarNote))
	}

	return page.Render(r.w)
}

func initOpts(pageTitle, height string) charts.GlobalOpts {
	return charts.WithInitializationOpts(opts.Initialization{
		PageTitle:  pageTitle,
		Theme:      "dark",
		Width:      chartWidth,
		Height:     height,
		AssetsHost: EChartsAssetsPrefix,
	})
}

// trendChart draws one value per match in match order. Matches without a
// numeric value keep their slot as a null point so gaps stay visible.
func trendChart(pageTitle string, d chartdata.Directive) *charts.Line {
	data := make([]opts.LineData, len(d.Values))
	for i := range d.Values {
		data[i] = opts.LineData{
			Name:  htmlTooltip(chartdata.TrendTooltip(d.Labels[i], d.Values[i], d.Has[i], d.Meanings[i])),
			Value: trendValue(d.Values[i], d.Has[i]),
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		initOpts(pageTitle, chartHeight),
		charts.WithTitleOpts(opts.Title{Title: d.Title, Subtitle: d.Note}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "item", Formatter: "{b}"}),
	)
	line.SetXAxis(d.Labels).
		AddSeries(d.Title, data,
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)}),
			seriesColor(d.Color),
		)
	return line
}

// barChart draws distribution and presence counts, and also bar-styled
// trends when that kind was requested for a numeric field.
func barChart(pageTitle string, d chartdata.Directive) *charts.Bar {
	trend := d.Mode == chartdata.ModeTrend
	total := d.Total()

	data := make([]opts.BarData, len(d.Values))
	for i, v := range d.Values {
		var name string
		if trend {
			name = htmlTooltip(chartdata.TrendTooltip(d.Labels[i], v, d.Has[i], d.Meanings[i]))
		} else {
			name = chartdata.DistributionTooltip(d.Labels[i], int(v), total)
		}
		data[i] = opts.BarData{Name: name, Value: trendValue(v, d.Has[i])}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		initOpts(pageTitle, chartHeight),
		charts.WithTitleOpts(opts.Title{Title: d.Title, Subtitle: d.Note}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "item", Formatter: "{b}"}),
	)
	bar.SetXAxis(d.Labels).
		AddSeries(d.Title, data,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
			seriesColor(d.Color),
		)
	return bar
}

// pieChart draws a category share. Doughnut is the same chart with a hollow
// centre. Slice names stay as plain labels, so the computed tooltip text
// rides on each slice's own tooltip override instead.
func pieChart(pageTitle string, d chartdata.Directive) *charts.Pie {
	total := d.Total()

	data := make([]opts.PieData, len(d.Values))
	for i, v := range d.Values {
		data[i] = opts.PieData{
			Name:  d.Labels[i],
			Value: v,
			Tooltip: &opts.Tooltip{
				Formatter: types.FuncStr(chartdata.DistributionTooltip(d.Labels[i], int(v), total)),
			},
		}
	}

	pie := charts.NewPie()
	pie.SetGlobalOptions(
		initOpts(pageTitle, chartHeight),
		charts.WithTitleOpts(opts.Title{Title: d.Title, Subtitle: d.Note}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "item"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Bottom: "0"}),
	)

	series := []charts.SeriesOpts{
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Formatter: "{b}: {c}"}),
	}
	if d.Kind == chartkind.Doughnut {
		series = append(series, charts.WithPieChartOpts(opts.PieChart{Radius: []string{"40%", "70%"}}))
	}
	pie.AddSeries(d.Title, data, series...)
	return pie
}

// radarChart draws the team overview with the constant baseline ring as a
// second series.
func radarChart(pageTitle, title string, rc chartdata.RadarChart) *charts.Radar {
	indicators := make([]*opts.Indicator, len(rc.Metrics))
	for i, m := range rc.Metrics {
		indicators[i] = &opts.Indicator{Name: m, Max: radarAxisMax}
	}

	radar := charts.NewRadar()
	radar.SetGlobalOptions(
		initOpts(pageTitle, radarHeight),
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "item"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Bottom: "0"}),
		charts.WithRadarComponentOpts(opts.RadarComponent{
			Indicator:   indicators,
			SplitNumber: 5,
		}),
	)
	radar.AddSeries(title, []opts.RadarData{
		{Name: title, Value: rc.Values},
		{Name: "Baseline", Value: rc.Baseline},
	})
	return radar
}

// titleBlock fills the first page slot with the view title, subtitle, and
// any page-level notices. It draws no series.
func titleBlock(view View) *charts.Bar {
	sub := view.Subtitle
	if len(view.Notes) > 0 {
		if sub != "" {
			sub += "\n"
		}
		sub += strings.Join(view.Notes, "\n")
	}
	return noticeBlock(view.Title, view.Title, sub)
}

// noticeBlock fills a chart slot with only a title and note, for sections
// that resolved to "nothing to draw".
func noticeBlock(pageTitle, title, note string) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		initOpts(pageTitle, headerHeight),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: note}),
		charts.WithXAxisOpts(opts.XAxis{Show: opts.Bool(false)}),
		charts.WithYAxisOpts(opts.YAxis{Show: opts.Bool(false)}),
	)
	return bar
}

// trendValue keeps a missing point's slot as a null value so the axis stays
// aligned with the match sequence.
func trendValue(v float64, has bool) interface{} {
	if !has {
		return nil
	}
	return v
}

func seriesColor(hex string) charts.SeriesOpts {
	if hex == "" {
		return func(*charts.SingleSeries) {}
	}
	return charts.WithItemStyleOpts(opts.ItemStyle{Color: hex})
}

// htmlTooltip converts plain-text tooltips to the HTML the ECharts tooltip
// box renders, where newlines need explicit breaks.
func htmlTooltip(s string) string {
	return strings.ReplaceAll(s, "\n", "<br/>")
}
