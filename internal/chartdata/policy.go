package chartdata

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/fieldline-data/scout.report/internal/chartkind"
)

// Fallback notes surfaced next to a chart when the requested kind was not
// honored. Kept as constants so handlers and tests refer to one wording.
const (
	noteRadarPerField  = "Radar charts compare fields across a team overview, not a single field; showing %s instead."
	noteFreeText       = "Free-text responses cannot be charted; showing response coverage instead."
	noteTwoCategories  = "Need at least two categories for a %s chart; showing a bar chart instead."
	noteChoiceCounts   = "Choice fields are shown as category counts."
	noteNoNumericData  = "No numeric values recorded for this field; showing response coverage instead."
	trendChartWording  = "a trend chart"
	countsChartWording = "category counts"
)

// BuildDirective resolves what to draw for one configured field over the
// given records. It is a pure function of the request, the field's
// classification, and the data; it never fails. The worst case is a
// presence-mode bar chart showing response coverage.
func BuildDirective(s *Schema, cfg FieldConfig, records []Record) Directive {
	requested := chartkind.Sanitize(cfg.Kind)
	cat := s.Classify(cfg.Field)

	d := Directive{
		Field: cfg.Field,
		Title: fieldTitle(cfg),
		Kind:  requested,
		Color: cfg.Color,
	}

	switch requested {
	case chartkind.Radar:
		switch {
		case cat == Unsupported:
			d.Kind = chartkind.Bar
			d.Note = fmt.Sprintf(noteRadarPerField, "response coverage")
			fillPresence(&d, cfg.Field, records)
		case cat == MultiSelect || cat == SingleSelect:
			d.Kind = chartkind.Bar
			d.Note = fmt.Sprintf(noteRadarPerField, countsChartWording)
			fillDistribution(s, &d, cfg.Field, records)
		default:
			d.Kind = chartkind.Line
			d.Note = fmt.Sprintf(noteRadarPerField, trendChartWording)
			if !fillTrend(s, &d, cfg.Field, records) {
				d.Kind = chartkind.Bar
				d.Note = noteNoNumericData
				fillPresence(&d, cfg.Field, records)
			}
		}

	case chartkind.Pie, chartkind.Doughnut:
		if cat == Unsupported {
			d.Kind = chartkind.Bar
			d.Note = noteFreeText
			fillPresence(&d, cfg.Field, records)
			break
		}
		fillDistribution(s, &d, cfg.Field, records)
		if len(d.Labels) < 2 {
			d.Note = fmt.Sprintf(noteTwoCategories, requested)
			d.Kind = chartkind.Bar
		}

	default: // line, bar
		switch {
		case cat == Unsupported:
			d.Kind = chartkind.Bar
			d.Note = noteFreeText
			fillPresence(&d, cfg.Field, records)
		case cat == MultiSelect || cat == SingleSelect:
			d.Kind = chartkind.Bar
			if requested == chartkind.Line {
				d.Note = noteChoiceCounts
			}
			fillDistribution(s, &d, cfg.Field, records)
		default:
			if !fillTrend(s, &d, cfg.Field, records) {
				d.Kind = chartkind.Bar
				d.Note = noteNoNumericData
				fillPresence(&d, cfg.Field, records)
			}
		}
	}

	return d
}

// BuildDirectives resolves every configured graph in order. Entries whose
// field name is blank are skipped rather than treated as errors.
func BuildDirectives(s *Schema, cfgs []FieldConfig, records []Record) []Directive {
	out := make([]Directive, 0, len(cfgs))
	for _, cfg := range cfgs {
		if strings.TrimSpace(cfg.Field) == "" {
			continue
		}
		out = append(out, BuildDirective(s, cfg, records))
	}
	return out
}

func fieldTitle(cfg FieldConfig) string {
	if cfg.Label != "" {
		return cfg.Label
	}
	return TitleForField(cfg.Field)
}

// TitleForField renders a field name for display: underscores become spaces
// and each word is capitalised.
func TitleForField(field string) string {
	words := strings.Fields(strings.ReplaceAll(field, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// fillTrend assembles one point per record in match order. Records without a
// numeric value keep their slot with Has=false so gaps stay visible. Returns
// false when no record produced a numeric value.
func fillTrend(s *Schema, d *Directive, field string, records []Record) bool {
	ordinals := OrdinalMap(s.entries(field))

	type point struct {
		label   string
		value   float64
		has     bool
		meaning string
		sortKey float64
		sorted  bool
		idx     int
	}

	points := make([]point, 0, len(records))
	any := false
	for i, rec := range records {
		raw := rawString(rec[field])
		v, ok := ParseNumericLike(rec[field], ordinals, true)
		if ok {
			any = true
		}

		p := point{value: v, has: ok, idx: i}
		p.meaning = s.ResolveMeaning(field, raw, v, ok)

		match := strings.TrimSpace(rawString(rec["match"]))
		if match == "" {
			match = strings.TrimSpace(rawString(rec["match_number"]))
		}
		if match == "" {
			p.label = "Match " + strconv.Itoa(i+1)
		} else {
			p.label = "Match " + match
			if mv, err := strconv.ParseFloat(match, 64); err == nil {
				p.sortKey, p.sorted = mv, true
			}
		}
		points = append(points, p)
	}

	if !any {
		return false
	}

	sort.SliceStable(points, func(a, b int) bool {
		pa, pb := points[a], points[b]
		switch {
		case pa.sorted && pb.sorted:
			return pa.sortKey < pb.sortKey
		case pa.sorted != pb.sorted:
			return pa.sorted
		default:
			return pa.idx < pb.idx
		}
	})

	d.Mode = ModeTrend
	d.Labels = make([]string, len(points))
	d.Values = make([]float64, len(points))
	d.Has = make([]bool, len(points))
	d.Meanings = make([]string, len(points))
	for i, p := range points {
		d.Labels[i] = p.label
		d.Values[i] = p.value
		d.Has[i] = p.has
		d.Meanings[i] = p.meaning
	}
	return true
}

func fillDistribution(s *Schema, d *Directive, field string, records []Record) {
	setCounts(d, s.CategoricalDistribution(field, records))
	d.Mode = ModeDistribution
}

func fillPresence(d *Directive, field string, records []Record) {
	setCounts(d, PresenceDistribution(field, records))
	d.Mode = ModePresence
}

func setCounts(d *Directive, counts []Count) {
	d.Labels = make([]string, len(counts))
	d.Values = make([]float64, len(counts))
	d.Has = make([]bool, len(counts))
	d.Meanings = make([]string, len(counts))
	for i, c := range counts {
		d.Labels[i] = c.Label
		d.Values[i] = float64(c.N)
		d.Has[i] = true
	}
}

// TrendTooltip renders the hover text for one trend point.
func TrendTooltip(label string, value float64, has bool, meaning string) string {
	if !has {
		return label + ": No data"
	}
	text := label + ": " + strconv.FormatFloat(value, 'f', -1, 64)
	if meaning != "" {
		text += "\nMeaning: " + meaning
	}
	return text
}

// DistributionTooltip renders the hover text for one distribution or
// presence bucket. The percentage is of the directive's total count, one
// decimal place, 0.0% when the total is zero.
func DistributionTooltip(label string, count, total int) string {
	pct := 0.0
	if total > 0 {
		pct = float64(count) / float64(total) * 100
	}
	return fmt.Sprintf("%s: %d (%.1f%%)", label, count, pct)
}

// Total sums a directive's values. For distribution and presence modes this
// is the denominator for tooltip percentages.
func (d Directive) Total() int {
	total := 0
	for i, v := range d.Values {
		if d.Has[i] {
			total += int(v)
		}
	}
	return total
}
