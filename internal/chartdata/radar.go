package chartdata

import "math"

// Notes explaining a hidden radar overview. Two distinct failure messages:
// callers key off which precondition failed.
const (
	RadarNoteTooFewMetrics = "Radar overview needs at least three metrics."
	RadarNoteNoVariation   = "Radar overview hidden: every metric has the same value."
)

// RadarBaseline is the constant reference ring overlaid on every rendered
// radar overview.
const RadarBaseline = 100.0

// RadarInput is the cross-field aggregate feeding the team radar overview.
// Scores hold per-field aggregate values already normalised to a 0-100
// scale; Fallback is a positional backup consulted when a metric's score is
// missing or not finite.
type RadarInput struct {
	Metrics  []string
	Fields   []string
	Scores   map[string]float64
	Fallback []float64
}

// RadarChart is a renderable radar overview. Values aligns with Metrics and
// Baseline holds the constant reference series.
type RadarChart struct {
	Metrics  []string
	Values   []float64
	Baseline []float64
}

// BuildRadarOverview resolves the overview or explains why it is hidden.
// It renders only when there are at least three metrics and their resolved
// values are not all identical; the returned note is empty exactly when the
// chart should be drawn.
func BuildRadarOverview(in RadarInput) (RadarChart, string) {
	if len(in.Metrics) < 3 {
		return RadarChart{}, RadarNoteTooFewMetrics
	}

	values := make([]float64, len(in.Metrics))
	for i := range in.Metrics {
		values[i] = resolveRadarValue(in, i)
	}

	allSame := true
	for _, v := range values[1:] {
		if v != values[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return RadarChart{}, RadarNoteNoVariation
	}

	baseline := make([]float64, len(values))
	for i := range baseline {
		baseline[i] = RadarBaseline
	}
	return RadarChart{Metrics: in.Metrics, Values: values, Baseline: baseline}, ""
}

// resolveRadarValue looks up metric i's score by field name, falls back to
// the positional array, and bottoms out at 0.
func resolveRadarValue(in RadarInput, i int) float64 {
	if in.Scores != nil && i < len(in.Fields) {
		if v, ok := in.Scores[in.Fields[i]]; ok && finite(v) {
			return v
		}
	}
	if i < len(in.Fallback) && finite(in.Fallback[i]) {
		return in.Fallback[i]
	}
	return 0
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
