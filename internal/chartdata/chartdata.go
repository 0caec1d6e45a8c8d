// Package chartdata derives chart inputs from scouted match records: it
// classifies survey fields, normalises raw stored values, builds categorical
// and presence distributions, and picks the chart kind and data mode that can
// actually be drawn for a request. Everything here is pure data shaping; no
// chart engine or storage types leak in, so the whole pipeline is testable
// against plain records.
package chartdata

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Category classifies how a field's stored values may be charted.
type Category int

const (
	// NumericTrend fields plot one value per match in match order.
	NumericTrend Category = iota
	// MultiSelect fields hold several selections per match.
	MultiSelect
	// SingleSelect fields hold one selection per match.
	SingleSelect
	// Unsupported fields are free-text-like; only response coverage is shown.
	Unsupported
)

func (c Category) String() string {
	switch c {
	case NumericTrend:
		return "numeric"
	case MultiSelect:
		return "multi-select"
	case SingleSelect:
		return "single-select"
	case Unsupported:
		return "unsupported"
	}
	return "unknown"
}

// Mode is the data mode a directive was resolved to.
type Mode string

const (
	ModeTrend        Mode = "trend"
	ModeDistribution Mode = "distribution"
	ModePresence     Mode = "presence"
)

// Record is one scouted match: field name to raw stored value. Values are
// whatever the store produced: strings from CSV cells, numbers from JSON.
// Records are never mutated here.
type Record map[string]any

// ChoiceEntry is one configured (value, label) pair in display order.
type ChoiceEntry struct {
	Value string
	Label string
}

// Schema carries the per-field survey metadata the derivation consumes:
// declared types, choice label maps (keys lowercased by the builder), and the
// configured display order of choices. Any of the maps may be nil or missing
// a field; lookups degrade to raw values.
type Schema struct {
	Types   map[string]string
	Choices map[string]map[string]string
	Entries map[string][]ChoiceEntry
}

// FieldConfig describes one configured graph.
type FieldConfig struct {
	Field string
	Label string
	Kind  string
	Color string
}

// Directive is the resolved drawing instruction for one field. Labels and
// Values always have equal length. Has marks trend points that produced a
// numeric value; elsewhere every element is true. Note is non-empty when the
// requested chart kind was not honored.
type Directive struct {
	Field    string
	Title    string
	Kind     string
	Mode     Mode
	Labels   []string
	Values   []float64
	Has      []bool
	Meanings []string
	Note     string
	Color    string
}

var (
	multiSelectTypes  = map[string]bool{"checkbox": true, "tagbox": true}
	singleSelectTypes = map[string]bool{"radiogroup": true, "dropdown": true}
	unsupportedTypes  = map[string]bool{
		"comment":      true,
		"html":         true,
		"expression":   true,
		"file":         true,
		"image":        true,
		"signaturepad": true,
	}
)

// Classify maps a field's declared survey type to its chart category.
// Matching is case and whitespace insensitive. Unknown or missing types
// default to NumericTrend so a stale type map never blocks rendering.
func (s *Schema) Classify(field string) Category {
	var declared string
	if s != nil && s.Types != nil {
		declared = s.Types[field]
	}
	t := strings.ToLower(strings.TrimSpace(declared))
	switch {
	case multiSelectTypes[t]:
		return MultiSelect
	case singleSelectTypes[t]:
		return SingleSelect
	case unsupportedTypes[t]:
		return Unsupported
	}
	return NumericTrend
}

// IsCategorical reports whether the field's values come from a discrete
// choice set.
func (s *Schema) IsCategorical(field string) bool {
	c := s.Classify(field)
	return c == MultiSelect || c == SingleSelect
}

func (s *Schema) choices(field string) map[string]string {
	if s == nil || s.Choices == nil {
		return nil
	}
	return s.Choices[field]
}

func (s *Schema) entries(field string) []ChoiceEntry {
	if s == nil || s.Entries == nil {
		return nil
	}
	return s.Entries[field]
}

// rawNumber reports v as a finite float when it is already numeric.
func rawNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	case float32:
		return rawNumber(float64(n))
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return rawNumber(f)
	}
	return 0, false
}

// rawString renders a stored value for tokenization. Numbers use their
// shortest decimal form so "5" and 5 tokenize identically.
func rawString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case bool:
		if s {
			return "true"
		}
		return "false"
	case json.Number:
		return s.String()
	}
	if n, ok := rawNumber(v); ok {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return ""
}
