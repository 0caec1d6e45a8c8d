// Package survey parses the form-builder schema that drives data collection:
// which fields exist, how they are typed, and how stored choice values map to
// display labels. The schema format is the builder's JSON export; unknown
// keys are carried through untouched so round-tripping a schema never loses
// anything.
package survey

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fieldline-data/scout.report/internal/chartdata"
)

// Element is one question element from the schema.
type Element map[string]any

// Survey is a parsed schema plus the flattened question list.
type Survey struct {
	raw      map[string]any
	elements []Element
}

// Parse decodes a schema export. The input must be a JSON object; the
// system fields are guaranteed present afterwards.
func Parse(data []byte) (*Survey, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid survey schema: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	EnsureSystemFields(raw)
	return &Survey{raw: raw, elements: collectElements(raw)}, nil
}

// Raw returns the underlying schema object. Mutating it invalidates the
// parsed view; re-Parse after edits.
func (s *Survey) Raw() map[string]any {
	return s.raw
}

// MarshalJSON re-encodes the schema, system fields included.
func (s *Survey) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.raw)
}

// Elements returns every collected question element in walk order.
func (s *Survey) Elements() []Element {
	return s.elements
}

// collectElements flattens the schema: items inside "elements" lists are
// collected and recursed into, while "pages" and "templateElements" are only
// recursed. A named panel is collected alongside its nested questions.
func collectElements(node any) []Element {
	var out []Element

	var walk func(any)
	walk = func(v any) {
		switch value := v.(type) {
		case []any:
			for _, item := range value {
				walk(item)
			}
		case map[string]any:
			if elems, ok := value["elements"].([]any); ok {
				for _, item := range elems {
					if m, ok := item.(map[string]any); ok {
						out = append(out, Element(m))
					}
					walk(item)
				}
			}
			if pages, ok := value["pages"].([]any); ok {
				for _, page := range pages {
					walk(page)
				}
			}
			if tmpl, ok := value["templateElements"].([]any); ok {
				for _, item := range tmpl {
					walk(item)
				}
			}
		}
	}
	walk(node)
	return out
}

// Name returns the element's field name, trimmed.
func (e Element) Name() string {
	return strings.TrimSpace(stringAt(e, "name"))
}

// Type returns the element's declared type, lowercased and trimmed.
func (e Element) Type() string {
	return strings.ToLower(strings.TrimSpace(stringAt(e, "type")))
}

// Title returns the element's display title, falling back to the name.
func (e Element) Title() string {
	if t := strings.TrimSpace(stringAt(e, "title")); t != "" {
		return t
	}
	return e.Name()
}

// FieldNames returns ordered unique field names.
func (s *Survey) FieldNames() []string {
	var names []string
	seen := make(map[string]bool)
	for _, e := range s.elements {
		name := e.Name()
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// FieldTypes returns field name to declared type. First declaration wins for
// duplicate names.
func (s *Survey) FieldTypes() map[string]string {
	types := make(map[string]string)
	for _, e := range s.elements {
		name := e.Name()
		if name == "" {
			continue
		}
		if _, ok := types[name]; !ok {
			types[name] = e.Type()
		}
	}
	return types
}

// FieldTitles returns field name to display title.
func (s *Survey) FieldTitles() map[string]string {
	titles := make(map[string]string)
	for _, e := range s.elements {
		name := e.Name()
		if name == "" {
			continue
		}
		if _, ok := titles[name]; !ok {
			titles[name] = e.Title()
		}
	}
	return titles
}

// ChartSchema assembles the derivation inputs for this survey.
func (s *Survey) ChartSchema() *chartdata.Schema {
	return &chartdata.Schema{
		Types:   s.FieldTypes(),
		Choices: s.ChoiceLabelMaps(),
		Entries: s.ChoiceDisplayEntries(),
	}
}

func stringAt(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		switch s := v.(type) {
		case string:
			return s
		case float64:
			return trimFloat(s)
		case bool:
			if s {
				return "true"
			}
			return "false"
		}
	}
	return ""
}
