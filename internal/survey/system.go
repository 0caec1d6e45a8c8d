package survey

import (
	_ "embed"
)

// RequiredFields are the system fields every survey must carry: merge
// deduplication and the stock charts depend on them.
var RequiredFields = []string{"team", "auto_score", "teleop_score"}

// systemFieldDefaults are the elements appended when a schema is missing a
// required field, in RequiredFields order.
var systemFieldDefaults = []map[string]any{
	{
		"type":       "text",
		"name":       "team",
		"title":      "Team Number",
		"inputType":  "number",
		"isRequired": true,
	},
	{
		"type":      "text",
		"name":      "auto_score",
		"title":     "Auto Score",
		"inputType": "number",
	},
	{
		"type":      "text",
		"name":      "teleop_score",
		"title":     "Teleop Score",
		"inputType": "number",
	},
}

//go:embed default_survey.json
var defaultSurveyJSON []byte

// DefaultSurvey returns the embedded stock schema, used until an event
// configures its own.
func DefaultSurvey() (*Survey, error) {
	return Parse(defaultSurveyJSON)
}

// DefaultSurveyJSON returns a copy of the embedded stock schema bytes.
func DefaultSurveyJSON() []byte {
	out := make([]byte, len(defaultSurveyJSON))
	copy(out, defaultSurveyJSON)
	return out
}

// EnsureSystemFields inserts any missing required fields at the front of the
// schema's first page (or its root element list) and returns the names it
// added. The schema is modified in place.
func EnsureSystemFields(schema map[string]any) []string {
	if schema == nil {
		return nil
	}

	present := make(map[string]bool)
	for _, e := range collectElements(schema) {
		if name := e.Name(); name != "" {
			present[name] = true
		}
	}

	target, store := elementTarget(schema)

	var added []string
	var prepend []any
	for _, field := range systemFieldDefaults {
		name, _ := field["name"].(string)
		if present[name] {
			continue
		}
		elem := make(map[string]any, len(field))
		for k, v := range field {
			elem[k] = v
		}
		prepend = append(prepend, elem)
		added = append(added, name)
	}

	if len(prepend) > 0 {
		store(append(prepend, target...))
	}
	return added
}

// elementTarget picks where system fields go: the first page's elements when
// pages exist, the root elements list otherwise. The returned store func
// writes the updated list back.
func elementTarget(schema map[string]any) ([]any, func([]any)) {
	if pages, ok := schema["pages"].([]any); ok && len(pages) > 0 {
		first, ok := pages[0].(map[string]any)
		if !ok {
			first = map[string]any{}
			pages[0] = first
		}
		elems, _ := first["elements"].([]any)
		return elems, func(updated []any) { first["elements"] = updated }
	}

	elems, _ := schema["elements"].([]any)
	return elems, func(updated []any) { schema["elements"] = updated }
}
