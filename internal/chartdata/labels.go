package chartdata

import (
	"strconv"
	"strings"
)

// DecodeLabel maps a raw stored value to its display form: tokens are looked
// up in the field's choice map case-insensitively, unmapped tokens pass
// through raw, and multiple tokens join with ", ". Returns "" for an empty
// value.
func (s *Schema) DecodeLabel(field, raw string) string {
	tokens := SplitTokens(raw, s.Classify(field) == MultiSelect)
	if len(tokens) == 0 {
		return ""
	}

	choices := s.choices(field)
	labels := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if label, ok := choices[strings.ToLower(tok)]; ok && label != "" {
			labels = append(labels, label)
		} else {
			labels = append(labels, tok)
		}
	}
	return strings.Join(labels, ", ")
}

// ResolveMeaning finds the human-readable meaning for a trend point's raw
// value. It tries the raw value as a choice key, then the numeric value's
// string form, then falls back to the decoded label when that adds
// information beyond the raw and numeric forms. An empty result means the
// tooltip should omit its Meaning line.
func (s *Schema) ResolveMeaning(field, raw string, numeric float64, hasNumeric bool) string {
	choices := s.choices(field)

	trimmed := strings.TrimSpace(raw)
	if label, ok := choices[strings.ToLower(trimmed)]; ok && label != "" {
		return label
	}

	numStr := ""
	if hasNumeric {
		numStr = strconv.FormatFloat(numeric, 'f', -1, 64)
		if label, ok := choices[numStr]; ok && label != "" {
			return label
		}
	}

	if decoded := s.DecodeLabel(field, raw); decoded != "" && decoded != trimmed && decoded != numStr {
		return decoded
	}
	return ""
}
