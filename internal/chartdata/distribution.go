package chartdata

import "strings"

// Count is one labelled bucket of a distribution.
type Count struct {
	Label string
	N     int
}

// Presence bucket labels.
const (
	HasResponseLabel = "Has response"
	NoResponseLabel  = "No response"
)

// CategoricalDistribution counts decoded labels across records. Fields with
// configured choice entries keep that display order and surface unused
// configured categories as absent rather than errors; other fields order
// labels by first observation. Tokens are deduplicated within a record:
// multi-select fields add one count per distinct label per record,
// single-select fields count only the first label. Zero-count labels are
// omitted.
func (s *Schema) CategoricalDistribution(field string, records []Record) []Count {
	counts := make(map[string]int)
	var order []string
	seeded := make(map[string]bool)

	for _, e := range s.entries(field) {
		label := e.Label
		if label == "" {
			label = e.Value
		}
		if label == "" || seeded[label] {
			continue
		}
		seeded[label] = true
		order = append(order, label)
		counts[label] = 0
	}

	multi := s.Classify(field) == MultiSelect
	choices := s.choices(field)

	for _, rec := range records {
		tokens := SplitTokens(rawString(rec[field]), multi)
		if len(tokens) == 0 {
			continue
		}

		seen := make(map[string]bool, len(tokens))
		for _, tok := range tokens {
			label := tok
			if mapped, ok := choices[strings.ToLower(tok)]; ok && mapped != "" {
				label = mapped
			}
			if seen[label] {
				continue
			}
			seen[label] = true

			if !seeded[label] {
				seeded[label] = true
				order = append(order, label)
			}
			counts[label]++

			if !multi {
				break
			}
		}
	}

	out := make([]Count, 0, len(order))
	for _, label := range order {
		if counts[label] > 0 {
			out = append(out, Count{Label: label, N: counts[label]})
		}
	}
	return out
}

// PresenceDistribution buckets records into responded vs not for a field,
// based on a non-empty trimmed value. Buckets with zero count are omitted.
func PresenceDistribution(field string, records []Record) []Count {
	has, without := 0, 0
	for _, rec := range records {
		if strings.TrimSpace(rawString(rec[field])) != "" {
			has++
		} else {
			without++
		}
	}

	var out []Count
	if has > 0 {
		out = append(out, Count{Label: HasResponseLabel, N: has})
	}
	if without > 0 {
		out = append(out, Count{Label: NoResponseLabel, N: without})
	}
	return out
}
