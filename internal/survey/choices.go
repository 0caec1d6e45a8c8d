package survey

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fieldline-data/scout.report/internal/chartdata"
)

// choicePair is an ordered (stored value, display text) pair.
type choicePair struct {
	value string
	text  string
}

// ChoiceLabelMaps builds field name -> (lowercased stored value -> label)
// for every field that has a discrete value set. Both the stored value and
// the label itself key to the label, so already-decoded CSV cells still
// resolve.
func (s *Survey) ChoiceLabelMaps() map[string]map[string]string {
	maps := make(map[string]map[string]string)
	for _, e := range s.elements {
		name := e.Name()
		if name == "" {
			continue
		}
		if _, ok := maps[name]; ok {
			continue
		}
		if m := labelMapFor(e); len(m) > 0 {
			maps[name] = m
		}
	}
	return maps
}

// ChoiceDisplayEntries builds field name -> ordered (value, label) entries,
// preserving configured order and dropping duplicate values.
func (s *Survey) ChoiceDisplayEntries() map[string][]chartdata.ChoiceEntry {
	byField := make(map[string][]chartdata.ChoiceEntry)
	for _, e := range s.elements {
		name := e.Name()
		if name == "" {
			continue
		}
		if _, ok := byField[name]; ok {
			continue
		}
		if entries := displayEntriesFor(e); len(entries) > 0 {
			byField[name] = entries
		}
	}
	return byField
}

func labelMapFor(e Element) map[string]string {
	pairs := pairsFor(e, true)
	if len(pairs) == 0 {
		return nil
	}
	mapping := make(map[string]string, len(pairs)*2)
	for _, p := range pairs {
		key := strings.ToLower(strings.TrimSpace(p.value))
		text := strings.TrimSpace(p.text)
		if key == "" || text == "" {
			continue
		}
		mapping[key] = text
		mapping[strings.ToLower(text)] = text
	}
	return mapping
}

func displayEntriesFor(e Element) []chartdata.ChoiceEntry {
	pairs := pairsFor(e, false)
	if len(pairs) == 0 {
		return nil
	}
	entries := make([]chartdata.ChoiceEntry, 0, len(pairs))
	seen := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		value := strings.TrimSpace(p.value)
		label := strings.TrimSpace(p.text)
		if label == "" {
			label = value
		}
		if value == "" || seen[value] {
			continue
		}
		seen[value] = true
		entries = append(entries, chartdata.ChoiceEntry{Value: value, Label: label})
	}
	return entries
}

// pairsFor extracts the element's value/label pairs. Boolean fields expand
// to alias keys (1/0, yes/no) only for lookup maps, not display order.
func pairsFor(e Element, aliases bool) []choicePair {
	switch e.Type() {
	case "rating":
		if pairs := listPairs(e, "rateValues"); len(pairs) > 0 {
			return pairs
		}
		return ratingScalePairs(e)
	case "dropdown", "radiogroup", "checkbox", "tagbox":
		return listPairs(e, "choices")
	case "boolean":
		trueLabel := strings.TrimSpace(stringAt(e, "labelTrue"))
		if trueLabel == "" {
			trueLabel = "Yes"
		}
		falseLabel := strings.TrimSpace(stringAt(e, "labelFalse"))
		if falseLabel == "" {
			falseLabel = "No"
		}
		pairs := []choicePair{{"true", trueLabel}, {"false", falseLabel}}
		if aliases {
			pairs = append(pairs,
				choicePair{"1", trueLabel}, choicePair{"0", falseLabel},
				choicePair{"yes", trueLabel}, choicePair{"no", falseLabel},
			)
		}
		return pairs
	}
	return nil
}

// listPairs reads a schema choice collection: entries are either scalars
// or {value, text} objects.
func listPairs(e Element, key string) []choicePair {
	raw, ok := e[key].([]any)
	if !ok {
		return nil
	}

	pairs := make([]choicePair, 0, len(raw))
	for _, item := range raw {
		var value, text string
		if m, ok := item.(map[string]any); ok {
			value = strings.TrimSpace(stringAt(m, "value"))
			if value == "" {
				value = strings.TrimSpace(stringAt(m, "text"))
			}
			text = strings.TrimSpace(stringAt(m, "text"))
			if text == "" {
				text = value
			}
		} else {
			value = strings.TrimSpace(anyString(item))
			text = value
		}
		if value == "" && text == "" {
			continue
		}
		if value == "" {
			value = text
		}
		if text == "" {
			text = value
		}
		pairs = append(pairs, choicePair{value, text})
	}
	return pairs
}

// ratingScalePairs synthesizes "Level N of M" labels from rateMin/rateMax or
// rateCount when a rating has no explicit rateValues.
func ratingScalePairs(e Element) []choicePair {
	rateMin := intAt(e, "rateMin", 1)
	rateCount := intAt(e, "rateCount", 0)
	if rateCount <= 0 {
		rateMax := intAt(e, "rateMax", rateMin)
		if rateMax >= rateMin {
			rateCount = rateMax - rateMin + 1
		}
	}
	rateMax := rateMin + max(rateCount-1, 0)

	pairs := make([]choicePair, 0, rateMax-rateMin+1)
	for i := rateMin; i <= rateMax; i++ {
		pairs = append(pairs, choicePair{
			value: strconv.Itoa(i),
			text:  fmt.Sprintf("Level %d of %d", i, rateMax),
		})
	}
	return pairs
}

func intAt(m map[string]any, key string, fallback int) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

func anyString(v any) string {
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
	case nil:
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
