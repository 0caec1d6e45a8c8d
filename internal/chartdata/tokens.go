package chartdata

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Words that map to 1 or 0 when a token is not directly numeric. Mirrors how
// scouts record pass/fail style answers as free text.
var (
	truthyWords = map[string]bool{
		"yes": true, "true": true, "complete": true, "completed": true, "pass": true,
	}
	falsyWords = map[string]bool{
		"no": true, "false": true, "failed": true, "fail": true, "incomplete": true,
	}
)

// embeddedNumber matches the first signed decimal inside a token, so values
// like "around 12pts" or "+3.5 bonus" still chart.
var embeddedNumber = regexp.MustCompile(`[-+]?\d*\.?\d+`)

// SplitTokens breaks a raw stored cell into discrete tokens. Bracketed values
// are tried as JSON arrays first (multi-select answers are stored that way);
// a malformed array falls through to plain-string handling. When
// allowDelimiterSplit is set, comma wins over semicolon; otherwise the whole
// string is a single token. Tokens are trimmed and blanks dropped.
func SplitTokens(raw string, allowDelimiterSplit bool) []string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}

	if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
		if toks, ok := parseJSONArray(trimmed); ok {
			return toks
		}
	}

	var parts []string
	switch {
	case !allowDelimiterSplit:
		parts = []string{trimmed}
	case strings.Contains(trimmed, ","):
		parts = strings.Split(trimmed, ",")
	case strings.Contains(trimmed, ";"):
		parts = strings.Split(trimmed, ";")
	default:
		parts = []string{trimmed}
	}

	return cleanTokens(parts)
}

func parseJSONArray(raw string) ([]string, bool) {
	var elems []any
	if err := json.Unmarshal([]byte(raw), &elems); err != nil {
		return nil, false
	}
	parts := make([]string, 0, len(elems))
	for _, e := range elems {
		parts = append(parts, rawString(e))
	}
	return cleanTokens(parts), true
}

func cleanTokens(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// ParseNumericLike extracts a numeric value from a raw stored value, or
// reports that none exists. A record with no numeric value is excluded from
// trend series and statistics; it is never treated as zero. Resolution order
// for a single token: direct float parse, boolean-like words, first embedded
// signed decimal, then an ordinal from the supplied categorical map.
// Multi-token values resolve to the maximum of their parseable tokens.
func ParseNumericLike(value any, categorical map[string]float64, allowDelimiterSplit bool) (float64, bool) {
	if n, ok := rawNumber(value); ok {
		return n, true
	}

	tokens := SplitTokens(rawString(value), allowDelimiterSplit)
	if len(tokens) == 0 {
		return 0, false
	}

	if len(tokens) > 1 {
		best, found := 0.0, false
		for _, tok := range tokens {
			if v, ok := ParseNumericLike(tok, categorical, false); ok {
				if !found || v > best {
					best, found = v, true
				}
			}
		}
		return best, found
	}

	tok := tokens[0]
	if v, err := strconv.ParseFloat(tok, 64); err == nil {
		return rawNumber(v)
	}

	lower := strings.ToLower(tok)
	if truthyWords[lower] {
		return 1, true
	}
	if falsyWords[lower] {
		return 0, true
	}

	if m := embeddedNumber.FindString(tok); m != "" {
		if v, err := strconv.ParseFloat(m, 64); err == nil {
			return rawNumber(v)
		}
	}

	if categorical != nil {
		if v, ok := categorical[lower]; ok {
			return v, true
		}
	}

	return 0, false
}

// OrdinalMap assigns a stable 1-based ordinal to each configured choice, in
// display order. Both the stored value and its display label key the same
// ordinal, since exports may carry either form. It feeds ParseNumericLike's
// categorical fallback so rating-style answers ("Bronze", "Silver", "Gold")
// still trend.
func OrdinalMap(entries []ChoiceEntry) map[string]float64 {
	if len(entries) == 0 {
		return nil
	}
	m := make(map[string]float64, len(entries)*2)
	next := 1.0
	for _, e := range entries {
		key := strings.ToLower(strings.TrimSpace(e.Value))
		if key == "" {
			continue
		}
		if _, seen := m[key]; seen {
			continue
		}
		m[key] = next
		if label := strings.ToLower(strings.TrimSpace(e.Label)); label != "" {
			if _, seen := m[label]; !seen {
				m[label] = next
			}
		}
		next++
	}
	return m
}
