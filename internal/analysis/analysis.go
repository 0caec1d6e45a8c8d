// Package analysis merges record sets from multiple scouting devices and
// derives the team comparison tables, insight lists, and data quality
// counters shown on the analyze page.
package analysis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fieldline-data/scout.report/internal/chartdata"
	"github.com/fieldline-data/scout.report/internal/csvio"
)

// Source is one contribution to a merge: the local store or an uploaded CSV.
type Source struct {
	Name    string
	Records []chartdata.Record

	// MissingColumns and ExtraColumns carry the header diagnostics from the
	// CSV import; the local store leaves them empty.
	MissingColumns []string
	ExtraColumns   []string
}

// SourceFromImport wraps a parsed CSV upload as a merge source.
func SourceFromImport(name string, res *csvio.ImportResult) Source {
	return Source{
		Name:           name,
		Records:        res.Records,
		MissingColumns: res.MissingColumns,
		ExtraColumns:   res.ExtraColumns,
	}
}

// MergeResult is the combined record set plus everything the analyze page
// reports about how the merge went.
type MergeResult struct {
	Records           []chartdata.Record
	RowsLoaded        int
	DuplicatesRemoved int
	Warnings          []string
}

// Merge concatenates the sources in order and removes duplicate rows: two
// rows match when they agree on device, match, and team. Rows where all
// three are empty are never treated as duplicates of each other. The first
// occurrence wins, so the local store should come first.
func Merge(sources ...Source) MergeResult {
	var result MergeResult

	missingSet := make(map[string]bool)
	extraSet := make(map[string]bool)
	for _, src := range sources {
		for _, f := range src.MissingColumns {
			missingSet[f] = true
		}
		for _, f := range src.ExtraColumns {
			extraSet[f] = true
		}
	}

	seen := make(map[string]bool)
	for _, src := range sources {
		result.RowsLoaded += len(src.Records)
		for _, rec := range src.Records {
			key, ok := dedupKey(rec)
			if ok {
				if seen[key] {
					result.DuplicatesRemoved++
					continue
				}
				seen[key] = true
			}
			result.Records = append(result.Records, rec)
		}
	}

	if len(missingSet) > 0 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Missing fields in uploaded CSVs: %s", strings.Join(sortedKeys(missingSet), ", ")))
	}
	if len(extraSet) > 0 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Extra fields found in uploads (not in current config): %s", strings.Join(sortedKeys(extraSet), ", ")))
	}
	if result.DuplicatesRemoved > 0 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Removed %d duplicate rows (same device + match + team).", result.DuplicatesRemoved))
	}

	return result
}

// dedupKey identifies a row by device, match, and team. ok is false when all
// three are empty, meaning the row cannot be deduplicated.
func dedupKey(rec chartdata.Record) (string, bool) {
	device := firstValue(rec, "device_id", "device_name")
	match := firstValue(rec, "match", "match_number")
	team := firstValue(rec, "team", "team_number")
	if device == "" && match == "" && team == "" {
		return "", false
	}
	return device + "\x00" + match + "\x00" + team, true
}

// firstValue returns the first non-empty stringified value among keys.
func firstValue(rec chartdata.Record, keys ...string) string {
	for _, k := range keys {
		if v, ok := rec[k]; ok {
			if s := strings.TrimSpace(csvio.CellString(v)); s != "" {
				return s
			}
		}
	}
	return ""
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
