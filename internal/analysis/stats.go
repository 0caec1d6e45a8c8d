package analysis

import (
	"math"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/stat"

	"github.com/fieldline-data/scout.report/internal/chartdata"
)

// insightLimit caps the leaders and consistency lists.
const insightLimit = 3

// TeamStat summarizes one team's numeric values for one field.
type TeamStat struct {
	Team    string  `json:"team"`
	Average float64 `json:"average"`
	Max     float64 `json:"max"`
	Min     float64 `json:"min"`
	StdDev  float64 `json:"std_dev"`
	Count   int     `json:"count"`
}

// Leader is the team with the best average for one field.
type Leader struct {
	Field   string  `json:"field"`
	Label   string  `json:"label"`
	Team    string  `json:"team"`
	Average float64 `json:"average"`
}

// ConsistencyEntry is the team with the narrowest value range for one field.
type ConsistencyEntry struct {
	Field string  `json:"field"`
	Label string  `json:"label"`
	Team  string  `json:"team"`
	Range float64 `json:"range"`
}

// DeviceActivity is one device's contribution to the merged data.
type DeviceActivity struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Status  string `json:"status"`
}

// Quality counts how much of the loaded data was usable.
type Quality struct {
	RowsLoaded        int `json:"rows_loaded"`
	RowsKept          int `json:"rows_kept"`
	DuplicatesRemoved int `json:"duplicates_removed"`
	TeamsWithData     int `json:"teams_with_data"`
	MissingTeamRows   int `json:"missing_team_rows"`
	MissingMatchRows  int `json:"missing_match_rows"`
}

// Report is the full analyze payload.
type Report struct {
	Warnings         []string              `json:"warnings"`
	Quality          Quality               `json:"quality"`
	TeamStats        map[string][]TeamStat `json:"team_stats"`
	Leaders          []Leader              `json:"leaders"`
	Consistency      []ConsistencyEntry    `json:"consistency"`
	Devices          []DeviceActivity      `json:"device_statuses"`
	DevicesExpected  int                   `json:"devices_expected"`
	DevicesReporting int                   `json:"devices_reporting"`

	// Records is the merged record set the report was computed over.
	Records []chartdata.Record `json:"-"`
}

// Options configures Analyze.
type Options struct {
	// Schema supplies field types and choice ordinals for numeric
	// extraction. May be nil.
	Schema *chartdata.Schema
	// Fields are the survey fields to compute team stats and insights for.
	Fields []string
	// ExpectedDevices sizes the device status summary.
	ExpectedDevices int
}

// Analyze derives the full report from a merge.
func Analyze(merged MergeResult, opts Options) *Report {
	report := &Report{
		Warnings:        merged.Warnings,
		Records:         merged.Records,
		TeamStats:       make(map[string][]TeamStat, len(opts.Fields)),
		DevicesExpected: opts.ExpectedDevices,
	}
	if report.Warnings == nil {
		report.Warnings = []string{}
	}

	report.Quality = quality(merged)

	for _, field := range opts.Fields {
		stats := FieldStats(opts.Schema, field, merged.Records)
		if len(stats) == 0 {
			continue
		}
		report.TeamStats[field] = stats

		label := chartdata.TitleForField(field)
		if leader, ok := bestAverage(stats); ok && len(report.Leaders) < insightLimit {
			report.Leaders = append(report.Leaders, Leader{
				Field:   field,
				Label:   label,
				Team:    leader.Team,
				Average: leader.Average,
			})
		}
		if steady, ok := narrowestRange(stats); ok && len(report.Consistency) < insightLimit {
			report.Consistency = append(report.Consistency, ConsistencyEntry{
				Field: field,
				Label: label,
				Team:  steady.Team,
				Range: round2(steady.Max - steady.Min),
			})
		}
	}

	report.Devices = DeviceStatuses(merged.Records)
	report.DevicesReporting = len(report.Devices)

	return report
}

func quality(merged MergeResult) Quality {
	q := Quality{
		RowsLoaded:        merged.RowsLoaded,
		RowsKept:          len(merged.Records),
		DuplicatesRemoved: merged.DuplicatesRemoved,
	}
	teams := make(map[string]bool)
	for _, rec := range merged.Records {
		team := firstValue(rec, "team", "team_number")
		if team == "" {
			q.MissingTeamRows++
		} else {
			teams[team] = true
		}
		if firstValue(rec, "match", "match_number") == "" {
			q.MissingMatchRows++
		}
	}
	q.TeamsWithData = len(teams)
	return q
}

// FieldStats groups one field's numeric values by team. Teams appear in
// first-seen order, then sorted by team number; teams whose values never
// parse still appear, zeroed, so the comparison table shows them.
func FieldStats(s *chartdata.Schema, field string, records []chartdata.Record) []TeamStat {
	var categorical map[string]float64
	if s != nil {
		categorical = chartdata.OrdinalMap(s.Entries[field])
	}

	order := []string{}
	values := make(map[string][]float64)
	for _, rec := range records {
		team := firstValue(rec, "team", "team_number")
		if team == "" {
			continue
		}
		if _, ok := values[team]; !ok {
			order = append(order, team)
			values[team] = nil
		}
		raw, ok := rec[field]
		if !ok {
			continue
		}
		if v, ok := chartdata.ParseNumericLike(raw, categorical, true); ok {
			values[team] = append(values[team], v)
		}
	}

	stats := make([]TeamStat, 0, len(order))
	for _, team := range order {
		vals := values[team]
		ts := TeamStat{Team: team, Count: len(vals)}
		if len(vals) > 0 {
			ts.Average = round2(stat.Mean(vals, nil))
			ts.Max = maxOf(vals)
			ts.Min = minOf(vals)
			if len(vals) > 1 {
				ts.StdDev = round2(stat.StdDev(vals, nil))
			}
		}
		stats = append(stats, ts)
	}

	sort.SliceStable(stats, func(i, j int) bool {
		return teamNumber(stats[i].Team) < teamNumber(stats[j].Team)
	})
	return stats
}

// bestAverage returns the team with the highest average; ties keep the
// earlier (lower-numbered) team.
func bestAverage(stats []TeamStat) (TeamStat, bool) {
	var best TeamStat
	found := false
	for _, ts := range stats {
		if ts.Count == 0 {
			continue
		}
		if !found || ts.Average > best.Average {
			best = ts
			found = true
		}
	}
	return best, found
}

// narrowestRange returns the team with the smallest max-min spread; ties
// keep the earlier (lower-numbered) team.
func narrowestRange(stats []TeamStat) (TeamStat, bool) {
	var best TeamStat
	found := false
	for _, ts := range stats {
		if ts.Count == 0 {
			continue
		}
		if !found || ts.Max-ts.Min < best.Max-best.Min {
			best = ts
			found = true
		}
	}
	return best, found
}

// DeviceStatuses counts entries per device in the merged data, sorted by
// device name.
func DeviceStatuses(records []chartdata.Record) []DeviceActivity {
	order := []string{}
	counts := make(map[string]int)
	for _, rec := range records {
		name := firstValue(rec, "device_name", "device_id")
		if name == "" {
			name = "unknown"
		}
		if _, ok := counts[name]; !ok {
			order = append(order, name)
		}
		counts[name]++
	}

	sort.Strings(order)
	statuses := make([]DeviceActivity, 0, len(order))
	for _, name := range order {
		statuses = append(statuses, DeviceActivity{
			Name:    name,
			Entries: counts[name],
			Status:  "synced",
		})
	}
	return statuses
}

// RadarScores scores one team's fields against the field's best team
// average: 100 means this team has the best average, 0 the worst possible.
// Fields where no team has data, or where the best average is not positive,
// are left out of the map so the radar overview falls back.
func RadarScores(s *chartdata.Schema, fields []string, team string, records []chartdata.Record) map[string]float64 {
	scores := make(map[string]float64, len(fields))
	for _, field := range fields {
		stats := FieldStats(s, field, records)
		best, ok := bestAverage(stats)
		if !ok || best.Average <= 0 {
			continue
		}
		for _, ts := range stats {
			if ts.Team != team || ts.Count == 0 {
				continue
			}
			score := ts.Average / best.Average * 100
			if score < 0 {
				score = 0
			}
			if score > 100 {
				score = 100
			}
			scores[field] = math.Round(score*10) / 10
			break
		}
	}
	return scores
}

// teamNumber orders teams numerically; anything non-numeric sorts as zero.
func teamNumber(team string) int {
	n, err := strconv.Atoi(team)
	if err != nil {
		return 0
	}
	return n
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func maxOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func minOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
