// Command mergecsv combines CSV exports from multiple scouting devices into
// one deduplicated file, without running the server. Files merge in argument
// order; when rows collide (same device, match, and team) the earliest file
// wins. Columns the survey schema does not know about are kept.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/fieldline-data/scout.report/internal/analysis"
	"github.com/fieldline-data/scout.report/internal/csvio"
	"github.com/fieldline-data/scout.report/internal/survey"
)

var (
	outFile    = flag.String("out", "merged.csv", "Output path for the merged CSV (use - for stdout)")
	surveyFile = flag.String("survey", "", "Survey schema for the expected column check (default: built-in survey)")
	quiet      = flag.Bool("quiet", false, "Suppress the merge summary")
)

func main() {
	flag.Parse()

	inputs := flag.Args()
	if len(inputs) == 0 {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] file.csv [file.csv ...]\n\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
		os.Exit(1)
	}

	form, err := loadSchema(*surveyFile)
	if err != nil {
		log.Fatalf("failed to load survey: %v", err)
	}
	expected := form.FieldNames()

	fields := append([]string{}, expected...)
	seenField := make(map[string]bool, len(fields))
	for _, f := range fields {
		seenField[f] = true
	}

	sources := make([]analysis.Source, 0, len(inputs))
	for _, path := range inputs {
		f, err := os.Open(path)
		if err != nil {
			log.Fatalf("failed to open %s: %v", path, err)
		}
		res, err := csvio.Import(f, expected)
		f.Close()
		if err != nil {
			log.Fatalf("failed to parse %s: %v", path, err)
		}

		if !*quiet {
			note := ""
			if res.SkippedRows > 0 {
				note = fmt.Sprintf(" (%d unparseable rows skipped)", res.SkippedRows)
			}
			fmt.Fprintf(os.Stderr, "%s: %d rows%s\n", path, len(res.Records), note)
		}

		for _, col := range res.ExtraColumns {
			if !seenField[col] {
				seenField[col] = true
				fields = append(fields, col)
			}
		}

		sources = append(sources, analysis.SourceFromImport(filepath.Base(path), res))
	}

	merged := analysis.Merge(sources...)

	out := os.Stdout
	if *outFile != "-" {
		out, err = os.Create(*outFile)
		if err != nil {
			log.Fatalf("failed to create %s: %v", *outFile, err)
		}
		defer out.Close()
	}

	if err := csvio.Export(out, fields, merged.Records); err != nil {
		log.Fatalf("failed to write merged CSV: %v", err)
	}

	if !*quiet {
		fmt.Fprintf(os.Stderr, "Merged %d rows from %d files into %d (%d duplicates removed)\n",
			merged.RowsLoaded, len(inputs), len(merged.Records), merged.DuplicatesRemoved)
		for _, w := range merged.Warnings {
			fmt.Fprintf(os.Stderr, "  warning: %s\n", w)
		}
		if *outFile != "-" {
			fmt.Fprintf(os.Stderr, "Wrote %s\n", *outFile)
		}
	}
}

func loadSchema(path string) (*survey.Survey, error) {
	if path == "" {
		return survey.DefaultSurvey()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return survey.Parse(data)
}
