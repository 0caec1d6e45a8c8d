// Package csvio reads and writes the CSV interchange format scouting devices
// use to swap records. Exports lead with the metadata columns so merged files
// stay attributable; imports are tolerant of missing and unknown columns so a
// device running an older survey can still contribute rows.
package csvio

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fieldline-data/scout.report/internal/chartdata"
)

// BaseColumns are the metadata columns ahead of the survey field columns in
// every export.
var BaseColumns = []string{
	"timestamp",
	"event_name",
	"event_season",
	"config_id",
	"device_id",
	"device_name",
}

// EscapeFormula neutralizes cells a spreadsheet would execute by prefixing
// an apostrophe. Negative numbers get escaped too; UnescapeFormula restores
// them on import.
func EscapeFormula(s string) string {
	if s == "" {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@':
		return "'" + s
	}
	return s
}

// UnescapeFormula reverses EscapeFormula. Only the exact prefix the writer
// produces is stripped, so genuine leading apostrophes survive.
func UnescapeFormula(s string) string {
	if len(s) >= 2 && s[0] == '\'' {
		switch s[1] {
		case '=', '+', '-', '@':
			return s[1:]
		}
	}
	return s
}

// Export writes records as CSV: BaseColumns then fields, in order, skipping
// duplicate column names. Cell values are formula-escaped.
func Export(w io.Writer, fields []string, records []chartdata.Record) error {
	header := make([]string, 0, len(BaseColumns)+len(fields))
	seen := make(map[string]bool, len(BaseColumns)+len(fields))
	for _, col := range append(append([]string{}, BaseColumns...), fields...) {
		if col == "" || seen[col] {
			continue
		}
		seen[col] = true
		header = append(header, col)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	row := make([]string, len(header))
	for _, rec := range records {
		for i, col := range header {
			row[i] = EscapeFormula(CellString(rec[col]))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// CellString renders a record value as a CSV cell. Lists and objects are
// JSON-encoded so multi-select answers round-trip through the tokenizer.
func CellString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}

// ImportResult is one parsed CSV file.
type ImportResult struct {
	Records []chartdata.Record

	// MissingColumns are expected survey fields absent from the header.
	MissingColumns []string
	// ExtraColumns are header columns that are neither metadata nor expected
	// survey fields, in header order. Their values are still imported.
	ExtraColumns []string
	// SkippedRows counts rows dropped for CSV syntax errors.
	SkippedRows int
}

// Import parses one CSV file. Rows map header column to cell value; short
// rows leave trailing columns absent rather than empty. Unparseable rows are
// skipped, not fatal.
func Import(r io.Reader, expectedFields []string) (*ImportResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	result := &ImportResult{}

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty CSV file")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}

	known := make(map[string]bool, len(BaseColumns)+len(expectedFields))
	for _, col := range BaseColumns {
		known[col] = true
	}
	inHeader := make(map[string]bool, len(header))
	for _, col := range header {
		if col != "" {
			inHeader[col] = true
		}
	}
	for _, f := range expectedFields {
		known[f] = true
		if !inHeader[f] {
			result.MissingColumns = append(result.MissingColumns, f)
		}
	}
	seenExtra := make(map[string]bool)
	for _, col := range header {
		if col == "" || known[col] || seenExtra[col] {
			continue
		}
		seenExtra[col] = true
		result.ExtraColumns = append(result.ExtraColumns, col)
	}

	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			if _, ok := err.(*csv.ParseError); ok {
				result.SkippedRows++
				continue
			}
			return result, fmt.Errorf("failed to read CSV row: %w", err)
		}

		rec := make(chartdata.Record, len(header))
		for i, col := range header {
			if col == "" || i >= len(row) {
				continue
			}
			rec[col] = UnescapeFormula(row[i])
		}
		result.Records = append(result.Records, rec)
	}

	return result, nil
}
