// Package chartkind provides shared constants and validation for chart kinds
package chartkind

import "strings"

// Chart kind constants
const (
	Line     = "line"
	Bar      = "bar"
	Radar    = "radar"
	Pie      = "pie"
	Doughnut = "doughnut"
)

// ValidKinds contains all valid chart kind values
var ValidKinds = []string{Line, Bar, Radar, Pie, Doughnut}

// DefaultPalette holds the colour cycle assigned to graph entries that do not
// configure one. Order matters: entry N gets colour N mod len.
var DefaultPalette = []string{
	"#3b82f6",
	"#10b981",
	"#f59e0b",
	"#ef4444",
	"#8b5cf6",
	"#ec4899",
	"#06b6d4",
	"#84cc16",
}

// IsValid checks if the given kind is in the list of valid chart kinds
func IsValid(kind string) bool {
	for _, validKind := range ValidKinds {
		if kind == validKind {
			return true
		}
	}
	return false
}

// GetValidKindsString returns a comma-separated string of valid kinds for error messages
func GetValidKindsString() string {
	return "line, bar, radar, pie, doughnut"
}

// Sanitize normalises a requested chart kind. Unknown or empty values fall
// back to a line chart so a bad settings payload never blocks rendering.
func Sanitize(kind string) string {
	k := strings.ToLower(strings.TrimSpace(kind))
	if IsValid(k) {
		return k
	}
	return Line
}

// PaletteColor returns the default colour for the i-th configured graph.
func PaletteColor(i int) string {
	if i < 0 {
		i = -i
	}
	return DefaultPalette[i%len(DefaultPalette)]
}
