// Package version carries build metadata stamped at link time and the
// release tag comparison used by the update checker.
package version

import (
	"strconv"
	"strings"
)

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// Compare orders two dotted numeric version strings, ignoring a leading
// "v" and anything after a "-" or "+". It returns -1 when a is older
// than b, 0 when equal and 1 when newer. Non-numeric segments count as
// zero, so "dev" sorts below every released tag.
func Compare(a, b string) int {
	as := segments(a)
	bs := segments(b)

	for i := 0; i < len(as) || i < len(bs); i++ {
		av, bv := 0, 0
		if i < len(as) {
			av = as[i]
		}
		if i < len(bs) {
			bv = bs[i]
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	}
	return 0
}

// Newer reports whether candidate is a strictly newer version than current.
func Newer(candidate, current string) bool {
	return Compare(candidate, current) > 0
}

func segments(v string) []int {
	v = strings.TrimSpace(v)
	if len(v) > 0 && (v[0] == 'v' || v[0] == 'V') {
		v = v[1:]
	}
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}

	parts := strings.Split(v, ".")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			n = 0
		}
		out = append(out, n)
	}
	return out
}
