package version

import (
	"strconv"
	"strings"
)

// parseSemver extracts the major.minor.patch triple from a version string.
// The leading "v" prefix, prerelease suffix (-beta) and build metadata
// (+sha) are discarded. Missing or non-numeric parts parse as zero, so
// "2.0" becomes {2, 0, 0} and garbage becomes {0, 0, 0}.
func parseSemver(v string) [3]int {
	v = strings.TrimPrefix(v, "v")

	// Cut prerelease and build metadata, keep the core version
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}

	var out [3]int
	parts := strings.Split(v, ".")
	for i := 0; i < len(parts) && i < 3; i++ {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			continue
		}
		out[i] = n
	}
	return out
}

// isNewer reports whether latest is a strictly newer release than current.
// Comparison is on the core major.minor.patch only; prerelease tags and
// build metadata never tip the order.
func isNewer(latest, current string) bool {
	l := parseSemver(latest)
	c := parseSemver(current)

	for i := 0; i < 3; i++ {
		if l[i] != c[i] {
			return l[i] > c[i]
		}
	}
	return false
}
