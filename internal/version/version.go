// Package version compares dotted version strings the way database servers report them
// ("8.0.33", "16.2 (Debian 16.2-1.pgdg120+2)", "3.45.1").
package version

import "strings"

// Compare returns -1, 0 or 1 when a is older than, equal to or newer than b.
// Each dot-separated segment is compared by the integer value of its leading digit run;
// a segment without leading digits counts as 0 and missing trailing segments count as 0.
func Compare(a, b string) int {
	as := strings.Split(strings.TrimSpace(a), ".")
	bs := strings.Split(strings.TrimSpace(b), ".")
	n := max(len(as), len(bs))
	for i := range n {
		var x, y string
		if i < len(as) {
			x = leadingDigits(as[i])
		}
		if i < len(bs) {
			y = leadingDigits(bs[i])
		}
		if c := compareDigits(x, y); c != 0 {
			return c
		}
	}
	return 0
}

// InRange reports whether v lies within [lo, hi]. An empty bound is unbounded.
func InRange(v, lo, hi string) bool {
	if strings.TrimSpace(lo) != "" && Compare(v, lo) < 0 {
		return false
	}
	if strings.TrimSpace(hi) != "" && Compare(v, hi) > 0 {
		return false
	}
	return true
}

// Normalize keeps the leading "x.y.z" part of a server version banner.
func Normalize(v string) string {
	v = strings.TrimSpace(v)
	end := 0
	for end < len(v) && (isDigit(v[end]) || v[end] == '.') {
		end++
	}
	return strings.TrimRight(v[:end], ".")
}

func leadingDigits(s string) string {
	end := 0
	for end < len(s) && isDigit(s[end]) {
		end++
	}
	return strings.TrimLeft(s[:end], "0")
}

// compareDigits compares two digit runs without leading zeros as unbounded integers.
func compareDigits(x, y string) int {
	if len(x) != len(y) {
		if len(x) < len(y) {
			return -1
		}
		return 1
	}
	return strings.Compare(x, y)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
