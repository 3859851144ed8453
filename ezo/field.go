package ezo

import (
	"math"
	"strconv"
	"strings"
)

// mid returns at most n bytes of s starting at pos. Out of range positions
// yield an empty string instead of panicking on short frames.
func mid(s string, pos, n int) string {
	if pos < 0 || pos >= len(s) || n <= 0 {
		return ""
	}
	if pos+n > len(s) {
		return s[pos:]
	}
	return s[pos : pos+n]
}

// field returns the i-th comma separated field of s, or "" if s has fewer fields
func field(s string, i int) string {
	f := strings.Split(s, ",")
	if i < 0 || i >= len(f) {
		return ""
	}
	return f[i]
}

// parseNumber decodes a plain decimal number. Anything else, including
// hex floats, "Inf" and "NaN" spellings accepted by strconv, yields NaN.
func parseNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN()
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && c != '.' && c != '-' && c != '+' && c != 'e' && c != 'E' {
			return math.NaN()
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) {
		return math.NaN()
	}
	return f
}

// inRange reports whether f is a finite number strictly between lo and hi
func inRange(f, lo, hi float64) bool {
	return !math.IsNaN(f) && f > lo && f < hi
}
