package ezo

import (
	"encoding/json"
	"math"
	"testing"
)

func TestMid(t *testing.T) {
	for _, tc := range []struct {
		s      string
		pos, n int
		want   string
	}{
		{"?T,25.00", 3, 5, "25.00"},
		{"?T,25", 3, 5, "25"},
		{"?L,", 3, 1, ""},
		{"abc", -1, 2, ""},
		{"abc", 1, 0, ""},
	} {
		if got := mid(tc.s, tc.pos, tc.n); got != tc.want {
			t.Errorf("mid(%q, %d, %d): expected %q, got %q", tc.s, tc.pos, tc.n, tc.want, got)
		}
	}
}

func TestParseNumber(t *testing.T) {
	for s, want := range map[string]float64{
		"7.234":  7.234,
		"-225.4": -225.4,
		" 25.0 ": 25,
		"1e2":    100,
	} {
		if got := parseNumber(s); got != want {
			t.Errorf("parseNumber(%q): expected %v, got %v", s, want, got)
		}
	}
	for _, s := range []string{"", "abc", "0x1p-2", "Inf", "NaN", "1_000", "7.2.3", "1e999"} {
		if got := parseNumber(s); !math.IsNaN(got) {
			t.Errorf("parseNumber(%q): expected NaN, got %v", s, got)
		}
	}
}

func TestValueJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		A Value `json:"a"`
		B Value `json:"b"`
	}{B: NewValue(7.25)})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"a":null,"b":7.25}` {
		t.Errorf("Unexpected JSON %s", b)
	}
}
