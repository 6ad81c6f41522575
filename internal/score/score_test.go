package score

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAmount(t *testing.T) {
	tests := []struct {
		name      string
		a         float64
		b         float64
		tolerance float64
		want      float64
	}{
		{name: "exact match", a: 1000.00, b: 1000.00, tolerance: 0.05, want: 1.0},
		{name: "opposite signs exact", a: -1000.00, b: 1000.00, tolerance: 0.05, want: 1.0},
		{name: "both zero", a: 0, b: 0, tolerance: 0.05, want: 1.0},
		{name: "zero against nonzero", a: 0, b: 50, tolerance: 0.05, want: 0.0},
		{name: "just above tolerance", a: 100, b: 106, tolerance: 0.05, want: 0.0},
		{name: "far apart", a: 100, b: 500, tolerance: 0.05, want: 0.0},
		{name: "zero tolerance inexact", a: 100, b: 100.01, tolerance: 0, want: 0.0},
		{name: "zero tolerance exact", a: 100, b: 100, tolerance: 0, want: 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Amount(tt.a, tt.b, tt.tolerance), 1e-9)
		})
	}
}

func TestAmount_SmallDiffRetainsMostOfScore(t *testing.T) {
	// 0.2% difference under a 5% tolerance loses only a sliver of the score.
	got := Amount(-1000.00, 998.00, 0.05)
	assert.Greater(t, got, 0.95)
	assert.Less(t, got, 1.0)
}

func TestAmount_MonotonicWithinTolerance(t *testing.T) {
	const tolerance = 0.05
	prev := Amount(1000, 1000, tolerance)

	for b := 1000.0; b <= 1050.0; b += 0.5 {
		s := Amount(1000, b, tolerance)
		assert.LessOrEqual(t, s, prev, "score must not increase as the diff grows (b=%v)", b)
		prev = s
	}
}

func TestDate(t *testing.T) {
	base := time.Date(2025, 10, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		b      time.Time
		name   string
		window int
		want   float64
	}{
		{name: "same day", b: base, window: 7, want: 1.0},
		{name: "same day different time", b: base.Add(16 * time.Hour), window: 7, want: 1.0},
		{name: "one day off", b: base.AddDate(0, 0, 1), window: 7, want: 1.0 - 1.0/7.0},
		{name: "at window edge", b: base.AddDate(0, 0, 7), window: 7, want: 0.0},
		{name: "beyond window", b: base.AddDate(0, 0, 8), window: 7, want: 0.0},
		{name: "before seed date", b: base.AddDate(0, 0, -2), window: 7, want: 1.0 - 2.0/7.0},
		{name: "zero window off day", b: base.AddDate(0, 0, 1), window: 0, want: 0.0},
		{name: "zero window same day", b: base, window: 0, want: 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Date(base, tt.b, tt.window), 1e-9)
		})
	}
}

func TestDate_MonotonicAcrossWindow(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	prev := 1.1

	for d := 0; d <= 40; d++ {
		s := Date(base, base.AddDate(0, 0, d), 30)
		assert.LessOrEqual(t, s, prev, "day %d", d)
		prev = s
	}
}

func TestName(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want float64
	}{
		{name: "identical", a: "Acme Corp", b: "acme corp", want: 1.0},
		{name: "legal suffix stripped", a: "ACME INC", b: "Acme, Incorporated", want: 1.0},
		{name: "the prefix stripped", a: "The Hartford Company", b: "HARTFORD CO.", want: 1.0},
		{name: "empty left", a: "", b: "Acme", want: 0.0},
		{name: "empty right", a: "Acme", b: "", want: 0.0},
		{name: "punctuation only", a: "...", b: "Acme", want: 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Name(tt.a, tt.b), 1e-9)
		})
	}
}

func TestName_SimilarButNotIdentical(t *testing.T) {
	got := Name("Acme Widgets", "Acme Widget")
	assert.Greater(t, got, 0.9)
	assert.Less(t, got, 1.0)

	unrelated := Name("Acme Widgets", "Zebra Holdings")
	assert.Less(t, unrelated, got)
}

func TestText(t *testing.T) {
	assert.InDelta(t, 1.0, Text("PAYMENT #123 - RENT", "payment 123 rent"), 1e-9)
	assert.Equal(t, 0.0, Text("", "anything"))

	// Text keeps tokens that Name would strip as legal suffixes.
	assert.InDelta(t, 1.0, Text("transfer to co", "TRANSFER TO CO"), 1e-9)
}
