// Package score implements per-feature similarity scoring and confidence
// aggregation. Everything in this package is a pure function: no I/O, and no
// scorer ever returns an error for well-typed input; degenerate inputs
// degrade to a 0.0 score instead.
package score

import (
	"math"
	"time"
)

// Amount scores the similarity of two magnitudes in [0,1]. Signs are ignored:
// a -1000.00 debit and a +1000.00 credit are an exact magnitude match. The
// relative difference d = |a-b| / min(|a|,|b|) retains most of the score up to
// the tolerance edge, where a small penalty of up to 5% applies; anything past
// the tolerance scores zero.
func Amount(a, b, tolerance float64) float64 {
	a = math.Abs(a)
	b = math.Abs(b)

	if a == b {
		return 1.0
	}
	if tolerance <= 0 {
		return 0.0
	}

	smaller := math.Min(a, b)
	if smaller == 0 {
		// Relative difference is undefined against zero.
		return 0.0
	}

	d := math.Abs(a-b) / smaller
	if d > tolerance {
		return 0.0
	}

	return 1.0 - (d/tolerance)*0.05
}

// Date scores temporal proximity in [0,1]. Same calendar day scores 1.0, then
// the score decays linearly as 1 - diffDays/windowDays, reaching exactly 0.0
// at the window edge and staying there beyond it. The decay is monotonic and
// continuous at the boundary.
func Date(a, b time.Time, windowDays int) float64 {
	diff := dateDiffDays(a, b)
	if diff == 0 {
		return 1.0
	}
	if windowDays <= 0 {
		return 0.0
	}

	s := 1.0 - float64(diff)/float64(windowDays)
	if s < 0 {
		return 0.0
	}
	return s
}

// dateDiffDays returns the absolute difference between two dates in whole
// calendar days, ignoring the time-of-day component.
func dateDiffDays(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)

	diff := int(da.Sub(db).Hours() / 24)
	if diff < 0 {
		diff = -diff
	}
	return diff
}
