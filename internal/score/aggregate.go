package score

import (
	"fmt"
	"math"

	"github.com/halcyon-labs/recon/internal/common"
	"github.com/halcyon-labs/recon/internal/model"
)

// weightEpsilon is the slack allowed when checking that weights sum to 1.0.
const weightEpsilon = 1e-6

// Weights maps each feature to its share of the aggregate confidence.
type Weights map[model.Feature]float64

// Validate fails fast on weight maps that do not sum to 1.0 or contain
// negative entries. A bad weight map is a configuration bug, not a runtime
// condition to tolerate.
func (w Weights) Validate() error {
	if len(w) == 0 {
		return fmt.Errorf("%w: weight map is empty", common.ErrValidation)
	}

	var sum float64
	for f, v := range w {
		if v < 0 {
			return fmt.Errorf("%w: weight for %s is negative (%v)", common.ErrValidation, f, v)
		}
		sum += v
	}

	if math.Abs(sum-1.0) > weightEpsilon {
		return fmt.Errorf("%w: weights sum to %v, expected 1.0", common.ErrValidation, sum)
	}
	return nil
}

// TierCuts holds the confidence thresholds separating decision tiers.
type TierCuts struct {
	AutoLink float64
	Suggest  float64
	Manual   float64
}

// DefaultTierCuts returns the standard decision thresholds.
func DefaultTierCuts() TierCuts {
	return TierCuts{
		AutoLink: 0.95,
		Suggest:  0.70,
		Manual:   0.50,
	}
}

// Validate ensures the cut points are ordered and within range.
func (c TierCuts) Validate() error {
	for name, v := range map[string]float64{
		"auto_link": c.AutoLink,
		"suggest":   c.Suggest,
		"manual":    c.Manual,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: tier cut %s = %v out of range [0,1]", common.ErrValidation, name, v)
		}
	}
	if !(c.Manual <= c.Suggest && c.Suggest <= c.AutoLink) {
		return fmt.Errorf("%w: tier cuts must be ordered manual <= suggest <= auto_link", common.ErrValidation)
	}
	return nil
}

// Aggregate combines per-feature scores into a single weighted confidence,
// clamped to [0,1]. A feature that is weighted but absent from the score map
// contributes 0: missing data degrades the confidence, it does not fail the
// computation. Scores outside [0,1] are rejected as validation errors.
func Aggregate(scores map[model.Feature]float64, weights Weights) (float64, error) {
	if err := weights.Validate(); err != nil {
		return 0, err
	}
	for f, s := range scores {
		if s < 0 || s > 1 {
			return 0, fmt.Errorf("%w: score for %s is %v, outside [0,1]", common.ErrValidation, f, s)
		}
	}

	var confidence float64
	for f, w := range weights {
		confidence += scores[f] * w
	}

	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return confidence, nil
}

// Tier classifies a confidence into a decision tier. Tiering is a pure
// function of the aggregate; it never inspects individual feature scores.
func Tier(confidence float64, cuts TierCuts) model.DecisionTier {
	switch {
	case confidence >= cuts.AutoLink:
		return model.TierAutoLink
	case confidence >= cuts.Suggest:
		return model.TierSuggest
	case confidence >= cuts.Manual:
		return model.TierManual
	default:
		return model.TierNone
	}
}
