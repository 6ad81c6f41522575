// Package finder discovers and ranks match candidates for unmatched items.
// The pre-filter always bounds the candidate pool (owner, opposite source,
// amount band, date window, not actively matched) before anything is scored;
// the full item table is never scored.
package finder

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/halcyon-labs/recon/internal/common"
	"github.com/halcyon-labs/recon/internal/model"
	"github.com/halcyon-labs/recon/internal/score"
	"github.com/halcyon-labs/recon/internal/service"
)

// CustomFeature couples a declared feature spec with the item field it reads.
type CustomFeature struct {
	Extract func(model.Item) string
	Spec    score.FeatureSpec
}

// Config holds the tolerances, weights, and bounds candidate discovery uses.
type Config struct {
	Weights           score.Weights
	Custom            []CustomFeature
	TierCuts          score.TierCuts
	AmountTolerance   float64
	DateWindowDays    int
	TopK              int
	BatchWorkers      int
	ConversionRateMin float64
	ConversionRateMax float64
}

// DefaultConfig returns the standard discovery configuration.
func DefaultConfig() Config {
	return Config{
		Weights: score.Weights{
			model.FeatureAmount: 0.4,
			model.FeatureDate:   0.3,
			model.FeatureParty:  0.2,
			model.FeatureText:   0.1,
		},
		TierCuts:        score.DefaultTierCuts(),
		AmountTolerance: 0.05,
		DateWindowDays:  7,
		TopK:            10,
		BatchWorkers:    4,
	}
}

// Validate fails fast on configuration bugs.
func (c Config) Validate() error {
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	if err := c.TierCuts.Validate(); err != nil {
		return err
	}
	if c.AmountTolerance < 0 {
		return fmt.Errorf("%w: amount tolerance %v is negative", common.ErrValidation, c.AmountTolerance)
	}
	if c.DateWindowDays < 0 {
		return fmt.Errorf("%w: date window %d is negative", common.ErrValidation, c.DateWindowDays)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("%w: top-k must be positive", common.ErrValidation)
	}
	if c.BatchWorkers <= 0 {
		return fmt.Errorf("%w: batch workers must be positive", common.ErrValidation)
	}
	if c.ConversionRateMin < 0 || c.ConversionRateMax < c.ConversionRateMin {
		return fmt.Errorf("%w: conversion rate range [%v,%v] is invalid",
			common.ErrValidation, c.ConversionRateMin, c.ConversionRateMax)
	}
	for _, cf := range c.Custom {
		if err := cf.Spec.Validate(); err != nil {
			return err
		}
		if cf.Extract == nil {
			return fmt.Errorf("%w: custom feature %q has no extractor", common.ErrValidation, cf.Spec.Name)
		}
		if _, ok := c.Weights[cf.Spec.Name]; !ok {
			return fmt.Errorf("%w: custom feature %q has no weight", common.ErrValidation, cf.Spec.Name)
		}
	}
	return nil
}

// CandidateFinder implements service.Finder over the storage pre-filter.
type CandidateFinder struct {
	storage     service.Storage
	comparators map[model.Feature]score.Comparator
	extractors  map[model.Feature]func(model.Item) string
	cfg         Config
}

// New creates a candidate finder, compiling custom comparators up front.
func New(storage service.Storage, cfg Config) (*CandidateFinder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	comparators := make(map[model.Feature]score.Comparator, len(cfg.Custom))
	extractors := make(map[model.Feature]func(model.Item) string, len(cfg.Custom))
	for _, cf := range cfg.Custom {
		cmp, err := score.ComparatorFor(cf.Spec)
		if err != nil {
			return nil, err
		}
		comparators[cf.Spec.Name] = cmp
		extractors[cf.Spec.Name] = cf.Extract
	}

	return &CandidateFinder{
		storage:     storage,
		cfg:         cfg,
		comparators: comparators,
		extractors:  extractors,
	}, nil
}

// FindCandidates returns the ranked candidates for one seed item: the
// pre-filtered counterpart pool scored, sorted by confidence, cut at the
// manual floor, and limited to top-K. Candidates below the floor are simply
// omitted, not errors.
func (f *CandidateFinder) FindCandidates(ctx context.Context, ownerID, itemID string) ([]model.MatchCandidate, error) {
	seed, err := f.storage.GetItem(ctx, ownerID, itemID)
	if err != nil {
		return nil, err
	}

	amountMin, amountMax := f.amountBand(seed.Amount)
	pool, err := f.storage.GetUnmatchedItems(ctx, service.ItemFilter{
		OwnerID:   ownerID,
		Source:    seed.Source.Opposite(),
		From:      seed.Date.AddDate(0, 0, -f.cfg.DateWindowDays),
		To:        seed.Date.AddDate(0, 0, f.cfg.DateWindowDays),
		AmountMin: &amountMin,
		AmountMax: &amountMax,
	})
	if err != nil {
		return nil, err
	}

	candidates := make([]model.MatchCandidate, 0, len(pool))
	for _, cand := range pool {
		if !sameCurrency(*seed, cand) {
			// Cross-currency pairs belong to the conversion path.
			continue
		}
		mc, err := f.scorePair(*seed, cand)
		if err != nil {
			return nil, err
		}
		if mc.Tier == model.TierNone {
			continue
		}
		candidates = append(candidates, mc)
	}

	sortCandidates(candidates)
	return truncate(candidates, f.cfg.TopK), nil
}

// amountBand returns the magnitude band [min,max] around a seed amount.
func (f *CandidateFinder) amountBand(amount float64) (float64, float64) {
	magnitude := math.Abs(amount)
	return magnitude * (1 - f.cfg.AmountTolerance), magnitude * (1 + f.cfg.AmountTolerance)
}

// scorePair scores one seed/candidate pair across all configured features.
func (f *CandidateFinder) scorePair(seed, cand model.Item) (model.MatchCandidate, error) {
	scores := map[model.Feature]float64{
		model.FeatureAmount: score.Amount(seed.Amount, cand.Amount, f.cfg.AmountTolerance),
		model.FeatureDate:   score.Date(seed.Date, cand.Date, f.cfg.DateWindowDays),
		model.FeatureParty:  score.Name(seed.PartyName, cand.PartyName),
		model.FeatureText:   score.Text(seed.Description, cand.Description),
	}
	for name, cmp := range f.comparators {
		scores[name] = cmp(f.extractors[name](seed), f.extractors[name](cand))
	}

	return f.assemble(seed, cand, scores, 0)
}

// assemble aggregates feature scores into a candidate with its explanation.
func (f *CandidateFinder) assemble(seed, cand model.Item, scores map[model.Feature]float64, impliedRate float64) (model.MatchCandidate, error) {
	confidence, err := score.Aggregate(scores, f.cfg.Weights)
	if err != nil {
		return model.MatchCandidate{}, err
	}

	return model.MatchCandidate{
		SeedItemID:      seed.ID,
		CandidateItemID: cand.ID,
		FeatureScores:   scores,
		Confidence:      confidence,
		Tier:            score.Tier(confidence, f.cfg.TierCuts),
		Details: model.CandidateDetails{
			BlockingKey:  blockingKey(cand),
			AmountDiff:   math.Abs(math.Abs(seed.Amount) - math.Abs(cand.Amount)),
			DateDiffDays: dateDiffDays(seed.Date, cand.Date),
			AmountTol:    f.cfg.AmountTolerance,
			DateWindow:   f.cfg.DateWindowDays,
			ImpliedRate:  impliedRate,
		},
	}, nil
}

// sameCurrency treats a missing currency on either side as compatible.
func sameCurrency(a, b model.Item) bool {
	if a.Currency == "" || b.Currency == "" {
		return true
	}
	return a.Currency == b.Currency
}

// blockingKey is the coarse day|rounded-magnitude bucket used for in-memory
// cross-matching and recorded in candidate details for explainability.
func blockingKey(item model.Item) string {
	return fmt.Sprintf("%s|%d", item.Date.Format("2006-01-02"), int64(math.Round(math.Abs(item.Amount))))
}

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

// sortCandidates orders by confidence descending, breaking ties by smaller
// date diff, then smaller amount diff, then candidate id. The ordering is
// deterministic for identical inputs.
func sortCandidates(candidates []model.MatchCandidate) {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Details.DateDiffDays != b.Details.DateDiffDays {
			return a.Details.DateDiffDays < b.Details.DateDiffDays
		}
		if a.Details.AmountDiff != b.Details.AmountDiff {
			return a.Details.AmountDiff < b.Details.AmountDiff
		}
		return a.CandidateItemID < b.CandidateItemID
	})
}

func truncate(candidates []model.MatchCandidate, k int) []model.MatchCandidate {
	if len(candidates) > k {
		return candidates[:k]
	}
	return candidates
}
