package finder

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/halcyon-labs/recon/internal/common"
	"github.com/halcyon-labs/recon/internal/model"
	"github.com/halcyon-labs/recon/internal/score"
	"github.com/halcyon-labs/recon/internal/service"
)

// FindConversionCandidates handles cross-currency matches: no magnitude
// equality is required, but the candidate must share the seed's account
// family and the implied exchange rate must fall inside the configured
// plausible range. The rate-plausibility score stands in for the amount
// feature.
func (f *CandidateFinder) FindConversionCandidates(ctx context.Context, ownerID, itemID string) ([]model.MatchCandidate, error) {
	if f.cfg.ConversionRateMax <= 0 {
		return nil, fmt.Errorf("%w: conversion rate range is not configured", common.ErrMissingConfig)
	}

	seed, err := f.storage.GetItem(ctx, ownerID, itemID)
	if err != nil {
		return nil, err
	}
	if math.Abs(seed.Amount) == 0 {
		// No rate can be implied from a zero amount.
		return nil, nil
	}

	pool, err := f.storage.GetUnmatchedItems(ctx, service.ItemFilter{
		OwnerID: ownerID,
		Source:  seed.Source.Opposite(),
		From:    seed.Date.AddDate(0, 0, -f.cfg.DateWindowDays),
		To:      seed.Date.AddDate(0, 0, f.cfg.DateWindowDays),
	})
	if err != nil {
		return nil, err
	}

	seedFamily := accountFamily(seed.AccountID)

	candidates := make([]model.MatchCandidate, 0, len(pool))
	for _, cand := range pool {
		if sameCurrency(*seed, cand) {
			// Same-currency pairs belong to the standard path.
			continue
		}
		if accountFamily(cand.AccountID) != seedFamily {
			continue
		}
		if math.Abs(cand.Amount) == 0 {
			continue
		}

		rate := math.Abs(cand.Amount) / math.Abs(seed.Amount)
		rateScore := ratePlausibility(rate, f.cfg.ConversionRateMin, f.cfg.ConversionRateMax)
		if rateScore == 0 {
			continue
		}

		scores := map[model.Feature]float64{
			model.FeatureAmount: rateScore,
			model.FeatureDate:   score.Date(seed.Date, cand.Date, f.cfg.DateWindowDays),
			model.FeatureParty:  score.Name(seed.PartyName, cand.PartyName),
			model.FeatureText:   score.Text(seed.Description, cand.Description),
		}
		for name, cmp := range f.comparators {
			scores[name] = cmp(f.extractors[name](*seed), f.extractors[name](cand))
		}

		mc, err := f.assemble(*seed, cand, scores, rate)
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

// accountFamily groups related sub-accounts: "chase:usd" and "chase:eur"
// belong to the family "chase". Accounts without a separator are their own
// family.
func accountFamily(accountID string) string {
	if idx := strings.IndexByte(accountID, ':'); idx > 0 {
		return accountID[:idx]
	}
	return accountID
}

// ratePlausibility scores an implied exchange rate against the acceptable
// range. Inside the range the score stays near 1.0, shedding up to 5% as the
// rate approaches either edge; outside the range it is 0.
func ratePlausibility(rate, min, max float64) float64 {
	if rate < min || rate > max {
		return 0.0
	}

	mid := (min + max) / 2
	half := (max - min) / 2
	if half == 0 {
		return 1.0
	}
	return 1.0 - (math.Abs(rate-mid)/half)*0.05
}
