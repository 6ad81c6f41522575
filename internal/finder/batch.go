package finder

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/halcyon-labs/recon/internal/model"
	"github.com/halcyon-labs/recon/internal/service"
	"github.com/halcyon-labs/recon/internal/storage"
)

// FindCandidatesBatch loads all unmatched items from both sources for the
// owner's date range in one pass per source, then cross-matches entirely in
// memory. This is the required access pattern whenever more than a handful of
// items are processed together; it never issues per-seed queries.
//
// Seeds are scored by a bounded worker pool and the outer dispatch loop
// checks the context between iterations, so a caller can abort cleanly
// without leaving partial results behind (candidates are never persisted).
func (f *CandidateFinder) FindCandidatesBatch(ctx context.Context, ownerID string, start, end time.Time) (map[string][]model.MatchCandidate, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end %v before start %v", storage.ErrInvalidDateRange, end, start)
	}

	seeds, err := f.storage.GetUnmatchedItems(ctx, service.ItemFilter{
		OwnerID: ownerID,
		Source:  model.SourceOne,
		From:    start,
		To:      end,
	})
	if err != nil {
		return nil, err
	}

	// The counterpart pool extends one window past each edge so seeds near
	// the boundary still see their partners.
	pool, err := f.storage.GetUnmatchedItems(ctx, service.ItemFilter{
		OwnerID: ownerID,
		Source:  model.SourceTwo,
		From:    start.AddDate(0, 0, -f.cfg.DateWindowDays),
		To:      end.AddDate(0, 0, f.cfg.DateWindowDays),
	})
	if err != nil {
		return nil, err
	}

	buckets := bucketByDay(pool)

	results := make(map[string][]model.MatchCandidate, len(seeds))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.BatchWorkers)

	for _, seed := range seeds {
		seed := seed
		select {
		case <-gctx.Done():
			_ = g.Wait()
			return nil, gctx.Err()
		default:
		}

		g.Go(func() error {
			ranked, err := f.scoreSeedAgainstBuckets(seed, buckets)
			if err != nil {
				return err
			}
			if len(ranked) == 0 {
				return nil
			}

			mu.Lock()
			results[seed.ID] = ranked
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// scoreSeedAgainstBuckets walks only the day buckets inside the seed's window
// and applies the amount band before scoring, keeping the scored set small.
func (f *CandidateFinder) scoreSeedAgainstBuckets(seed model.Item, buckets map[string][]model.Item) ([]model.MatchCandidate, error) {
	amountMin, amountMax := f.amountBand(seed.Amount)

	var ranked []model.MatchCandidate
	for offset := -f.cfg.DateWindowDays; offset <= f.cfg.DateWindowDays; offset++ {
		day := seed.Date.AddDate(0, 0, offset).Format("2006-01-02")
		for _, cand := range buckets[day] {
			magnitude := math.Abs(cand.Amount)
			if magnitude < amountMin || magnitude > amountMax {
				continue
			}
			if !sameCurrency(seed, cand) {
				continue
			}

			mc, err := f.scorePair(seed, cand)
			if err != nil {
				return nil, err
			}
			if mc.Tier == model.TierNone {
				continue
			}
			ranked = append(ranked, mc)
		}
	}

	sortCandidates(ranked)
	return truncate(ranked, f.cfg.TopK), nil
}

func bucketByDay(items []model.Item) map[string][]model.Item {
	buckets := make(map[string][]model.Item)
	for _, item := range items {
		day := item.Date.Format("2006-01-02")
		buckets[day] = append(buckets[day], item)
	}
	return buckets
}
