// Package engine orchestrates a reconciliation run: batch candidate
// discovery, auto-linking of high-confidence pairs, and follow-up linking of
// expected occurrences.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/halcyon-labs/recon/internal/common"
	"github.com/halcyon-labs/recon/internal/model"
	"github.com/halcyon-labs/recon/internal/service"
)

// ExpectationLinker links an observed item to an expected occurrence. It is
// satisfied by expect.Tracker.
type ExpectationLinker interface {
	Link(ctx context.Context, ownerID, occID string, actual model.Item) (*model.ExpectedOccurrence, error)
}

// ProgressFunc receives (processed, total) seed counts as a run advances.
type ProgressFunc func(processed, total int)

// Config holds configuration options for the reconcile engine.
type Config struct {
	Progress ProgressFunc
	// AutoLink controls whether auto-tier candidates are promoted to
	// matches. When false the run is a dry pass that only reports.
	AutoLink bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{AutoLink: true}
}

// ReconcileStats summarizes one reconciliation run.
type ReconcileStats struct {
	Suggestions        []model.MatchCandidate
	SeedsProcessed     int
	AutoLinked         int
	Conflicts          int
	ExpectationsLinked int
	Elapsed            time.Duration
}

// ReconcileEngine drives full reconciliation runs over a date range.
type ReconcileEngine struct {
	storage service.Storage
	finder  service.Finder
	linker  ExpectationLinker
	cfg     Config
}

// New creates a reconcile engine with the default configuration.
func New(storage service.Storage, finder service.Finder, linker ExpectationLinker) *ReconcileEngine {
	return NewWithConfig(storage, finder, linker, DefaultConfig())
}

// NewWithConfig creates a reconcile engine with custom configuration.
func NewWithConfig(storage service.Storage, finder service.Finder, linker ExpectationLinker, cfg Config) *ReconcileEngine {
	return &ReconcileEngine{
		storage: storage,
		finder:  finder,
		linker:  linker,
		cfg:     cfg,
	}
}

// Reconcile runs batch candidate discovery over [from, to], promotes the top
// auto-tier candidate of each seed to a match, and links any upcoming
// expectation the newly matched items satisfy. Suggest-tier candidates are
// collected for human review. The run is cancellable between seeds; matches
// created before cancellation stay created.
func (e *ReconcileEngine) Reconcile(ctx context.Context, ownerID string, from, to time.Time) (*ReconcileStats, error) {
	start := time.Now()
	slog.Info("Starting reconciliation run",
		"owner", ownerID,
		"from", from.Format("2006-01-02"),
		"to", to.Format("2006-01-02"))

	results, err := e.finder.FindCandidatesBatch(ctx, ownerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("batch candidate discovery failed: %w", err)
	}

	// Deterministic processing order regardless of map iteration.
	seedIDs := make([]string, 0, len(results))
	for id := range results {
		seedIDs = append(seedIDs, id)
	}
	sort.Strings(seedIDs)

	upcoming, err := e.storage.GetOccurrencesByStatus(ctx, ownerID, model.OccurrenceUpcoming)
	if err != nil {
		return nil, fmt.Errorf("failed to load upcoming occurrences: %w", err)
	}

	stats := &ReconcileStats{}
	for _, seedID := range seedIDs {
		select {
		case <-ctx.Done():
			stats.Elapsed = time.Since(start)
			return stats, ctx.Err()
		default:
		}

		e.processSeed(ctx, ownerID, results[seedID], &upcoming, stats)
		stats.SeedsProcessed++
		if e.cfg.Progress != nil {
			e.cfg.Progress(stats.SeedsProcessed, len(seedIDs))
		}
	}

	stats.Elapsed = time.Since(start)
	slog.Info("Reconciliation complete",
		"owner", ownerID,
		"seeds", stats.SeedsProcessed,
		"auto_linked", stats.AutoLinked,
		"conflicts", stats.Conflicts,
		"suggestions", len(stats.Suggestions),
		"expectations_linked", stats.ExpectationsLinked,
		"elapsed", stats.Elapsed)
	return stats, nil
}

// processSeed handles one seed's ranked candidates. Only the top candidate is
// ever promoted; lower-ranked auto candidates would pair the seed twice.
func (e *ReconcileEngine) processSeed(ctx context.Context, ownerID string, ranked []model.MatchCandidate, upcoming *[]model.ExpectedOccurrence, stats *ReconcileStats) {
	if len(ranked) == 0 {
		return
	}

	top := ranked[0]
	if top.Tier != model.TierAutoLink || !e.cfg.AutoLink {
		if top.Tier == model.TierAutoLink || top.Tier == model.TierSuggest {
			stats.Suggestions = append(stats.Suggestions, top)
		}
		return
	}

	match, err := e.createAutoMatch(ctx, ownerID, top)
	switch {
	case errors.Is(err, common.ErrConflict):
		// Another seed in this run already claimed the candidate.
		slog.Debug("Skipping already-claimed candidate",
			"seed", top.SeedItemID,
			"candidate", top.CandidateItemID)
		stats.Conflicts++
		return
	case err != nil:
		common.LogError(err, "Failed to create match", common.Fields{
			"seed":      top.SeedItemID,
			"candidate": top.CandidateItemID,
		})
		return
	}

	stats.AutoLinked++
	stats.ExpectationsLinked += e.linkExpectations(ctx, ownerID, match, upcoming)
}

// createAutoMatch promotes a candidate to a persisted one-to-one match.
func (e *ReconcileEngine) createAutoMatch(ctx context.Context, ownerID string, c model.MatchCandidate) (*model.Match, error) {
	seedSource, candSource, err := e.matchSides(ctx, ownerID, c)
	if err != nil {
		return nil, err
	}

	match := &model.Match{
		OwnerID:        ownerID,
		Source1ItemIDs: seedSource,
		Source2ItemIDs: candSource,
		Cardinality:    model.OneToOne,
		Method:         model.MethodAuto,
		Confidence:     c.Confidence,
		FeatureScores:  c.FeatureScores,
		Details: map[string]any{
			"blocking_key":   c.Details.BlockingKey,
			"amount_diff":    c.Details.AmountDiff,
			"date_diff_days": c.Details.DateDiffDays,
		},
	}
	if err := e.storage.CreateMatch(ctx, match); err != nil {
		return nil, err
	}
	return match, nil
}

// matchSides orders the seed and candidate ids into source-1 and source-2
// slots based on which source the seed item came from.
func (e *ReconcileEngine) matchSides(ctx context.Context, ownerID string, c model.MatchCandidate) (source1, source2 []string, err error) {
	seed, err := e.storage.GetItem(ctx, ownerID, c.SeedItemID)
	if err != nil {
		return nil, nil, err
	}
	if seed.Source == model.SourceOne {
		return []string{c.SeedItemID}, []string{c.CandidateItemID}, nil
	}
	return []string{c.CandidateItemID}, []string{c.SeedItemID}, nil
}

// linkExpectations offers each item of a fresh match to the remaining
// upcoming occurrences. A failed attempt just means that occurrence is not
// for this item; failures past validation are logged and skipped rather than
// aborting the run.
func (e *ReconcileEngine) linkExpectations(ctx context.Context, ownerID string, match *model.Match, upcoming *[]model.ExpectedOccurrence) int {
	if e.linker == nil || len(*upcoming) == 0 {
		return 0
	}

	linked := 0
	for _, itemID := range append(append([]string{}, match.Source1ItemIDs...), match.Source2ItemIDs...) {
		item, err := e.storage.GetItem(ctx, ownerID, itemID)
		if err != nil {
			common.LogError(err, "Failed to load matched item for expectation linking", common.Fields{"item": itemID})
			continue
		}

		for i := range *upcoming {
			occ := (*upcoming)[i]
			if _, err := e.linker.Link(ctx, ownerID, occ.ID, *item); err != nil {
				if !errors.Is(err, common.ErrValidation) && !errors.Is(err, common.ErrConflict) {
					common.LogError(err, "Expectation link failed", common.Fields{
						"occurrence": occ.ID,
						"item":       itemID,
					})
				}
				continue
			}

			slog.Info("Linked expectation", "occurrence", occ.ID, "item", itemID)
			*upcoming = append((*upcoming)[:i], (*upcoming)[i+1:]...)
			linked++
			break
		}
	}
	return linked
}
