// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/halcyon-labs/recon/internal/model"
)

// ItemFilter defines the pre-filter window for unmatched-item queries. The
// amount band is optional; a nil bound leaves that side open.
type ItemFilter struct {
	From      time.Time
	To        time.Time
	AmountMin *float64
	AmountMax *float64
	OwnerID   string
	Source    model.ItemSource
	Limit     int
}

// Storage defines the contract for the persistence layer.
type Storage interface {
	// Item read accessor. Items are produced by the upstream normalization
	// layer; SaveItems exists for imports and tests, not for this core's
	// request paths.
	SaveItems(ctx context.Context, items []model.Item) error
	GetItem(ctx context.Context, ownerID, itemID string) (*model.Item, error)
	GetUnmatchedItems(ctx context.Context, filter ItemFilter) ([]model.Item, error)

	// Match operations.
	CreateMatch(ctx context.Context, match *model.Match) error
	GetMatch(ctx context.Context, ownerID, matchID string) (*model.Match, error)
	FindMatchesByItem(ctx context.Context, ownerID, itemID string) ([]model.Match, error)
	FindMatchesByMethod(ctx context.Context, ownerID string, method model.MatchMethod) ([]model.Match, error)
	FindMatchesByDateRange(ctx context.Context, ownerID string, start, end time.Time) ([]model.Match, error)
	FindLowConfidenceMatches(ctx context.Context, ownerID string, threshold float64) ([]model.Match, error)
	// UpdateMatch permits only confidence and annotation-detail changes. An
	// attempt to alter item lists, cardinality, or method fails with an
	// immutable-field error.
	UpdateMatch(ctx context.Context, match *model.Match) (*model.Match, error)
	Unmatch(ctx context.Context, ownerID, matchID, unmatchedBy, reason string) (*model.Match, error)
	AuditTrail(ctx context.Context, ownerID, itemID string) ([]model.Match, error)

	// Expected occurrence operations. Occurrences are created by the external
	// recurrence generator; this core reads and transitions them.
	CreateOccurrence(ctx context.Context, occ *model.ExpectedOccurrence) error
	GetOccurrence(ctx context.Context, ownerID, occID string) (*model.ExpectedOccurrence, error)
	GetOccurrencesByStatus(ctx context.Context, ownerID string, status model.OccurrenceStatus) ([]model.ExpectedOccurrence, error)
	GetMissingOccurrences(ctx context.Context, ownerID string, asOf time.Time) ([]model.ExpectedOccurrence, error)
	// TransitionOccurrence persists occ's mutable fields with a conditional
	// predicate on the previous status, so concurrent transitions cannot
	// clobber each other. Zero affected rows surfaces as a conflict.
	TransitionOccurrence(ctx context.Context, occ *model.ExpectedOccurrence, from model.OccurrenceStatus) error
	// SweepMissing flips lapsed upcoming occurrences to missing and returns
	// how many rows it touched. Idempotent and safe to run concurrently.
	SweepMissing(ctx context.Context, asOf time.Time) (int64, error)

	// Database management.
	Migrate(ctx context.Context) error
	Close() error
}

// Finder discovers and ranks match candidates for unmatched items.
type Finder interface {
	FindCandidates(ctx context.Context, ownerID, itemID string) ([]model.MatchCandidate, error)
	FindCandidatesBatch(ctx context.Context, ownerID string, start, end time.Time) (map[string][]model.MatchCandidate, error)
	FindConversionCandidates(ctx context.Context, ownerID, itemID string) ([]model.MatchCandidate, error)
}
