// Package expect drives expected occurrences through their lifecycle:
// linking them to observed items, skipping them, and sweeping lapsed ones
// to missing.
package expect

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/halcyon-labs/recon/internal/common"
	"github.com/halcyon-labs/recon/internal/model"
	"github.com/halcyon-labs/recon/internal/score"
	"github.com/halcyon-labs/recon/internal/service"
)

// Config holds the linking tolerances. An actual item is "within tolerance"
// of an occurrence when its magnitude is within AmountTolerance
// (relative) of the expected amount and its date is within DateWindowDays
// of the expected date.
type Config struct {
	AmountTolerance float64
	DateWindowDays  int
}

// DefaultConfig mirrors the candidate finder's defaults so that items the
// finder would pair are also linkable here.
func DefaultConfig() Config {
	return Config{
		AmountTolerance: 0.05,
		DateWindowDays:  7,
	}
}

// Validate checks the configured tolerances.
func (c Config) Validate() error {
	if c.AmountTolerance <= 0 || c.AmountTolerance >= 1 {
		return fmt.Errorf("%w: amount tolerance must be in (0, 1), got %f", common.ErrInvalidConfig, c.AmountTolerance)
	}
	if c.DateWindowDays <= 0 {
		return fmt.Errorf("%w: date window must be positive, got %d", common.ErrInvalidConfig, c.DateWindowDays)
	}
	return nil
}

// Tracker transitions expected occurrences. All status changes go through
// the storage layer's conditional update, so concurrent callers racing on
// the same occurrence resolve to one winner and one conflict error.
type Tracker struct {
	storage service.Storage
	cfg     Config
}

// NewTracker creates a Tracker with the given storage and tolerances.
func NewTracker(storage service.Storage, cfg Config) (*Tracker, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Tracker{storage: storage, cfg: cfg}, nil
}

// Link performs the automatic link path: the occurrence must be upcoming,
// the item must pass the identity check, and both amount and date must be
// within tolerance. Anything less belongs to LinkManual.
func (t *Tracker) Link(ctx context.Context, ownerID, occID string, actual model.Item) (*model.ExpectedOccurrence, error) {
	occ, err := t.storage.GetOccurrence(ctx, ownerID, occID)
	if err != nil {
		return nil, err
	}
	if occ.Status != model.OccurrenceUpcoming {
		return nil, fmt.Errorf("%w: occurrence %s is %s, auto-link requires upcoming", common.ErrConflict, occ.ID, occ.Status)
	}
	if err := t.checkIdentity(occ, actual); err != nil {
		return nil, err
	}
	if !t.withinTolerance(occ, actual) {
		return nil, fmt.Errorf("%w: item %s is outside tolerance for occurrence %s", common.ErrValidation, actual.ID, occ.ID)
	}

	t.applyLink(occ, actual, model.OccurrenceMatched, model.MethodAuto)
	if err := t.storage.TransitionOccurrence(ctx, occ, model.OccurrenceUpcoming); err != nil {
		return nil, err
	}
	return occ, nil
}

// LinkManual links a user-chosen item. Within tolerance the occurrence
// becomes matched_manual; outside tolerance it is rejected unless force is
// set, in which case it becomes variance. The identity check is applied in
// both cases and cannot be forced past. Missing occurrences may be linked
// here too: an item that arrived late is still the expected item.
func (t *Tracker) LinkManual(ctx context.Context, ownerID, occID string, actual model.Item, force bool) (*model.ExpectedOccurrence, error) {
	occ, err := t.storage.GetOccurrence(ctx, ownerID, occID)
	if err != nil {
		return nil, err
	}
	if occ.Status != model.OccurrenceUpcoming && occ.Status != model.OccurrenceMissing {
		return nil, fmt.Errorf("%w: occurrence %s is %s, cannot link", common.ErrConflict, occ.ID, occ.Status)
	}
	if err := t.checkIdentity(occ, actual); err != nil {
		return nil, err
	}

	from := occ.Status
	switch {
	case t.withinTolerance(occ, actual):
		t.applyLink(occ, actual, model.OccurrenceMatchedManual, model.MethodManual)
	case force:
		t.applyLink(occ, actual, model.OccurrenceVariance, model.MethodForced)
	default:
		return nil, fmt.Errorf("%w: item %s is outside tolerance for occurrence %s (use force to link anyway)", common.ErrValidation, actual.ID, occ.ID)
	}

	if err := t.storage.TransitionOccurrence(ctx, occ, from); err != nil {
		return nil, err
	}
	return occ, nil
}

// Skip marks an occurrence as not expected after all. Only upcoming and
// missing occurrences can be skipped; skipping a linked occurrence would
// discard a completed link and is rejected.
func (t *Tracker) Skip(ctx context.Context, ownerID, occID string) (*model.ExpectedOccurrence, error) {
	occ, err := t.storage.GetOccurrence(ctx, ownerID, occID)
	if err != nil {
		return nil, err
	}
	if !occ.Status.Skippable() {
		return nil, fmt.Errorf("%w: occurrence %s is %s and cannot be skipped", common.ErrConflict, occ.ID, occ.Status)
	}

	from := occ.Status
	occ.Status = model.OccurrenceSkipped
	if err := t.storage.TransitionOccurrence(ctx, occ, from); err != nil {
		return nil, err
	}
	return occ, nil
}

// MissingOccurrences returns occurrences the owner should chase: already
// missing rows plus upcoming rows whose expected date has lapsed as of the
// given time.
func (t *Tracker) MissingOccurrences(ctx context.Context, ownerID string, asOf time.Time) ([]model.ExpectedOccurrence, error) {
	return t.storage.GetMissingOccurrences(ctx, ownerID, asOf)
}

// RunMissingSweep flips every lapsed upcoming occurrence to missing and
// returns how many rows changed. The sweep is idempotent and safe to run
// concurrently with linking.
func (t *Tracker) RunMissingSweep(ctx context.Context, asOf time.Time) (int64, error) {
	count, err := t.storage.SweepMissing(ctx, asOf)
	if err != nil {
		return 0, fmt.Errorf("missing sweep failed: %w", err)
	}
	slog.Info("Missing sweep complete", "as_of", asOf.Format("2006-01-02"), "transitioned", count)
	return count, nil
}

// checkIdentity verifies that the item plausibly belongs to the occurrence.
// Owner mismatch is an authorization failure; account or party mismatch is
// a validation failure. Neither can be overridden by force.
func (t *Tracker) checkIdentity(occ *model.ExpectedOccurrence, actual model.Item) error {
	if actual.OwnerID != occ.OwnerID {
		return fmt.Errorf("%w: item %s does not belong to occurrence owner", common.ErrUnauthorized, actual.ID)
	}
	if occ.AccountID != "" && occ.AccountID != actual.AccountID {
		return fmt.Errorf("%w: item %s is on account %s, occurrence expects %s", common.ErrValidation, actual.ID, actual.AccountID, occ.AccountID)
	}
	if occ.PartyName != "" && score.NormalizeName(occ.PartyName) != score.NormalizeName(actual.PartyName) {
		return fmt.Errorf("%w: item %s party %q does not match expected party %q", common.ErrValidation, actual.ID, actual.PartyName, occ.PartyName)
	}
	return nil
}

// withinTolerance reports whether the item's magnitude and date fall inside
// the configured windows around the occurrence's expectations.
func (t *Tracker) withinTolerance(occ *model.ExpectedOccurrence, actual model.Item) bool {
	if score.Amount(occ.ExpectedAmount, actual.Amount, t.cfg.AmountTolerance) == 0 {
		return false
	}
	return score.Date(occ.ExpectedDate, actual.Date, t.cfg.DateWindowDays) > 0
}

// applyLink fills in the actual-side fields. Variance is signed: positive
// means the actual magnitude exceeded the expectation.
func (t *Tracker) applyLink(occ *model.ExpectedOccurrence, actual model.Item, status model.OccurrenceStatus, method model.MatchMethod) {
	itemID := actual.ID
	actualDate := actual.Date
	actualAmount := actual.Amount
	variance := math.Abs(actual.Amount) - math.Abs(occ.ExpectedAmount)

	occ.Status = status
	occ.LinkMethod = method
	occ.ActualItemID = &itemID
	occ.ActualDate = &actualDate
	occ.ActualAmount = &actualAmount
	occ.Variance = &variance
}
