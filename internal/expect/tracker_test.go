package expect

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-labs/recon/internal/common"
	"github.com/halcyon-labs/recon/internal/model"
	"github.com/halcyon-labs/recon/internal/storage"
)

var dueDate = time.Date(2025, 10, 15, 0, 0, 0, 0, time.UTC)

func setupTracker(t *testing.T) (*Tracker, *storage.SQLiteStorage) {
	t.Helper()

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "expect-test.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	tracker, err := NewTracker(store, DefaultConfig())
	require.NoError(t, err)
	return tracker, store
}

func seedOccurrence(t *testing.T, store *storage.SQLiteStorage) *model.ExpectedOccurrence {
	t.Helper()

	occ := &model.ExpectedOccurrence{
		DefinitionID:   "rent-monthly",
		OwnerID:        "owner-a",
		AccountID:      "chase:usd",
		PartyName:      "Acme Property Management",
		ExpectedDate:   dueDate,
		ExpectedAmount: 1500.00,
	}
	require.NoError(t, store.CreateOccurrence(context.Background(), occ))
	return occ
}

func actualItem(amount float64, date time.Time) model.Item {
	return model.Item{
		ID:        "txn-1",
		OwnerID:   "owner-a",
		Source:    model.SourceOne,
		Amount:    amount,
		Currency:  "USD",
		Date:      date,
		AccountID: "chase:usd",
		PartyName: "Acme Property Management LLC",
	}
}

func TestLink_AutoWithinTolerance(t *testing.T) {
	tracker, store := setupTracker(t)
	occ := seedOccurrence(t, store)

	// 2% over and one day late: inside both tolerances.
	linked, err := tracker.Link(context.Background(), "owner-a", occ.ID, actualItem(-1530.00, dueDate.AddDate(0, 0, 1)))
	require.NoError(t, err)

	assert.Equal(t, model.OccurrenceMatched, linked.Status)
	assert.Equal(t, model.MethodAuto, linked.LinkMethod)
	require.NotNil(t, linked.ActualItemID)
	assert.Equal(t, "txn-1", *linked.ActualItemID)
	require.NotNil(t, linked.Variance)
	assert.InDelta(t, 30.00, *linked.Variance, 1e-9)
}

func TestLink_OutsideToleranceRejected(t *testing.T) {
	tracker, store := setupTracker(t)
	occ := seedOccurrence(t, store)

	_, err := tracker.Link(context.Background(), "owner-a", occ.ID, actualItem(-900.00, dueDate))
	require.ErrorIs(t, err, common.ErrValidation)

	// The occurrence is untouched.
	got, err := store.GetOccurrence(context.Background(), "owner-a", occ.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OccurrenceUpcoming, got.Status)
	assert.Nil(t, got.ActualItemID)
}

func TestLink_IdentityMismatchRejected(t *testing.T) {
	tracker, store := setupTracker(t)
	occ := seedOccurrence(t, store)
	ctx := context.Background()

	wrongAccount := actualItem(-1500.00, dueDate)
	wrongAccount.AccountID = "wells:usd"
	_, err := tracker.Link(ctx, "owner-a", occ.ID, wrongAccount)
	require.ErrorIs(t, err, common.ErrValidation)

	wrongParty := actualItem(-1500.00, dueDate)
	wrongParty.PartyName = "Globex Industries"
	_, err = tracker.Link(ctx, "owner-a", occ.ID, wrongParty)
	require.ErrorIs(t, err, common.ErrValidation)

	wrongOwner := actualItem(-1500.00, dueDate)
	wrongOwner.OwnerID = "owner-b"
	_, err = tracker.Link(ctx, "owner-a", occ.ID, wrongOwner)
	require.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestLink_PartySuffixDifferencesTolerated(t *testing.T) {
	tracker, store := setupTracker(t)
	occ := seedOccurrence(t, store)

	// "Acme Property Management LLC" vs the occurrence's
	// "Acme Property Management": legal suffixes do not break identity.
	linked, err := tracker.Link(context.Background(), "owner-a", occ.ID, actualItem(-1500.00, dueDate))
	require.NoError(t, err)
	assert.Equal(t, model.OccurrenceMatched, linked.Status)
}

func TestLinkManual_ForceOutsideToleranceBecomesVariance(t *testing.T) {
	tracker, store := setupTracker(t)
	occ := seedOccurrence(t, store)
	ctx := context.Background()

	// 20% under expectation.
	item := actualItem(-1200.00, dueDate)

	_, err := tracker.LinkManual(ctx, "owner-a", occ.ID, item, false)
	require.ErrorIs(t, err, common.ErrValidation)

	linked, err := tracker.LinkManual(ctx, "owner-a", occ.ID, item, true)
	require.NoError(t, err)
	assert.Equal(t, model.OccurrenceVariance, linked.Status)
	assert.Equal(t, model.MethodForced, linked.LinkMethod)
	require.NotNil(t, linked.Variance)
	assert.InDelta(t, -300.00, *linked.Variance, 1e-9)
}

func TestLinkManual_ForceCannotOverrideIdentity(t *testing.T) {
	tracker, store := setupTracker(t)
	occ := seedOccurrence(t, store)

	wrongParty := actualItem(-1500.00, dueDate)
	wrongParty.PartyName = "Globex Industries"

	_, err := tracker.LinkManual(context.Background(), "owner-a", occ.ID, wrongParty, true)
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestLinkManual_RescuesMissingOccurrence(t *testing.T) {
	tracker, store := setupTracker(t)
	occ := seedOccurrence(t, store)
	ctx := context.Background()

	_, err := tracker.RunMissingSweep(ctx, dueDate.AddDate(0, 0, 10))
	require.NoError(t, err)

	// The payment arrived late; link it against the now-missing occurrence.
	linked, err := tracker.LinkManual(ctx, "owner-a", occ.ID, actualItem(-1500.00, dueDate.AddDate(0, 0, 4)), false)
	require.NoError(t, err)
	assert.Equal(t, model.OccurrenceMatchedManual, linked.Status)
	assert.Equal(t, model.MethodManual, linked.LinkMethod)
}

func TestLink_RejectsNonUpcoming(t *testing.T) {
	tracker, store := setupTracker(t)
	occ := seedOccurrence(t, store)
	ctx := context.Background()

	_, err := tracker.RunMissingSweep(ctx, dueDate.AddDate(0, 0, 10))
	require.NoError(t, err)

	// Auto-link is upcoming-only; a missing occurrence needs LinkManual.
	_, err = tracker.Link(ctx, "owner-a", occ.ID, actualItem(-1500.00, dueDate))
	require.ErrorIs(t, err, common.ErrConflict)
}

func TestSkip(t *testing.T) {
	tracker, store := setupTracker(t)
	ctx := context.Background()

	t.Run("from upcoming", func(t *testing.T) {
		occ := seedOccurrence(t, store)
		skipped, err := tracker.Skip(ctx, "owner-a", occ.ID)
		require.NoError(t, err)
		assert.Equal(t, model.OccurrenceSkipped, skipped.Status)
	})

	t.Run("from missing", func(t *testing.T) {
		occ := seedOccurrence(t, store)
		_, err := tracker.RunMissingSweep(ctx, dueDate.AddDate(0, 0, 10))
		require.NoError(t, err)

		skipped, err := tracker.Skip(ctx, "owner-a", occ.ID)
		require.NoError(t, err)
		assert.Equal(t, model.OccurrenceSkipped, skipped.Status)
	})

	t.Run("not from matched", func(t *testing.T) {
		occ := seedOccurrence(t, store)
		_, err := tracker.Link(ctx, "owner-a", occ.ID, actualItem(-1500.00, dueDate))
		require.NoError(t, err)

		_, err = tracker.Skip(ctx, "owner-a", occ.ID)
		require.ErrorIs(t, err, common.ErrConflict)
	})

	t.Run("skip is terminal", func(t *testing.T) {
		occ := seedOccurrence(t, store)
		_, err := tracker.Skip(ctx, "owner-a", occ.ID)
		require.NoError(t, err)

		_, err = tracker.Skip(ctx, "owner-a", occ.ID)
		require.ErrorIs(t, err, common.ErrConflict)
	})
}

func TestRunMissingSweep_Idempotent(t *testing.T) {
	tracker, store := setupTracker(t)
	seedOccurrence(t, store)
	ctx := context.Background()

	count, err := tracker.RunMissingSweep(ctx, dueDate.AddDate(0, 0, 5))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = tracker.RunMissingSweep(ctx, dueDate.AddDate(0, 0, 5))
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestMissingOccurrences(t *testing.T) {
	tracker, store := setupTracker(t)
	occ := seedOccurrence(t, store)

	missing, err := tracker.MissingOccurrences(context.Background(), "owner-a", dueDate.AddDate(0, 0, 5))
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, occ.ID, missing[0].ID)
}

func TestTracker_OwnerScoping(t *testing.T) {
	tracker, store := setupTracker(t)
	occ := seedOccurrence(t, store)

	_, err := tracker.Skip(context.Background(), "owner-b", occ.ID)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestNewTracker_RejectsBadConfig(t *testing.T) {
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "cfg-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = NewTracker(store, Config{AmountTolerance: 0, DateWindowDays: 7})
	require.ErrorIs(t, err, common.ErrInvalidConfig)

	_, err = NewTracker(store, Config{AmountTolerance: 0.05, DateWindowDays: 0})
	require.ErrorIs(t, err, common.ErrInvalidConfig)
}
