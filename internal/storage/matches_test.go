package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-labs/recon/internal/common"
	"github.com/halcyon-labs/recon/internal/model"
	"github.com/halcyon-labs/recon/internal/service"
)

var matchDate = time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

// seedPair stores one item on each side and returns a valid one-to-one match
// linking them.
func seedPair(t *testing.T, store *SQLiteStorage, owner, id1, id2 string) *model.Match {
	t.Helper()
	seedItems(t, store,
		testItem(id1, owner, model.SourceOne, -1000.00, matchDate),
		testItem(id2, owner, model.SourceTwo, 1000.00, matchDate),
	)

	return &model.Match{
		OwnerID:        owner,
		Source1ItemIDs: []string{id1},
		Source2ItemIDs: []string{id2},
		Cardinality:    model.OneToOne,
		Method:         model.MethodAuto,
		Confidence:     0.97,
		FeatureScores: map[model.Feature]float64{
			model.FeatureAmount: 1.0,
			model.FeatureDate:   1.0,
			model.FeatureParty:  0.85,
		},
		Details: map[string]any{"blocking_key": "2025-06-15|1000"},
	}
}

func TestCreateMatch_RoundTrip(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	match := seedPair(t, store, "owner-a", "s1-1", "s2-1")
	require.NoError(t, store.CreateMatch(ctx, match))
	require.NotEmpty(t, match.ID)

	got, err := store.GetMatch(ctx, "owner-a", match.ID)
	require.NoError(t, err)
	assert.Equal(t, match.Source1ItemIDs, got.Source1ItemIDs)
	assert.Equal(t, match.Source2ItemIDs, got.Source2ItemIDs)
	assert.Equal(t, model.OneToOne, got.Cardinality)
	assert.Equal(t, model.MethodAuto, got.Method)
	assert.InDelta(t, 0.97, got.Confidence, 1e-9)
	assert.True(t, got.IsActive)
	assert.Nil(t, got.CreatedBy)
	assert.InDelta(t, 0.85, got.FeatureScores[model.FeatureParty], 1e-9)
	assert.Equal(t, "2025-06-15|1000", got.Details["blocking_key"])
}

func TestCreateMatch_ConflictOnActiveItem(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	first := seedPair(t, store, "owner-a", "s1-1", "s2-1")
	require.NoError(t, store.CreateMatch(ctx, first))

	// A second item on source 2 that tries to reuse s1-1.
	seedItems(t, store, testItem("s2-2", "owner-a", model.SourceTwo, 1000.00, matchDate))
	second := &model.Match{
		OwnerID:        "owner-a",
		Source1ItemIDs: []string{"s1-1"},
		Source2ItemIDs: []string{"s2-2"},
		Cardinality:    model.OneToOne,
		Method:         model.MethodAuto,
		Confidence:     0.99,
		FeatureScores:  map[model.Feature]float64{model.FeatureAmount: 1.0},
	}

	err := store.CreateMatch(ctx, second)
	require.ErrorIs(t, err, common.ErrConflict)

	var conflict *common.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "s1-1", conflict.ItemID)
	assert.Equal(t, first.ID, conflict.MatchID)
}

func TestCreateMatch_ManyToManySharing(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	seedItems(t, store,
		testItem("s1-1", "owner-a", model.SourceOne, -300, matchDate),
		testItem("s1-2", "owner-a", model.SourceOne, -700, matchDate),
		testItem("s2-1", "owner-a", model.SourceTwo, 500, matchDate),
		testItem("s2-2", "owner-a", model.SourceTwo, 500, matchDate),
	)

	nn := func(items2 []string) *model.Match {
		return &model.Match{
			OwnerID:        "owner-a",
			Source1ItemIDs: []string{"s1-1", "s1-2"},
			Source2ItemIDs: items2,
			Cardinality:    model.ManyToMany,
			Method:         model.MethodAuto,
			Confidence:     0.8,
			FeatureScores:  map[model.Feature]float64{model.FeatureAmount: 0.8},
		}
	}

	// Two many-to-many matches may share items.
	require.NoError(t, store.CreateMatch(ctx, nn([]string{"s2-1", "s2-2"})))
	require.NoError(t, store.CreateMatch(ctx, nn([]string{"s2-1", "s2-2"})))

	// But an exclusive match cannot take an item held by an active N:N match.
	seedItems(t, store, testItem("s2-3", "owner-a", model.SourceTwo, 300, matchDate))
	exclusive := &model.Match{
		OwnerID:        "owner-a",
		Source1ItemIDs: []string{"s1-1"},
		Source2ItemIDs: []string{"s2-3"},
		Cardinality:    model.OneToOne,
		Method:         model.MethodAuto,
		Confidence:     0.9,
		FeatureScores:  map[model.Feature]float64{model.FeatureAmount: 0.9},
	}
	require.ErrorIs(t, store.CreateMatch(ctx, exclusive), common.ErrConflict)
}

func TestCreateMatch_ValidationFailures(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	match := seedPair(t, store, "owner-a", "s1-1", "s2-1")

	t.Run("unknown item", func(t *testing.T) {
		bad := *match
		bad.Source1ItemIDs = []string{"ghost"}
		err := store.CreateMatch(ctx, &bad)
		require.ErrorIs(t, err, common.ErrNotFound)
	})

	t.Run("wrong side", func(t *testing.T) {
		bad := *match
		bad.Source1ItemIDs = []string{"s2-1"}
		bad.Source2ItemIDs = []string{"s1-1"}
		err := store.CreateMatch(ctx, &bad)
		require.ErrorIs(t, err, common.ErrValidation)
	})

	t.Run("manual without creator", func(t *testing.T) {
		bad := *match
		bad.Method = model.MethodManual
		err := store.CreateMatch(ctx, &bad)
		require.ErrorIs(t, err, common.ErrValidation)
	})

	t.Run("confidence out of range", func(t *testing.T) {
		bad := *match
		bad.Confidence = 1.2
		err := store.CreateMatch(ctx, &bad)
		require.ErrorIs(t, err, common.ErrValidation)
	})

	t.Run("other owner's item", func(t *testing.T) {
		bad := *match
		bad.OwnerID = "owner-b"
		err := store.CreateMatch(ctx, &bad)
		require.ErrorIs(t, err, common.ErrNotFound)
	})
}

func TestUnmatch_PreservesAudit(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	match := seedPair(t, store, "owner-a", "s1-1", "s2-1")
	require.NoError(t, store.CreateMatch(ctx, match))

	unmatched, err := store.Unmatch(ctx, "owner-a", match.ID, "analyst-7", "duplicate import")
	require.NoError(t, err)
	assert.False(t, unmatched.IsActive)
	assert.NotNil(t, unmatched.UnmatchedAt)
	assert.Equal(t, "analyst-7", unmatched.UnmatchedBy)
	assert.Equal(t, "duplicate import", unmatched.UnmatchReason)

	// The audit trail still returns the retired match with nothing lost.
	trail, err := store.AuditTrail(ctx, "owner-a", "s1-1")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, match.ID, trail[0].ID)
	assert.False(t, trail[0].IsActive)
	assert.Equal(t, []string{"s1-1"}, trail[0].Source1ItemIDs)
	assert.Equal(t, []string{"s2-1"}, trail[0].Source2ItemIDs)

	// Double unmatch is a conflict, not a silent no-op.
	_, err = store.Unmatch(ctx, "owner-a", match.ID, "analyst-7", "again")
	require.ErrorIs(t, err, common.ErrConflict)
}

func TestUnmatch_FreesItemsForRematch(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	match := seedPair(t, store, "owner-a", "s1-1", "s2-1")
	require.NoError(t, store.CreateMatch(ctx, match))
	_, err := store.Unmatch(ctx, "owner-a", match.ID, "analyst-7", "wrong pair")
	require.NoError(t, err)

	// Inactive history does not block a fresh match on the same items.
	rematch := seedPair(t, store, "owner-a", "s1-1", "s2-1")
	require.NoError(t, store.CreateMatch(ctx, rematch))

	trail, err := store.AuditTrail(ctx, "owner-a", "s1-1")
	require.NoError(t, err)
	require.Len(t, trail, 2)
	// Newest first.
	assert.Equal(t, rematch.ID, trail[0].ID)
	assert.True(t, trail[0].IsActive)
	assert.Equal(t, match.ID, trail[1].ID)
	assert.False(t, trail[1].IsActive)
}

func TestUnmatch_NotFoundAndOwnerScope(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	match := seedPair(t, store, "owner-a", "s1-1", "s2-1")
	require.NoError(t, store.CreateMatch(ctx, match))

	_, err := store.Unmatch(ctx, "owner-a", "no-such-match", "x", "reason")
	require.ErrorIs(t, err, common.ErrNotFound)

	// A different owner sees not-found, not a hint that the match exists.
	_, err = store.Unmatch(ctx, "owner-b", match.ID, "x", "reason")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestUpdateMatch_MutableAndImmutableFields(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	match := seedPair(t, store, "owner-a", "s1-1", "s2-1")
	require.NoError(t, store.CreateMatch(ctx, match))

	stored, err := store.GetMatch(ctx, "owner-a", match.ID)
	require.NoError(t, err)

	// Confidence and details may change.
	stored.Confidence = 0.88
	stored.Details = map[string]any{"note": "reviewed"}
	updated, err := store.UpdateMatch(ctx, stored)
	require.NoError(t, err)
	assert.InDelta(t, 0.88, updated.Confidence, 1e-9)
	assert.Equal(t, "reviewed", updated.Details["note"])

	// Item lists may not.
	tampered := *updated
	tampered.Source1ItemIDs = []string{"s1-1", "s1-extra"}
	_, err = store.UpdateMatch(ctx, &tampered)
	require.ErrorIs(t, err, common.ErrValidation)

	var immutable *common.ImmutableFieldError
	require.ErrorAs(t, err, &immutable)
	assert.Equal(t, "source1_item_ids", immutable.Field)

	// Neither may method.
	tampered = *updated
	tampered.Method = model.MethodForced
	_, err = store.UpdateMatch(ctx, &tampered)
	require.ErrorAs(t, err, &immutable)
	assert.Equal(t, "method", immutable.Field)
}

func TestFindMatches_ReadPaths(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	auto := seedPair(t, store, "owner-a", "s1-1", "s2-1")
	auto.Confidence = 0.97
	require.NoError(t, store.CreateMatch(ctx, auto))

	manual := seedPair(t, store, "owner-a", "s1-2", "s2-2")
	creator := "analyst-7"
	manual.Method = model.MethodManual
	manual.CreatedBy = &creator
	manual.Confidence = 0.55
	require.NoError(t, store.CreateMatch(ctx, manual))

	byItem, err := store.FindMatchesByItem(ctx, "owner-a", "s2-2")
	require.NoError(t, err)
	require.Len(t, byItem, 1)
	assert.Equal(t, manual.ID, byItem[0].ID)

	byMethod, err := store.FindMatchesByMethod(ctx, "owner-a", model.MethodManual)
	require.NoError(t, err)
	require.Len(t, byMethod, 1)
	assert.Equal(t, manual.ID, byMethod[0].ID)

	byRange, err := store.FindMatchesByDateRange(ctx, "owner-a",
		time.Now().UTC().Add(-time.Hour), time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, byRange, 2)

	low, err := store.FindLowConfidenceMatches(ctx, "owner-a", 0.70)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, manual.ID, low[0].ID)

	// Reads are owner-scoped.
	other, err := store.FindMatchesByItem(ctx, "owner-b", "s2-2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestGetUnmatchedItems_ExcludesActivelyMatched(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	match := seedPair(t, store, "owner-a", "s1-1", "s2-1")
	seedItems(t, store, testItem("s2-free", "owner-a", model.SourceTwo, 250, matchDate))
	require.NoError(t, store.CreateMatch(ctx, match))

	items, err := store.GetUnmatchedItems(ctx, service.ItemFilter{
		OwnerID: "owner-a",
		Source:  model.SourceTwo,
		From:    matchDate.AddDate(0, 0, -7),
		To:      matchDate.AddDate(0, 0, 7),
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "s2-free", items[0].ID)

	// After unmatching, the linked item becomes discoverable again.
	_, err = store.Unmatch(ctx, "owner-a", match.ID, "x", "redo")
	require.NoError(t, err)

	items, err = store.GetUnmatchedItems(ctx, service.ItemFilter{
		OwnerID: "owner-a",
		Source:  model.SourceTwo,
		From:    matchDate.AddDate(0, 0, -7),
		To:      matchDate.AddDate(0, 0, 7),
	})
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestGetUnmatchedItems_AmountBandUsesMagnitude(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	seedItems(t, store,
		testItem("debit", "owner-a", model.SourceOne, -995, matchDate),
		testItem("small", "owner-a", model.SourceOne, -10, matchDate),
		testItem("large", "owner-a", model.SourceOne, -5000, matchDate),
	)

	minAmt, maxAmt := 950.0, 1050.0
	items, err := store.GetUnmatchedItems(ctx, service.ItemFilter{
		OwnerID:   "owner-a",
		Source:    model.SourceOne,
		From:      matchDate.AddDate(0, 0, -1),
		To:        matchDate.AddDate(0, 0, 1),
		AmountMin: &minAmt,
		AmountMax: &maxAmt,
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "debit", items[0].ID)
}
