package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/halcyon-labs/recon/internal/common"
	"github.com/halcyon-labs/recon/internal/model"
)

// CreateMatch persists a confirmed match. The active-match conflict check and
// the insert happen inside one transaction, and the match_items unique guard
// backs the check so two racing creates cannot both link the same item.
func (s *SQLiteStorage) CreateMatch(ctx context.Context, match *model.Match) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateMatch(match); err != nil {
		return err
	}

	if match.ID == "" {
		match.ID = uuid.NewString()
	}
	if match.CreatedAt.IsZero() {
		match.CreatedAt = time.Now().UTC()
	}
	match.IsActive = true

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.verifyMatchItems(ctx, tx, match, model.SourceOne, match.Source1ItemIDs); err != nil {
		return err
	}
	if err := s.verifyMatchItems(ctx, tx, match, model.SourceTwo, match.Source2ItemIDs); err != nil {
		return err
	}

	source1JSON, err := json.Marshal(match.Source1ItemIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal source-1 item ids: %w", err)
	}
	source2JSON, err := json.Marshal(match.Source2ItemIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal source-2 item ids: %w", err)
	}
	scoresJSON, err := json.Marshal(match.FeatureScores)
	if err != nil {
		return fmt.Errorf("failed to marshal feature scores: %w", err)
	}
	detailsJSON, err := json.Marshal(match.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal match details: %w", err)
	}

	var createdBy any
	if match.CreatedBy != nil {
		createdBy = *match.CreatedBy
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO matches (
			id, owner_id, source1_item_ids, source2_item_ids, cardinality,
			method, confidence, feature_scores, details, created_at, created_by, is_active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`,
		match.ID, match.OwnerID, string(source1JSON), string(source2JSON),
		string(match.Cardinality), string(match.Method), match.Confidence,
		string(scoresJSON), string(detailsJSON), match.CreatedAt, createdBy,
	); err != nil {
		return fmt.Errorf("failed to insert match: %w", err)
	}

	if err := s.insertMatchItems(ctx, tx, match, model.SourceOne, match.Source1ItemIDs); err != nil {
		return err
	}
	if err := s.insertMatchItems(ctx, tx, match, model.SourceTwo, match.Source2ItemIDs); err != nil {
		return err
	}

	return tx.Commit()
}

// verifyMatchItems checks that each referenced item exists, belongs to the
// owner, sits on the expected side, and is not held by a conflicting active
// match.
func (s *SQLiteStorage) verifyMatchItems(ctx context.Context, tx *sql.Tx, match *model.Match, side model.ItemSource, itemIDs []string) error {
	for _, itemID := range itemIDs {
		var source string
		err := tx.QueryRowContext(ctx,
			`SELECT source FROM items WHERE id = ? AND owner_id = ?`,
			itemID, match.OwnerID,
		).Scan(&source)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: item %s", common.ErrNotFound, itemID)
		}
		if err != nil {
			return fmt.Errorf("failed to verify item %s: %w", itemID, err)
		}
		if model.ItemSource(source) != side {
			return fmt.Errorf("%w: item %s is from %s, expected %s",
				common.ErrValidation, itemID, source, side)
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT mi.match_id, m.cardinality
			FROM match_items mi
			JOIN matches m ON m.id = mi.match_id
			WHERE mi.item_id = ? AND mi.owner_id = ? AND mi.is_active = 1
		`, itemID, match.OwnerID)
		if err != nil {
			return fmt.Errorf("failed to check active matches for item %s: %w", itemID, err)
		}

		conflictID, err := firstConflict(rows, match.Cardinality)
		if err != nil {
			return err
		}
		if conflictID != "" {
			return common.NewConflictError(itemID, conflictID)
		}
	}
	return nil
}

// firstConflict scans active holdings of an item and returns the first match
// id that excludes a new link. Items may share active matches only when every
// participating match is many-to-many.
func firstConflict(rows *sql.Rows, newCardinality model.Cardinality) (string, error) {
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var matchID, cardinality string
		if err := rows.Scan(&matchID, &cardinality); err != nil {
			return "", fmt.Errorf("failed to scan active match: %w", err)
		}
		if newCardinality != model.ManyToMany {
			return matchID, nil
		}
		if model.Cardinality(cardinality) != model.ManyToMany {
			return matchID, nil
		}
	}
	return "", rows.Err()
}

func (s *SQLiteStorage) insertMatchItems(ctx context.Context, tx *sql.Tx, match *model.Match, side model.ItemSource, itemIDs []string) error {
	for _, itemID := range itemIDs {
		var guard any
		if match.Cardinality != model.ManyToMany {
			guard = itemID
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO match_items (match_id, item_id, owner_id, source, is_active, active_guard)
			VALUES (?, ?, ?, ?, 1, ?)
		`, match.ID, itemID, match.OwnerID, string(side), guard); err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				// A concurrent create won the race for this item.
				return common.NewConflictError(itemID, "")
			}
			return fmt.Errorf("failed to index match item %s: %w", itemID, err)
		}
	}
	return nil
}

// GetMatch retrieves a match by id, owner-scoped.
func (s *SQLiteStorage) GetMatch(ctx context.Context, ownerID, matchID string) (*model.Match, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	if err := validateString(matchID, "matchID"); err != nil {
		return nil, err
	}
	return s.getMatchTx(ctx, s.db, ownerID, matchID)
}

func (s *SQLiteStorage) getMatchTx(ctx context.Context, q queryable, ownerID, matchID string) (*model.Match, error) {
	row := q.QueryRowContext(ctx, matchSelect+` WHERE id = ? AND owner_id = ?`, matchID, ownerID)

	match, err := scanMatch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: match %s", common.ErrNotFound, matchID)
		}
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	return match, nil
}

// FindMatchesByItem returns the active matches touching an item.
func (s *SQLiteStorage) FindMatchesByItem(ctx context.Context, ownerID, itemID string) ([]model.Match, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	if err := validateString(itemID, "itemID"); err != nil {
		return nil, err
	}

	return s.queryMatches(ctx, matchSelect+`
		WHERE owner_id = ? AND is_active = 1 AND id IN (
			SELECT match_id FROM match_items WHERE item_id = ? AND owner_id = ?
		)
		ORDER BY created_at DESC
	`, ownerID, itemID, ownerID)
}

// FindMatchesByMethod returns active matches created by the given method.
func (s *SQLiteStorage) FindMatchesByMethod(ctx context.Context, ownerID string, method model.MatchMethod) ([]model.Match, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	if !method.Valid() {
		return nil, fmt.Errorf("%w: unknown match method %q", common.ErrValidation, method)
	}

	return s.queryMatches(ctx, matchSelect+`
		WHERE owner_id = ? AND method = ? AND is_active = 1
		ORDER BY created_at DESC
	`, ownerID, string(method))
}

// FindMatchesByDateRange returns active matches created within a date range.
func (s *SQLiteStorage) FindMatchesByDateRange(ctx context.Context, ownerID string, start, end time.Time) ([]model.Match, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	if err := validateDateRange(start, end); err != nil {
		return nil, err
	}

	return s.queryMatches(ctx, matchSelect+`
		WHERE owner_id = ? AND is_active = 1 AND created_at >= ? AND created_at <= ?
		ORDER BY created_at DESC
	`, ownerID, start, end)
}

// FindLowConfidenceMatches returns active matches below the given confidence
// threshold, weakest first, for review queues.
func (s *SQLiteStorage) FindLowConfidenceMatches(ctx context.Context, ownerID string, threshold float64) ([]model.Match, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: threshold %v out of range [0,1]", common.ErrValidation, threshold)
	}

	return s.queryMatches(ctx, matchSelect+`
		WHERE owner_id = ? AND is_active = 1 AND confidence < ?
		ORDER BY confidence ASC, created_at DESC
	`, ownerID, threshold)
}

// UpdateMatch persists confidence and annotation-detail changes. Item lists,
// cardinality, and method are fixed at creation; attempts to change them fail
// with an immutable-field error.
func (s *SQLiteStorage) UpdateMatch(ctx context.Context, match *model.Match) (*model.Match, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if match == nil {
		return nil, fmt.Errorf("%w: match", ErrNilParameter)
	}
	if err := validateString(match.OwnerID, "match.OwnerID"); err != nil {
		return nil, err
	}
	if err := validateString(match.ID, "match.ID"); err != nil {
		return nil, err
	}
	if match.Confidence < 0 || match.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %v out of range [0,1]", common.ErrValidation, match.Confidence)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stored, err := s.getMatchTx(ctx, tx, match.OwnerID, match.ID)
	if err != nil {
		return nil, err
	}

	if field := immutableFieldChange(stored, match); field != "" {
		return nil, &common.ImmutableFieldError{Field: field}
	}

	detailsJSON, err := json.Marshal(match.Details)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal match details: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE matches SET confidence = ?, details = ? WHERE id = ? AND owner_id = ?
	`, match.Confidence, string(detailsJSON), match.ID, match.OwnerID); err != nil {
		return nil, fmt.Errorf("failed to update match: %w", err)
	}

	updated, err := s.getMatchTx(ctx, tx, match.OwnerID, match.ID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit match update: %w", err)
	}
	return updated, nil
}

// immutableFieldChange returns the name of the first core identity field that
// differs between the stored match and the proposed update, or "".
func immutableFieldChange(stored, updated *model.Match) string {
	if !slices.Equal(stored.Source1ItemIDs, updated.Source1ItemIDs) {
		return "source1_item_ids"
	}
	if !slices.Equal(stored.Source2ItemIDs, updated.Source2ItemIDs) {
		return "source2_item_ids"
	}
	if stored.Cardinality != updated.Cardinality {
		return "cardinality"
	}
	if stored.Method != updated.Method {
		return "method"
	}
	return ""
}

// Unmatch retires an active match: the row survives with is_active = 0 and
// the audit fields stamped. Unmatching an already-inactive match is an error
// so callers can detect double-unmatch bugs.
func (s *SQLiteStorage) Unmatch(ctx context.Context, ownerID, matchID, unmatchedBy, reason string) (*model.Match, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	if err := validateString(matchID, "matchID"); err != nil {
		return nil, err
	}
	if err := validateString(reason, "reason"); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE matches
		SET is_active = 0, unmatched_at = ?, unmatched_by = ?, unmatch_reason = ?
		WHERE id = ? AND owner_id = ? AND is_active = 1
	`, now, unmatchedBy, reason, matchID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to unmatch: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read unmatch result: %w", err)
	}
	if affected == 0 {
		// Either the match doesn't exist for this owner, or it's already
		// inactive. Distinguish the two for the caller.
		stored, getErr := s.getMatchTx(ctx, tx, ownerID, matchID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: match %s is already inactive", common.ErrConflict, stored.ID)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE match_items SET is_active = 0, active_guard = NULL WHERE match_id = ?
	`, matchID); err != nil {
		return nil, fmt.Errorf("failed to release match items: %w", err)
	}

	updated, err := s.getMatchTx(ctx, tx, ownerID, matchID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit unmatch: %w", err)
	}
	return updated, nil
}

// AuditTrail returns every match, active and inactive, that ever touched the
// item, newest first. This is the complete provenance chain for the item.
func (s *SQLiteStorage) AuditTrail(ctx context.Context, ownerID, itemID string) ([]model.Match, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	if err := validateString(itemID, "itemID"); err != nil {
		return nil, err
	}

	return s.queryMatches(ctx, matchSelect+`
		WHERE owner_id = ? AND id IN (
			SELECT match_id FROM match_items WHERE item_id = ? AND owner_id = ?
		)
		ORDER BY created_at DESC
	`, ownerID, itemID, ownerID)
}

const matchSelect = `
	SELECT id, owner_id, source1_item_ids, source2_item_ids, cardinality,
		method, confidence, feature_scores, details, created_at, created_by,
		is_active, unmatched_at, unmatched_by, unmatch_reason
	FROM matches
`

func (s *SQLiteStorage) queryMatches(ctx context.Context, query string, args ...any) ([]model.Match, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []model.Match
	for rows.Next() {
		match, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, *match)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate matches: %w", err)
	}
	return matches, nil
}

func scanMatch(row scanner) (*model.Match, error) {
	var match model.Match
	var source1JSON, source2JSON, scoresJSON string
	var detailsJSON, createdBy, unmatchedBy, unmatchReason sql.NullString
	var cardinality, method string
	var unmatchedAt sql.NullTime

	if err := row.Scan(
		&match.ID, &match.OwnerID, &source1JSON, &source2JSON, &cardinality,
		&method, &match.Confidence, &scoresJSON, &detailsJSON, &match.CreatedAt,
		&createdBy, &match.IsActive, &unmatchedAt, &unmatchedBy, &unmatchReason,
	); err != nil {
		return nil, err
	}

	match.Cardinality = model.Cardinality(cardinality)
	match.Method = model.MatchMethod(method)

	if err := json.Unmarshal([]byte(source1JSON), &match.Source1ItemIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal source-1 item ids: %w", err)
	}
	if err := json.Unmarshal([]byte(source2JSON), &match.Source2ItemIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal source-2 item ids: %w", err)
	}
	if err := json.Unmarshal([]byte(scoresJSON), &match.FeatureScores); err != nil {
		return nil, fmt.Errorf("failed to unmarshal feature scores: %w", err)
	}
	if detailsJSON.Valid && detailsJSON.String != "" && detailsJSON.String != "null" {
		if err := json.Unmarshal([]byte(detailsJSON.String), &match.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal match details: %w", err)
		}
	}

	if createdBy.Valid {
		match.CreatedBy = &createdBy.String
	}
	if unmatchedAt.Valid {
		t := unmatchedAt.Time
		match.UnmatchedAt = &t
	}
	match.UnmatchedBy = unmatchedBy.String
	match.UnmatchReason = unmatchReason.String

	return &match, nil
}
