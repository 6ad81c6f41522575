package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/halcyon-labs/recon/internal/common"
	"github.com/halcyon-labs/recon/internal/model"
)

// CreateOccurrence persists a new expected occurrence. In production these
// rows come from the external recurrence generator; this write path serves
// that integration and tests.
func (s *SQLiteStorage) CreateOccurrence(ctx context.Context, occ *model.ExpectedOccurrence) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if occ != nil && occ.ID == "" {
		occ.ID = uuid.NewString()
	}
	if occ != nil && occ.Status == "" {
		occ.Status = model.OccurrenceUpcoming
	}
	if err := validateOccurrence(occ); err != nil {
		return err
	}

	now := time.Now().UTC()
	occ.CreatedAt = now
	occ.UpdatedAt = now

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO expected_occurrences (
			id, definition_id, owner_id, expected_date, expected_amount,
			account_id, party_name, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		occ.ID, occ.DefinitionID, occ.OwnerID, occ.ExpectedDate,
		occ.ExpectedAmount, occ.AccountID, occ.PartyName,
		string(occ.Status), occ.CreatedAt, occ.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert occurrence: %w", err)
	}
	return nil
}

// GetOccurrence retrieves one expected occurrence, owner-scoped.
func (s *SQLiteStorage) GetOccurrence(ctx context.Context, ownerID, occID string) (*model.ExpectedOccurrence, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	if err := validateString(occID, "occID"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, occurrenceSelect+` WHERE id = ? AND owner_id = ?`, occID, ownerID)

	occ, err := scanOccurrence(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: occurrence %s", common.ErrNotFound, occID)
		}
		return nil, fmt.Errorf("failed to get occurrence: %w", err)
	}
	return occ, nil
}

// GetOccurrencesByStatus lists an owner's occurrences in a given status,
// oldest expected date first.
func (s *SQLiteStorage) GetOccurrencesByStatus(ctx context.Context, ownerID string, status model.OccurrenceStatus) ([]model.ExpectedOccurrence, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown occurrence status %q", common.ErrValidation, status)
	}

	return s.queryOccurrences(ctx, occurrenceSelect+`
		WHERE owner_id = ? AND status = ?
		ORDER BY expected_date, id
	`, ownerID, string(status))
}

// GetMissingOccurrences returns occurrences already marked missing plus
// upcoming ones whose expected date has lapsed as of the given time. The
// latter lets callers preview what the next sweep will flip.
func (s *SQLiteStorage) GetMissingOccurrences(ctx context.Context, ownerID string, asOf time.Time) ([]model.ExpectedOccurrence, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	if asOf.IsZero() {
		return nil, fmt.Errorf("%w: asOf", ErrNilParameter)
	}

	return s.queryOccurrences(ctx, occurrenceSelect+`
		WHERE owner_id = ? AND (
			status = ?
			OR (status = ? AND expected_date < ? AND actual_item_id IS NULL)
		)
		ORDER BY expected_date, id
	`, ownerID, string(model.OccurrenceMissing), string(model.OccurrenceUpcoming), asOf)
}

// TransitionOccurrence persists the occurrence's mutable fields, guarded by a
// predicate on the previous status. A transition that affects zero rows means
// another writer got there first; that surfaces as a conflict so callers
// never silently clobber a concurrent link.
func (s *SQLiteStorage) TransitionOccurrence(ctx context.Context, occ *model.ExpectedOccurrence, from model.OccurrenceStatus) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateOccurrence(occ); err != nil {
		return err
	}
	if !from.Valid() {
		return fmt.Errorf("%w: unknown previous status %q", common.ErrValidation, from)
	}

	occ.UpdatedAt = time.Now().UTC()

	var linkMethod any
	if occ.LinkMethod != "" {
		linkMethod = string(occ.LinkMethod)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE expected_occurrences
		SET status = ?, actual_item_id = ?, actual_date = ?, actual_amount = ?,
			variance = ?, link_method = ?, updated_at = ?
		WHERE id = ? AND owner_id = ? AND status = ?
	`,
		string(occ.Status), occ.ActualItemID, occ.ActualDate, occ.ActualAmount,
		occ.Variance, linkMethod, occ.UpdatedAt,
		occ.ID, occ.OwnerID, string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to transition occurrence: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read transition result: %w", err)
	}
	if affected == 0 {
		// Distinguish a missing row from a lost race.
		if _, getErr := s.GetOccurrence(ctx, occ.OwnerID, occ.ID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: occurrence %s is no longer %s", common.ErrConflict, occ.ID, from)
	}
	return nil
}

// SweepMissing flips every lapsed upcoming occurrence to missing, across all
// owners. The predicate re-checks status at write time, so the sweep is
// idempotent and safe to run concurrently with itself and with manual
// linking: a link that lands between read and write just means zero affected
// rows for that occurrence.
func (s *SQLiteStorage) SweepMissing(ctx context.Context, asOf time.Time) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if asOf.IsZero() {
		return 0, fmt.Errorf("%w: asOf", ErrNilParameter)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE expected_occurrences
		SET status = ?, updated_at = ?
		WHERE status = ? AND expected_date < ? AND actual_item_id IS NULL
	`, string(model.OccurrenceMissing), time.Now().UTC(), string(model.OccurrenceUpcoming), asOf)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep missing occurrences: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read sweep result: %w", err)
	}
	return affected, nil
}

const occurrenceSelect = `
	SELECT id, definition_id, owner_id, expected_date, expected_amount,
		account_id, party_name, actual_item_id, actual_date, actual_amount,
		variance, status, link_method, created_at, updated_at
	FROM expected_occurrences
`

func (s *SQLiteStorage) queryOccurrences(ctx context.Context, query string, args ...any) ([]model.ExpectedOccurrence, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query occurrences: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var occs []model.ExpectedOccurrence
	for rows.Next() {
		occ, err := scanOccurrence(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan occurrence: %w", err)
		}
		occs = append(occs, *occ)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate occurrences: %w", err)
	}
	return occs, nil
}

func scanOccurrence(row scanner) (*model.ExpectedOccurrence, error) {
	var occ model.ExpectedOccurrence
	var status string
	var accountID, partyName sql.NullString
	var actualItemID, linkMethod sql.NullString
	var actualDate sql.NullTime
	var actualAmount, variance sql.NullFloat64

	if err := row.Scan(
		&occ.ID, &occ.DefinitionID, &occ.OwnerID, &occ.ExpectedDate,
		&occ.ExpectedAmount, &accountID, &partyName, &actualItemID,
		&actualDate, &actualAmount, &variance, &status, &linkMethod,
		&occ.CreatedAt, &occ.UpdatedAt,
	); err != nil {
		return nil, err
	}

	occ.Status = model.OccurrenceStatus(status)
	occ.LinkMethod = model.MatchMethod(linkMethod.String)
	occ.AccountID = accountID.String
	occ.PartyName = partyName.String

	if actualItemID.Valid {
		occ.ActualItemID = &actualItemID.String
	}
	if actualDate.Valid {
		t := actualDate.Time
		occ.ActualDate = &t
	}
	if actualAmount.Valid {
		v := actualAmount.Float64
		occ.ActualAmount = &v
	}
	if variance.Valid {
		v := variance.Float64
		occ.Variance = &v
	}

	return &occ, nil
}
