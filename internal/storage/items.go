package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/halcyon-labs/recon/internal/common"
	"github.com/halcyon-labs/recon/internal/model"
	"github.com/halcyon-labs/recon/internal/service"
)

// SaveItems upserts normalized items. This is the write path for imports and
// tests; on request paths this core only reads items.
func (s *SQLiteStorage) SaveItems(ctx context.Context, items []model.Item) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateItems(items); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO items (id, owner_id, source, amount, currency, date, account_id, party_name, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			currency = excluded.currency,
			date = excluded.date,
			account_id = excluded.account_id,
			party_name = excluded.party_name,
			description = excluded.description
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare item insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, item := range items {
		if _, err := stmt.ExecContext(ctx,
			item.ID, item.OwnerID, string(item.Source), item.Amount,
			item.Currency, item.Date, item.AccountID, item.PartyName, item.Description,
		); err != nil {
			return fmt.Errorf("failed to save item %s: %w", item.ID, err)
		}
	}

	return tx.Commit()
}

// GetItem retrieves a single item, owner-scoped. An item owned by a different
// owner is indistinguishable from a missing one.
func (s *SQLiteStorage) GetItem(ctx context.Context, ownerID, itemID string) (*model.Item, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	if err := validateString(itemID, "itemID"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, source, amount, currency, date, account_id, party_name, description
		FROM items
		WHERE id = ? AND owner_id = ?
	`, itemID, ownerID)

	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: item %s", common.ErrNotFound, itemID)
		}
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

// GetUnmatchedItems returns items in the filter window that are not part of
// any active match. This is the bounded pre-filter behind candidate
// discovery: the caller never scores the whole table.
func (s *SQLiteStorage) GetUnmatchedItems(ctx context.Context, filter service.ItemFilter) ([]model.Item, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(filter.OwnerID, "filter.OwnerID"); err != nil {
		return nil, err
	}
	if !filter.Source.Valid() {
		return nil, fmt.Errorf("%w: unknown item source %q", common.ErrValidation, filter.Source)
	}
	if err := validateDateRange(filter.From, filter.To); err != nil {
		return nil, err
	}

	query := `
		SELECT i.id, i.owner_id, i.source, i.amount, i.currency, i.date,
			i.account_id, i.party_name, i.description
		FROM items i
		WHERE i.owner_id = ? AND i.source = ?
			AND i.date >= ? AND i.date <= ?
			AND NOT EXISTS (
				SELECT 1 FROM match_items mi
				WHERE mi.item_id = i.id AND mi.is_active = 1
			)
	`
	args := []any{filter.OwnerID, string(filter.Source), filter.From, filter.To}

	// The amount band filters on magnitude so debits match credits.
	if filter.AmountMin != nil {
		query += ` AND ABS(i.amount) >= ?`
		args = append(args, math.Abs(*filter.AmountMin))
	}
	if filter.AmountMax != nil {
		query += ` AND ABS(i.amount) <= ?`
		args = append(args, math.Abs(*filter.AmountMax))
	}

	query += ` ORDER BY i.date, i.id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query unmatched items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate items: %w", err)
	}

	return items, nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*model.Item, error) {
	var item model.Item
	var source string
	var accountID, partyName, description sql.NullString

	if err := row.Scan(
		&item.ID, &item.OwnerID, &source, &item.Amount, &item.Currency,
		&item.Date, &accountID, &partyName, &description,
	); err != nil {
		return nil, err
	}

	item.Source = model.ItemSource(source)
	item.AccountID = accountID.String
	item.PartyName = partyName.String
	item.Description = description.String
	return &item, nil
}
