package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application
// expects. If the database cannot be migrated to this version, it's a fatal
// error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema: items and matches",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS items (
					id TEXT PRIMARY KEY,
					owner_id TEXT NOT NULL,
					source TEXT NOT NULL,
					amount REAL NOT NULL,
					currency TEXT NOT NULL DEFAULT '',
					date DATETIME NOT NULL,
					account_id TEXT,
					party_name TEXT,
					description TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_items_owner_source_date ON items(owner_id, source, date)`,
				`CREATE INDEX idx_items_owner_source_amount ON items(owner_id, source, amount)`,

				`CREATE TABLE IF NOT EXISTS matches (
					id TEXT PRIMARY KEY,
					owner_id TEXT NOT NULL,
					source1_item_ids TEXT NOT NULL,
					source2_item_ids TEXT NOT NULL,
					cardinality TEXT NOT NULL,
					method TEXT NOT NULL,
					confidence REAL NOT NULL,
					feature_scores TEXT NOT NULL,
					details TEXT,
					created_at DATETIME NOT NULL,
					created_by TEXT,
					is_active INTEGER NOT NULL DEFAULT 1,
					unmatched_at DATETIME,
					unmatched_by TEXT,
					unmatch_reason TEXT
				)`,
				`CREATE INDEX idx_matches_owner_active ON matches(owner_id, is_active)`,
				`CREATE INDEX idx_matches_owner_confidence ON matches(owner_id, confidence)`,
				`CREATE INDEX idx_matches_owner_created ON matches(owner_id, created_at)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Item-to-match index for O(1) matched checks",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				// active_guard mirrors item_id while the match is active and
				// exclusive (non many-to-many), and is NULL otherwise. SQLite
				// treats NULLs as distinct in unique indexes, so the index
				// below enforces "one active exclusive match per item" even
				// under concurrent creates.
				`CREATE TABLE IF NOT EXISTS match_items (
					match_id TEXT NOT NULL,
					item_id TEXT NOT NULL,
					owner_id TEXT NOT NULL,
					source TEXT NOT NULL,
					is_active INTEGER NOT NULL DEFAULT 1,
					active_guard TEXT,
					FOREIGN KEY (match_id) REFERENCES matches(id)
				)`,
				`CREATE UNIQUE INDEX idx_match_items_active_guard
					ON match_items(owner_id, source, active_guard)`,
				`CREATE INDEX idx_match_items_item ON match_items(item_id, is_active)`,
				`CREATE INDEX idx_match_items_match ON match_items(match_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Expected occurrences for recurring-event tracking",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS expected_occurrences (
					id TEXT PRIMARY KEY,
					definition_id TEXT NOT NULL,
					owner_id TEXT NOT NULL,
					expected_date DATETIME NOT NULL,
					expected_amount REAL NOT NULL,
					account_id TEXT,
					party_name TEXT,
					actual_item_id TEXT,
					actual_date DATETIME,
					actual_amount REAL,
					variance REAL,
					status TEXT NOT NULL DEFAULT 'UPCOMING',
					link_method TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_occurrences_owner_status_date
					ON expected_occurrences(owner_id, status, expected_date)`,
				`CREATE INDEX idx_occurrences_definition ON expected_occurrences(definition_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
}

// Migrate runs all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	current, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		slog.Info("Applying migration", "version", m.Version, "description", m.Description)

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration transaction: %w", err)
		}

		if err := m.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			`INSERT INTO schema_migrations (version, description) VALUES (?, ?)`,
			m.Version, m.Description,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
	}

	final, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}
	if final != ExpectedSchemaVersion {
		return fmt.Errorf("schema version %d after migration, expected %d", final, ExpectedSchemaVersion)
	}

	return nil
}

func (s *SQLiteStorage) schemaVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return int(version.Int64), nil
}
