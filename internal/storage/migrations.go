package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
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
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS usage_records (
					id TEXT PRIMARY KEY,
					account_id TEXT NOT NULL DEFAULT '',
					category_path TEXT NOT NULL,
					unit TEXT NOT NULL DEFAULT '',
					scope INTEGER NOT NULL DEFAULT 0,
					quantity REAL NOT NULL DEFAULT 0,
					date DATETIME,
					notes TEXT NOT NULL DEFAULT '',
					match_status TEXT NOT NULL DEFAULT 'unmatched',
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_usage_records_status ON usage_records(match_status)`,

				`CREATE TABLE IF NOT EXISTS reference_factors (
					id TEXT PRIMARY KEY,
					external_id TEXT NOT NULL DEFAULT '',
					version TEXT NOT NULL DEFAULT '',
					category_path TEXT NOT NULL,
					unit TEXT NOT NULL DEFAULT '',
					scope INTEGER NOT NULL DEFAULT 0,
					source TEXT NOT NULL DEFAULT '',
					region TEXT NOT NULL DEFAULT '',
					year INTEGER NOT NULL DEFAULT 0,
					conversion_value REAL,
					output_unit TEXT NOT NULL DEFAULT '',
					accepted_parameters TEXT NOT NULL DEFAULT '[]',
					constituents TEXT NOT NULL DEFAULT '[]'
				)`,
				`CREATE INDEX idx_reference_factors_source ON reference_factors(source COLLATE NOCASE)`,

				`CREATE TABLE IF NOT EXISTS calculation_results (
					entry_id TEXT PRIMARY KEY,
					id TEXT NOT NULL,
					matched_factor_id TEXT,
					total_value REAL NOT NULL,
					unit TEXT NOT NULL DEFAULT '',
					breakdown TEXT NOT NULL DEFAULT '[]',
					source TEXT NOT NULL DEFAULT '',
					method TEXT NOT NULL DEFAULT '',
					score REAL NOT NULL DEFAULT 0,
					calculated_at DATETIME NOT NULL,
					FOREIGN KEY (entry_id) REFERENCES usage_records(id)
				)`,
			)
		},
	},
	{
		Version:     2,
		Description: "Add result history for auditing",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS result_history (
					history_id INTEGER PRIMARY KEY AUTOINCREMENT,
					id TEXT NOT NULL,
					entry_id TEXT NOT NULL,
					matched_factor_id TEXT,
					total_value REAL NOT NULL,
					unit TEXT NOT NULL DEFAULT '',
					source TEXT NOT NULL DEFAULT '',
					method TEXT NOT NULL DEFAULT '',
					score REAL NOT NULL DEFAULT 0,
					calculated_at DATETIME NOT NULL,
					superseded_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (entry_id) REFERENCES usage_records(id)
				)`,
				`CREATE INDEX IF NOT EXISTS idx_result_history_entry_id ON result_history(entry_id)`,
			)
		},
	},
	{
		Version:     3,
		Description: "Index records by account and status",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE INDEX IF NOT EXISTS idx_usage_records_account_status ON usage_records(account_id, match_status)`,
				`CREATE INDEX IF NOT EXISTS idx_calculation_results_source ON calculation_results(source COLLATE NOCASE)`,
			)
		},
	},
}

func execAll(tx *sql.Tx, queries ...string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

// Migrate brings the schema up to ExpectedSchemaVersion.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	// Get current version
	currentVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	// Apply migrations
	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		// Update version
		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	// Verify we're at the expected schema version
	finalVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}

// SchemaVersion returns the database's current schema version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
