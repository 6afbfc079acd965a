package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Veraticus/factorflow/internal/common"
	"github.com/Veraticus/factorflow/internal/model"
)

// UpsertResult stores result as the current result for its record. A previous result for the
// same record is moved to result_history in the same transaction.
func (s *SQLiteStorage) UpsertResult(ctx context.Context, result *model.CalculationResult) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateResult(result); err != nil {
		return err
	}

	breakdown := result.Breakdown
	if breakdown == nil {
		breakdown = []model.ConstituentValue{}
	}
	breakdownJSON, err := json.Marshal(breakdown)
	if err != nil {
		return fmt.Errorf("failed to marshal breakdown: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", common.ErrPersistence, err)
	}
	defer func() {
		_ = tx.Rollback() // Rollback is a no-op if tx has been committed
	}()

	if err := archiveResultTx(ctx, tx, result.EntryID); err != nil {
		return err
	}

	var matched sql.NullString
	if result.MatchedFactorID != nil {
		matched = sql.NullString{String: *result.MatchedFactorID, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO calculation_results (
			entry_id, id, matched_factor_id, total_value, unit, breakdown, source, method, score, calculated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entry_id) DO UPDATE SET
			id = excluded.id,
			matched_factor_id = excluded.matched_factor_id,
			total_value = excluded.total_value,
			unit = excluded.unit,
			breakdown = excluded.breakdown,
			source = excluded.source,
			method = excluded.method,
			score = excluded.score,
			calculated_at = excluded.calculated_at
	`, result.EntryID, result.ID, matched, result.TotalValue, result.Unit, string(breakdownJSON),
		result.Source, string(result.Method), result.Score, result.CalculatedAt)
	if err != nil {
		return fmt.Errorf("%w: failed to save result for %s: %w", common.ErrPersistence, result.EntryID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit result: %w", common.ErrPersistence, err)
	}
	return nil
}

func archiveResultTx(ctx context.Context, tx *sql.Tx, entryID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO result_history (
			id, entry_id, matched_factor_id, total_value, unit, source, method, score, calculated_at
		)
		SELECT id, entry_id, matched_factor_id, total_value, unit, source, method, score, calculated_at
		FROM calculation_results
		WHERE entry_id = ?
	`, entryID)
	if err != nil {
		return fmt.Errorf("%w: failed to archive result for %s: %w", common.ErrPersistence, entryID, err)
	}
	return nil
}

// GetResult retrieves the current result for a record.
func (s *SQLiteStorage) GetResult(ctx context.Context, entryID string) (*model.CalculationResult, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(entryID, "entryID"); err != nil {
		return nil, err
	}

	var (
		result    model.CalculationResult
		matched   sql.NullString
		breakdown string
		method    string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT entry_id, id, matched_factor_id, total_value, unit, breakdown, source, method, score, calculated_at
		FROM calculation_results
		WHERE entry_id = ?
	`, entryID).Scan(&result.EntryID, &result.ID, &matched, &result.TotalValue, &result.Unit, &breakdown,
		&result.Source, &method, &result.Score, &result.CalculatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("result for %s: %w", entryID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	if err := json.Unmarshal([]byte(breakdown), &result.Breakdown); err != nil {
		return nil, fmt.Errorf("failed to unmarshal breakdown of %s: %w", entryID, err)
	}
	if len(result.Breakdown) == 0 {
		result.Breakdown = nil
	}
	if matched.Valid {
		id := matched.String
		result.MatchedFactorID = &id
	}
	result.Method = model.MatchMethod(method)
	result.CalculatedAt = result.CalculatedAt.UTC()
	return &result, nil
}

// ResultHistory returns the superseded results for a record, oldest first.
func (s *SQLiteStorage) ResultHistory(ctx context.Context, entryID string) ([]model.CalculationResult, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(entryID, "entryID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_id, id, matched_factor_id, total_value, unit, source, method, score, calculated_at
		FROM result_history
		WHERE entry_id = ?
		ORDER BY history_id
	`, entryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query result history: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var history []model.CalculationResult
	for rows.Next() {
		var (
			result  model.CalculationResult
			matched sql.NullString
			method  string
		)
		if err := rows.Scan(&result.EntryID, &result.ID, &matched, &result.TotalValue, &result.Unit,
			&result.Source, &method, &result.Score, &result.CalculatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan result history: %w", err)
		}
		if matched.Valid {
			id := matched.String
			result.MatchedFactorID = &id
		}
		result.Method = model.MatchMethod(method)
		result.CalculatedAt = result.CalculatedAt.UTC()
		history = append(history, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating result history: %w", err)
	}
	return history, nil
}
