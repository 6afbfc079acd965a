package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/factorflow/internal/common"
	"github.com/Veraticus/factorflow/internal/model"
	"github.com/Veraticus/factorflow/internal/service"
)

const recordColumns = `r.id, r.account_id, r.category_path, r.unit, r.scope, r.quantity, r.date, r.notes, r.match_status`

// SaveRecords stores usage records, replacing the payload of existing records with the same ID.
// The match status of an existing record is only replaced when the incoming record carries one.
func (s *SQLiteStorage) SaveRecords(ctx context.Context, records []model.UsageRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRecords(records); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", common.ErrPersistence, err)
	}
	defer func() {
		_ = tx.Rollback() // Rollback is a no-op if tx has been committed
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO usage_records (id, account_id, category_path, unit, scope, quantity, date, notes, match_status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, COALESCE(NULLIF(?, ''), 'unmatched'), CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			account_id = excluded.account_id,
			category_path = excluded.category_path,
			unit = excluded.unit,
			scope = excluded.scope,
			quantity = excluded.quantity,
			date = excluded.date,
			notes = excluded.notes,
			match_status = CASE WHEN ? = '' THEN usage_records.match_status ELSE excluded.match_status END,
			updated_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return fmt.Errorf("%w: failed to prepare statement: %w", common.ErrPersistence, err)
	}
	defer func() {
		_ = stmt.Close()
	}()

	for i := range records {
		r := &records[i]
		path, err := json.Marshal(nonNilLevels(r.CategoryPath))
		if err != nil {
			return fmt.Errorf("failed to marshal category path for %s: %w", r.ID, err)
		}

		var date sql.NullTime
		if !r.Date.IsZero() {
			date = sql.NullTime{Time: r.Date, Valid: true}
		}

		status := string(r.MatchStatus)
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.AccountID, string(path), r.Unit, int(r.Scope), r.Quantity, date, r.Notes, status, status,
		); err != nil {
			return fmt.Errorf("%w: failed to save record %s: %w", common.ErrPersistence, r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit records: %w", common.ErrPersistence, err)
	}
	return nil
}

// GetRecord retrieves a single usage record.
func (s *SQLiteStorage) GetRecord(ctx context.Context, id string) (*model.UsageRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM usage_records r WHERE r.id = ?`, id)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return record, nil
}

// FetchUnmatched returns the records selected by filter, oldest first.
func (s *SQLiteStorage) FetchUnmatched(ctx context.Context, filter service.RecordFilter) ([]model.UsageRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
		join  string
	)

	kind := filter.Kind
	if kind == "" {
		kind = service.SelectUnmatched
	}

	switch kind {
	case service.SelectUnmatched:
		where = append(where, "r.match_status = ?")
		args = append(args, string(model.StatusUnmatched))
	case service.SelectFailed:
		where = append(where, "r.match_status = ?")
		args = append(args, string(model.StatusFailed))
	case service.SelectSourceChanged:
		if strings.TrimSpace(filter.Source) == "" {
			return nil, fmt.Errorf("%w: source-changed selection requires a source", common.ErrInvalidInput)
		}
		join = "JOIN calculation_results c ON c.entry_id = r.id"
		where = append(where, "LOWER(c.source) != LOWER(?)")
		args = append(args, filter.Source)
	default:
		return nil, fmt.Errorf("%w: unknown selector %q", common.ErrInvalidInput, kind)
	}

	if filter.AccountID != "" {
		where = append(where, "r.account_id = ?")
		args = append(args, filter.AccountID)
	}

	query := `SELECT ` + recordColumns + ` FROM usage_records r ` + join +
		` WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY r.date, r.id`
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []model.UsageRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

// SetMatchStatus updates the match status of one record.
func (s *SQLiteStorage) SetMatchStatus(ctx context.Context, entryID string, status model.MatchStatus) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(entryID, "entryID"); err != nil {
		return err
	}
	if err := validateStatus(status); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE usage_records SET match_status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(status), entryID)
	if err != nil {
		return fmt.Errorf("%w: failed to update status of %s: %w", common.ErrPersistence, entryID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: failed to read affected rows: %w", common.ErrPersistence, err)
	}
	if n == 0 {
		return fmt.Errorf("record %s: %w", entryID, common.ErrNotFound)
	}
	return nil
}

// CountRecords returns the number of records per match status, optionally for one account.
func (s *SQLiteStorage) CountRecords(ctx context.Context, accountID string) (map[model.MatchStatus]int, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT match_status, COUNT(*) FROM usage_records`
	var args []any
	if accountID != "" {
		query += ` WHERE account_id = ?`
		args = append(args, accountID)
	}
	query += ` GROUP BY match_status`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	counts := make(map[model.MatchStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[model.MatchStatus(status)] = n
	}
	return counts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*model.UsageRecord, error) {
	var (
		r      model.UsageRecord
		path   string
		scope  int
		date   sql.NullTime
		status string
	)
	if err := row.Scan(&r.ID, &r.AccountID, &path, &r.Unit, &scope, &r.Quantity, &date, &r.Notes, &status); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(path), &r.CategoryPath); err != nil {
		return nil, fmt.Errorf("failed to unmarshal category path of %s: %w", r.ID, err)
	}
	r.Scope = model.Scope(scope)
	r.MatchStatus = model.MatchStatus(status)
	if date.Valid {
		r.Date = date.Time.UTC()
	}
	return &r, nil
}

func nonNilLevels(levels []string) []string {
	if levels == nil {
		return []string{}
	}
	return levels
}
