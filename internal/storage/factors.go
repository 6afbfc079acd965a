package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Veraticus/factorflow/internal/common"
	"github.com/Veraticus/factorflow/internal/model"
)

// SaveFactors inserts or replaces catalog factors.
func (s *SQLiteStorage) SaveFactors(ctx context.Context, factors []model.ReferenceFactor) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateFactors(factors); err != nil {
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
		INSERT INTO reference_factors (
			id, external_id, version, category_path, unit, scope, source, region, year,
			conversion_value, output_unit, accepted_parameters, constituents
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			external_id = excluded.external_id,
			version = excluded.version,
			category_path = excluded.category_path,
			unit = excluded.unit,
			scope = excluded.scope,
			source = excluded.source,
			region = excluded.region,
			year = excluded.year,
			conversion_value = excluded.conversion_value,
			output_unit = excluded.output_unit,
			accepted_parameters = excluded.accepted_parameters,
			constituents = excluded.constituents
	`)
	if err != nil {
		return fmt.Errorf("%w: failed to prepare statement: %w", common.ErrPersistence, err)
	}
	defer func() {
		_ = stmt.Close()
	}()

	for i := range factors {
		f := &factors[i]
		path, params, constituents, err := marshalFactor(f)
		if err != nil {
			return err
		}

		var value sql.NullFloat64
		if f.ConversionValue != nil {
			value = sql.NullFloat64{Float64: *f.ConversionValue, Valid: true}
		}

		if _, err := stmt.ExecContext(ctx,
			f.ID, f.ExternalID, f.Version, path, f.Unit, int(f.Scope), f.Source, f.Region, f.Year,
			value, f.OutputUnit, params, constituents,
		); err != nil {
			return fmt.Errorf("%w: failed to save factor %s: %w", common.ErrPersistence, f.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit factors: %w", common.ErrPersistence, err)
	}
	return nil
}

// FetchFactors returns the catalog ordered by ID. When sourceFilter is set only factors from
// that source are returned, compared case-insensitively.
func (s *SQLiteStorage) FetchFactors(ctx context.Context, sourceFilter string) ([]model.ReferenceFactor, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, external_id, version, category_path, unit, scope, source, region, year,
			conversion_value, output_unit, accepted_parameters, constituents
		FROM reference_factors`
	var args []any
	if source := strings.TrimSpace(sourceFilter); source != "" {
		query += ` WHERE LOWER(source) = LOWER(?)`
		args = append(args, source)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query factors: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var factors []model.ReferenceFactor
	for rows.Next() {
		var (
			f            model.ReferenceFactor
			path         string
			params       string
			constituents string
			scope        int
			value        sql.NullFloat64
		)
		if err := rows.Scan(
			&f.ID, &f.ExternalID, &f.Version, &path, &f.Unit, &scope, &f.Source, &f.Region, &f.Year,
			&value, &f.OutputUnit, &params, &constituents,
		); err != nil {
			return nil, fmt.Errorf("failed to scan factor: %w", err)
		}

		if err := json.Unmarshal([]byte(path), &f.CategoryPath); err != nil {
			return nil, fmt.Errorf("failed to unmarshal category path of %s: %w", f.ID, err)
		}
		if err := json.Unmarshal([]byte(params), &f.AcceptedParameters); err != nil {
			return nil, fmt.Errorf("failed to unmarshal parameters of %s: %w", f.ID, err)
		}
		if err := json.Unmarshal([]byte(constituents), &f.Constituents); err != nil {
			return nil, fmt.Errorf("failed to unmarshal constituents of %s: %w", f.ID, err)
		}
		if value.Valid {
			f.ConversionValue = model.Float(value.Float64)
		}
		f.Scope = model.Scope(scope)
		factors = append(factors, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating factors: %w", err)
	}
	return factors, nil
}

func marshalFactor(f *model.ReferenceFactor) (path, params, constituents string, err error) {
	pathJSON, err := json.Marshal(nonNilLevels(f.CategoryPath))
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal category path of %s: %w", f.ID, err)
	}

	accepted := f.AcceptedParameters
	if accepted == nil {
		accepted = []model.Parameter{}
	}
	paramsJSON, err := json.Marshal(accepted)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal parameters of %s: %w", f.ID, err)
	}

	gases := f.Constituents
	if gases == nil {
		gases = []model.ConstituentFactor{}
	}
	constituentsJSON, err := json.Marshal(gases)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal constituents of %s: %w", f.ID, err)
	}

	return string(pathJSON), string(paramsJSON), string(constituentsJSON), nil
}
