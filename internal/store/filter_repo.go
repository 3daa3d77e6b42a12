// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PatchCardFilterRepository is the typed repository for the
// patch_card_filters table.
type PatchCardFilterRepository struct {
	db dbtx
}

func NewPatchCardFilterRepository(db dbtx) *PatchCardFilterRepository {
	return &PatchCardFilterRepository{db: db}
}

const patchCardFilterColumns = `
	id, name, enabled, filter_conditions, description, created_by, created_at`

func scanPatchCardFilter(row interface{ Scan(...interface{}) error }) (*PatchCardFilter, error) {
	var f PatchCardFilter
	var createdAt string
	var conditionsRaw string
	if err := row.Scan(&f.ID, &f.Name, &f.Enabled, &conditionsRaw, &f.Description, &f.CreatedBy, &createdAt); err != nil {
		return nil, err
	}
	t, err := parseTimestamp(createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	f.CreatedAt = t
	f.FilterConditions = map[string]PatternSet{}
	if conditionsRaw != "" {
		if err := json.Unmarshal([]byte(conditionsRaw), &f.FilterConditions); err != nil {
			return nil, fmt.Errorf("failed to parse filter_conditions: %w", err)
		}
	}
	return &f, nil
}

// FindEnabled returns every filter with enabled = true, ordered by id for
// deterministic evaluation order.
func (r *PatchCardFilterRepository) FindEnabled(ctx context.Context) ([]*PatchCardFilter, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+patchCardFilterColumns+` FROM patch_card_filters WHERE enabled = 1 ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query enabled filters: %w", err)
	}
	defer rows.Close()
	var out []*PatchCardFilter
	for rows.Next() {
		f, err := scanPatchCardFilter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// FindAll returns every filter rule regardless of enabled state, ordered
// by id, for the `/filter rule list` command surface.
func (r *PatchCardFilterRepository) FindAll(ctx context.Context) ([]*PatchCardFilter, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+patchCardFilterColumns+` FROM patch_card_filters ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query filters: %w", err)
	}
	defer rows.Close()
	var out []*PatchCardFilter
	for rows.Next() {
		f, err := scanPatchCardFilter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// FindByID looks up a single filter, or (nil, nil) if absent.
func (r *PatchCardFilterRepository) FindByID(ctx context.Context, id int64) (*PatchCardFilter, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+patchCardFilterColumns+` FROM patch_card_filters WHERE id = ?`, id)
	f, err := scanPatchCardFilter(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query filter: %w", err)
	}
	return f, nil
}

// Create inserts a new filter rule.
func (r *PatchCardFilterRepository) Create(ctx context.Context, f *PatchCardFilter) (*PatchCardFilter, error) {
	conditionsJSON, err := json.Marshal(f.FilterConditions)
	if err != nil {
		return nil, err
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO patch_card_filters (name, enabled, filter_conditions, description, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		f.Name, f.Enabled, string(conditionsJSON), f.Description, f.CreatedBy, formatTimestamp(f.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert filter: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	f.ID = id
	return f, nil
}

// SetEnabled toggles a filter's enabled flag.
func (r *PatchCardFilterRepository) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE patch_card_filters SET enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return fmt.Errorf("failed to update filter enabled state: %w", err)
	}
	return nil
}

// Delete removes a filter rule.
func (r *PatchCardFilterRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM patch_card_filters WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete filter: %w", err)
	}
	return nil
}
