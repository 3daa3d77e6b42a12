// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package store

import (
	"context"
	"fmt"
)

// FilterConfig is the singleton row controlling the filter engine's global
// mode.
type FilterConfig struct {
	ID            int64
	ExclusiveMode bool
}

// FilterConfigRepository is the typed repository for the singleton
// filter_config row (always id = 1, seeded by the schema migration).
type FilterConfigRepository struct {
	db dbtx
}

func NewFilterConfigRepository(db dbtx) *FilterConfigRepository {
	return &FilterConfigRepository{db: db}
}

// Get returns the current global filter mode.
func (r *FilterConfigRepository) Get(ctx context.Context) (*FilterConfig, error) {
	var fc FilterConfig
	err := r.db.QueryRowContext(ctx, `SELECT id, exclusive_mode FROM filter_config WHERE id = 1`).Scan(&fc.ID, &fc.ExclusiveMode)
	if err != nil {
		return nil, fmt.Errorf("failed to query filter config: %w", err)
	}
	return &fc, nil
}

// SetExclusiveMode flips between exclusive (only matching cards are
// surfaced) and highlight (all cards surfaced, matches annotated) mode.
func (r *FilterConfigRepository) SetExclusiveMode(ctx context.Context, exclusive bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE filter_config SET exclusive_mode = ? WHERE id = 1`, exclusive)
	if err != nil {
		return fmt.Errorf("failed to update filter config: %w", err)
	}
	return nil
}
