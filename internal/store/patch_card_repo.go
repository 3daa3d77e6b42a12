// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrConflict is returned by Create on a unique-constraint violation,
// meaning another writer created the same card concurrently.
var ErrConflict = errors.New("patch card already exists")

// PatchCardRepository is the typed repository for the patch_cards table.
type PatchCardRepository struct {
	db dbtx
}

func NewPatchCardRepository(db dbtx) *PatchCardRepository {
	return &PatchCardRepository{db: db}
}

const patchCardColumns = `
	id, message_id_header, subsystem_name, platform_message_id, platform_channel_id,
	subject, author, url, has_thread, is_series_patch, series_message_id,
	patch_version, patch_index, patch_total, is_cover_letter, to_cc_list,
	expires_at, created_at`

func scanPatchCard(row interface{ Scan(...interface{}) error }) (*PatchCard, error) {
	var pc PatchCard
	var createdAt string
	var expiresAt sql.NullString
	var ccListRaw sql.NullString
	if err := row.Scan(
		&pc.ID, &pc.MessageIDHeader, &pc.SubsystemName, &pc.PlatformMessageID, &pc.PlatformChannelID,
		&pc.Subject, &pc.Author, &pc.URL, &pc.HasThread, &pc.IsSeriesPatch, &pc.SeriesMessageID,
		&pc.PatchVersion, &pc.PatchIndex, &pc.PatchTotal, &pc.IsCoverLetter, &ccListRaw,
		&expiresAt, &createdAt,
	); err != nil {
		return nil, err
	}
	t, err := parseTimestamp(createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	pc.CreatedAt = t
	if expiresAt.Valid {
		et, err := parseTimestamp(expiresAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse expires_at: %w", err)
		}
		pc.ExpiresAt = &et
	}
	if ccListRaw.Valid && ccListRaw.String != "" {
		if err := json.Unmarshal([]byte(ccListRaw.String), &pc.ToCCList); err != nil {
			return nil, fmt.Errorf("failed to parse to_cc_list: %w", err)
		}
	}
	return &pc, nil
}

// FindByMessageIDHeader returns the PatchCard for header, or (nil, nil) if
// none exists yet.
func (r *PatchCardRepository) FindByMessageIDHeader(ctx context.Context, header string) (*PatchCard, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+patchCardColumns+` FROM patch_cards WHERE message_id_header = ?`, header)
	pc, err := scanPatchCard(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query patch card: %w", err)
	}
	return pc, nil
}

// Exists reports whether a PatchCard already exists for header, the guard
// that keeps re-ingested patches from producing duplicate cards.
func (r *PatchCardRepository) Exists(ctx context.Context, header string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM patch_cards WHERE message_id_header = ?`, header).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check patch card existence: %w", err)
	}
	return n > 0, nil
}

// Create inserts a new PatchCard. Conflicts (concurrent creation for the
// same header) are detected via isUniqueConflict and returned as
// ErrConflict for the caller to treat as "already created".
func (r *PatchCardRepository) Create(ctx context.Context, pc *PatchCard) (*PatchCard, error) {
	ccJSON, err := json.Marshal(pc.ToCCList)
	if err != nil {
		return nil, err
	}
	var expiresAt interface{}
	if pc.ExpiresAt != nil {
		expiresAt = formatTimestamp(*pc.ExpiresAt)
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO patch_cards (
			message_id_header, subsystem_name, platform_message_id, platform_channel_id,
			subject, author, url, has_thread, is_series_patch, series_message_id,
			patch_version, patch_index, patch_total, is_cover_letter, to_cc_list,
			expires_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pc.MessageIDHeader, pc.SubsystemName, pc.PlatformMessageID, pc.PlatformChannelID,
		pc.Subject, pc.Author, pc.URL, pc.HasThread, pc.IsSeriesPatch, pc.SeriesMessageID,
		pc.PatchVersion, pc.PatchIndex, pc.PatchTotal, pc.IsCoverLetter, string(ccJSON),
		expiresAt, formatTimestamp(pc.CreatedAt),
	)
	if err != nil {
		if isUniqueConflict(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to insert patch card: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	pc.ID = id
	return pc, nil
}

// UpdatePlatformMessageID records the outgoing platform message id after
// dispatch.
func (r *PatchCardRepository) UpdatePlatformMessageID(ctx context.Context, header, platformMessageID, platformChannelID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE patch_cards SET platform_message_id = ?, platform_channel_id = ? WHERE message_id_header = ?`,
		platformMessageID, platformChannelID, header)
	if err != nil {
		return fmt.Errorf("failed to update platform message id: %w", err)
	}
	return nil
}

// MarkHasThread flips has_thread to true once a PatchThread is created for
// the card.
func (r *PatchCardRepository) MarkHasThread(ctx context.Context, header string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE patch_cards SET has_thread = 1 WHERE message_id_header = ?`, header)
	if err != nil {
		return fmt.Errorf("failed to mark has_thread: %w", err)
	}
	return nil
}

// FindRecent returns up to limit cards ordered newest-first, for surfacing
// "recent news".
func (r *PatchCardRepository) FindRecent(ctx context.Context, limit int) ([]*PatchCard, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+patchCardColumns+` FROM patch_cards ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent patch cards: %w", err)
	}
	defer rows.Close()
	var out []*PatchCard
	for rows.Next() {
		pc, err := scanPatchCard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}

