// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PatchThreadRepository is the typed repository for the patch_threads table.
type PatchThreadRepository struct {
	db dbtx
}

func NewPatchThreadRepository(db dbtx) *PatchThreadRepository {
	return &PatchThreadRepository{db: db}
}

const patchThreadColumns = `
	id, patch_card_message_id_header, thread_id, thread_name, is_active,
	overview_message_id, sub_patch_messages, created_at, archived_at`

func scanPatchThread(row interface{ Scan(...interface{}) error }) (*PatchThread, error) {
	var pt PatchThread
	var createdAt string
	var archivedAt sql.NullString
	var subPatchRaw sql.NullString
	if err := row.Scan(
		&pt.ID, &pt.PatchCardMessageIDHeader, &pt.ThreadID, &pt.ThreadName, &pt.IsActive,
		&pt.OverviewMessageID, &subPatchRaw, &createdAt, &archivedAt,
	); err != nil {
		return nil, err
	}
	t, err := parseTimestamp(createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	pt.CreatedAt = t
	if archivedAt.Valid {
		at, err := parseTimestamp(archivedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse archived_at: %w", err)
		}
		pt.ArchivedAt = &at
	}
	pt.SubPatchMessages = SubPatchMessages{}
	if subPatchRaw.Valid && subPatchRaw.String != "" {
		if err := json.Unmarshal([]byte(subPatchRaw.String), &pt.SubPatchMessages); err != nil {
			return nil, fmt.Errorf("failed to parse sub_patch_messages: %w", err)
		}
	}
	return &pt, nil
}

// FindByPatchCardMessageIDHeader returns the (at most one) thread for a
// card, or (nil, nil) if none exists.
func (r *PatchThreadRepository) FindByPatchCardMessageIDHeader(ctx context.Context, header string) (*PatchThread, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+patchThreadColumns+` FROM patch_threads WHERE patch_card_message_id_header = ?`, header)
	pt, err := scanPatchThread(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query patch thread: %w", err)
	}
	return pt, nil
}

// Create inserts a new PatchThread for a watched card.
func (r *PatchThreadRepository) Create(ctx context.Context, pt *PatchThread) (*PatchThread, error) {
	subPatchJSON, err := json.Marshal(pt.SubPatchMessages)
	if err != nil {
		return nil, err
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO patch_threads (
			patch_card_message_id_header, thread_id, thread_name, is_active,
			overview_message_id, sub_patch_messages, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pt.PatchCardMessageIDHeader, pt.ThreadID, pt.ThreadName, pt.IsActive,
		pt.OverviewMessageID, string(subPatchJSON), formatTimestamp(pt.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert patch thread: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	pt.ID = id
	return pt, nil
}

// UpdateSubPatchMessages persists the sub-patch-index -> overview message id
// map after a re-render.
func (r *PatchThreadRepository) UpdateSubPatchMessages(ctx context.Context, threadID string, messages SubPatchMessages) error {
	data, err := json.Marshal(messages)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `UPDATE patch_threads SET sub_patch_messages = ? WHERE thread_id = ?`, string(data), threadID)
	if err != nil {
		return fmt.Errorf("failed to update sub_patch_messages: %w", err)
	}
	return nil
}

// UpdateOverviewMessageID records the rendered thread-overview message id.
func (r *PatchThreadRepository) UpdateOverviewMessageID(ctx context.Context, threadID, overviewMessageID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE patch_threads SET overview_message_id = ? WHERE thread_id = ?`, overviewMessageID, threadID)
	if err != nil {
		return fmt.Errorf("failed to update overview message id: %w", err)
	}
	return nil
}

// Archive marks a thread inactive, e.g. once it was created more than
// THREAD_CARD_TIMEOUT_HOURS ago.
func (r *PatchThreadRepository) Archive(ctx context.Context, threadID string, archivedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE patch_threads SET is_active = 0, archived_at = ? WHERE thread_id = ?`,
		formatTimestamp(archivedAt), threadID)
	if err != nil {
		return fmt.Errorf("failed to archive patch thread: %w", err)
	}
	return nil
}

// Delete removes the thread record for a card. Thread records are deleted
// only on explicit recreate: an inactive record is dropped just before a
// replacement thread is created for the same card.
func (r *PatchThreadRepository) Delete(ctx context.Context, patchCardMessageIDHeader string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM patch_threads WHERE patch_card_message_id_header = ?`, patchCardMessageIDHeader)
	if err != nil {
		return fmt.Errorf("failed to delete patch thread: %w", err)
	}
	return nil
}

// FindActiveOlderThan returns active threads created before cutoff, used by
// the archival sweep.
func (r *PatchThreadRepository) FindActiveOlderThan(ctx context.Context, cutoff time.Time) ([]*PatchThread, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+patchThreadColumns+` FROM patch_threads WHERE is_active = 1 AND created_at < ?`, formatTimestamp(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to query stale patch threads: %w", err)
	}
	defer rows.Close()
	var out []*PatchThread
	for rows.Next() {
		pt, err := scanPatchThread(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pt)
	}
	return out, rows.Err()
}
