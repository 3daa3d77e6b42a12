// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// FeedMessageRepository is the typed repository for the feed_messages
// table.
type FeedMessageRepository struct {
	db dbtx
}

// dbtx is satisfied by both *sql.DB and *sql.Tx, so repositories work
// against a bare connection or inside a cycle transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func NewFeedMessageRepository(db dbtx) *FeedMessageRepository {
	return &FeedMessageRepository{db: db}
}

const feedMessageColumns = `
	id, subsystem_name, message_id, message_id_header, in_reply_to_header,
	subject, author, author_email, content, url, received_at,
	is_patch, is_reply, is_series_patch, patch_version, patch_index,
	patch_total, is_cover_letter, series_message_id`

func scanFeedMessage(row interface{ Scan(...interface{}) error }) (*FeedMessage, error) {
	var fm FeedMessage
	var receivedAt string
	if err := row.Scan(
		&fm.ID, &fm.SubsystemName, &fm.MessageID, &fm.MessageIDHeader, &fm.InReplyToHeader,
		&fm.Subject, &fm.Author, &fm.AuthorEmail, &fm.Content, &fm.URL, &receivedAt,
		&fm.IsPatch, &fm.IsReply, &fm.IsSeriesPatch, &fm.PatchVersion, &fm.PatchIndex,
		&fm.PatchTotal, &fm.IsCoverLetter, &fm.SeriesMessageID,
	); err != nil {
		return nil, err
	}
	t, err := parseTimestamp(receivedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse received_at: %w", err)
	}
	fm.ReceivedAt = t
	return &fm, nil
}

// FindByMessageIDHeader looks up a FeedMessage by its unique identity.
// Returns (nil, nil) if not found.
func (r *FeedMessageRepository) FindByMessageIDHeader(ctx context.Context, header string) (*FeedMessage, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+feedMessageColumns+` FROM feed_messages WHERE message_id_header = ?`, header)
	fm, err := scanFeedMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query feed message: %w", err)
	}
	return fm, nil
}

// CreateOrUpdate upserts a FeedMessage keyed on message_id_header.
// Identity fields never change; derived fields are overwritten on a repeat
// sighting.
func (r *FeedMessageRepository) CreateOrUpdate(ctx context.Context, fm *FeedMessage) (*FeedMessage, error) {
	existing, err := r.FindByMessageIDHeader(ctx, fm.MessageIDHeader)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return r.updateDerivedFields(ctx, existing.ID, fm)
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO feed_messages (
			subsystem_name, message_id, message_id_header, in_reply_to_header,
			subject, author, author_email, content, url, received_at,
			is_patch, is_reply, is_series_patch, patch_version, patch_index,
			patch_total, is_cover_letter, series_message_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fm.SubsystemName, fm.MessageID, fm.MessageIDHeader, fm.InReplyToHeader,
		fm.Subject, fm.Author, fm.AuthorEmail, fm.Content, fm.URL, formatTimestamp(fm.ReceivedAt),
		fm.IsPatch, fm.IsReply, fm.IsSeriesPatch, fm.PatchVersion, fm.PatchIndex,
		fm.PatchTotal, fm.IsCoverLetter, fm.SeriesMessageID,
	)
	if isUniqueConflict(err) {
		// Someone else inserted the same message_id_header concurrently:
		// re-read and update instead.
		existing, findErr := r.FindByMessageIDHeader(ctx, fm.MessageIDHeader)
		if findErr != nil {
			return nil, findErr
		}
		if existing != nil {
			return r.updateDerivedFields(ctx, existing.ID, fm)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert feed message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	fm.ID = id
	return fm, nil
}

func (r *FeedMessageRepository) updateDerivedFields(ctx context.Context, id int64, fm *FeedMessage) (*FeedMessage, error) {
	_, err := r.db.ExecContext(ctx, `
		UPDATE feed_messages SET
			subsystem_name = ?, subject = ?, author = ?, author_email = ?,
			content = ?, url = ?, received_at = ?, is_patch = ?, is_reply = ?,
			is_series_patch = ?, patch_version = ?, patch_index = ?, patch_total = ?,
			is_cover_letter = ?, series_message_id = ?, in_reply_to_header = ?
		WHERE id = ?`,
		fm.SubsystemName, fm.Subject, fm.Author, fm.AuthorEmail,
		fm.Content, fm.URL, formatTimestamp(fm.ReceivedAt), fm.IsPatch, fm.IsReply,
		fm.IsSeriesPatch, fm.PatchVersion, fm.PatchIndex, fm.PatchTotal,
		fm.IsCoverLetter, fm.SeriesMessageID, fm.InReplyToHeader,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update feed message: %w", err)
	}
	fm.ID = id
	return fm, nil
}

// FindSeriesPatches returns the sub-patches of the series rooted at
// seriesMessageID, sorted by patch_index: those with
// series_message_id == S, patch_index != 0, and message_id_header != S.
func (r *FeedMessageRepository) FindSeriesPatches(ctx context.Context, seriesMessageID string) ([]*FeedMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+feedMessageColumns+` FROM feed_messages
		WHERE series_message_id = ? AND message_id_header != ? AND (patch_index IS NULL OR patch_index != 0)
		ORDER BY patch_index ASC`, seriesMessageID, seriesMessageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query series patches: %w", err)
	}
	defer rows.Close()
	var out []*FeedMessage
	for rows.Next() {
		fm, err := scanFeedMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fm)
	}
	return out, rows.Err()
}

// MaxReceivedAt returns the newest received_at stored for subsystemName,
// used to initialize the poller's high-water mark.
func (r *FeedMessageRepository) MaxReceivedAt(ctx context.Context, subsystemName string) (*time.Time, error) {
	var raw sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(received_at) FROM feed_messages WHERE subsystem_name = ?`, subsystemName).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("failed to query max received_at: %w", err)
	}
	if !raw.Valid {
		return nil, nil
	}
	t, err := parseTimestamp(raw.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// FindByInReplyToSubstring returns messages whose in_reply_to_header
// contains any of the given candidate ids as a substring. This is
// necessarily a table scan with this schema; a production deployment would
// index on a normalized form instead.
func (r *FeedMessageRepository) FindByInReplyToSubstring(ctx context.Context, candidates []string) ([]*FeedMessage, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+feedMessageColumns+` FROM feed_messages WHERE in_reply_to_header IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to scan for replies: %w", err)
	}
	defer rows.Close()
	var out []*FeedMessage
	for rows.Next() {
		fm, err := scanFeedMessage(rows)
		if err != nil {
			return nil, err
		}
		if fm.InReplyToHeader == nil {
			continue
		}
		for _, c := range candidates {
			if c != "" && strings.Contains(*fm.InReplyToHeader, c) {
				out = append(out, fm)
				break
			}
		}
	}
	return out, rows.Err()
}

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}
