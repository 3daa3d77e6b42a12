// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFeedMessage(header string) *FeedMessage {
	return &FeedMessage{
		SubsystemName:   "netdev",
		MessageID:       header,
		MessageIDHeader: header,
		Subject:         "[PATCH] fix bug",
		Author:          "Jane Doe",
		AuthorEmail:     "jane@example.com",
		URL:             "https://lore.kernel.org/netdev/" + header + "/",
		ReceivedAt:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		IsPatch:         true,
	}
}

func TestFeedMessageRepository_CreateOrUpdate_InsertsThenUpdates(t *testing.T) {
	db := newTestDB(t)
	repo := NewFeedMessageRepository(db)

	fm := sampleFeedMessage("m1@x")
	created, err := repo.CreateOrUpdate(context.Background(), fm)
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	fm2 := sampleFeedMessage("m1@x")
	fm2.Subject = "[PATCH v2] fix bug"
	updated, err := repo.CreateOrUpdate(context.Background(), fm2)
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)

	stored, err := repo.FindByMessageIDHeader(context.Background(), "m1@x")
	require.NoError(t, err)
	assert.Equal(t, "[PATCH v2] fix bug", stored.Subject)
}

func TestFeedMessageRepository_FindByMessageIDHeader_NotFound(t *testing.T) {
	db := newTestDB(t)
	repo := NewFeedMessageRepository(db)
	fm, err := repo.FindByMessageIDHeader(context.Background(), "missing@x")
	require.NoError(t, err)
	assert.Nil(t, fm)
}

func TestFeedMessageRepository_FindSeriesPatches_OrderedByIndexExcludesCover(t *testing.T) {
	db := newTestDB(t)
	repo := NewFeedMessageRepository(db)
	cov := "cov@x"

	idx0 := 0
	coverFm := sampleFeedMessage("cov@x")
	coverFm.IsSeriesPatch = true
	coverFm.IsCoverLetter = true
	coverFm.PatchIndex = &idx0
	coverFm.SeriesMessageID = &cov
	_, err := repo.CreateOrUpdate(context.Background(), coverFm)
	require.NoError(t, err)

	idx2 := 2
	sub2 := sampleFeedMessage("cov@x-2")
	sub2.IsSeriesPatch = true
	sub2.PatchIndex = &idx2
	sub2.SeriesMessageID = &cov
	_, err = repo.CreateOrUpdate(context.Background(), sub2)
	require.NoError(t, err)

	idx1 := 1
	sub1 := sampleFeedMessage("cov@x-1")
	sub1.IsSeriesPatch = true
	sub1.PatchIndex = &idx1
	sub1.SeriesMessageID = &cov
	_, err = repo.CreateOrUpdate(context.Background(), sub1)
	require.NoError(t, err)

	patches, err := repo.FindSeriesPatches(context.Background(), cov)
	require.NoError(t, err)
	require.Len(t, patches, 2)
	assert.Equal(t, "cov@x-1", patches[0].MessageIDHeader)
	assert.Equal(t, "cov@x-2", patches[1].MessageIDHeader)
}

func TestFeedMessageRepository_MaxReceivedAt(t *testing.T) {
	db := newTestDB(t)
	repo := NewFeedMessageRepository(db)

	none, err := repo.MaxReceivedAt(context.Background(), "netdev")
	require.NoError(t, err)
	assert.Nil(t, none)

	earlier := sampleFeedMessage("a@x")
	earlier.ReceivedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = repo.CreateOrUpdate(context.Background(), earlier)
	require.NoError(t, err)

	later := sampleFeedMessage("b@x")
	later.ReceivedAt = time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	_, err = repo.CreateOrUpdate(context.Background(), later)
	require.NoError(t, err)

	max, err := repo.MaxReceivedAt(context.Background(), "netdev")
	require.NoError(t, err)
	require.NotNil(t, max)
	assert.Equal(t, later.ReceivedAt, max.UTC())
}

func TestFeedMessageRepository_FindByInReplyToSubstring(t *testing.T) {
	db := newTestDB(t)
	repo := NewFeedMessageRepository(db)

	parent := sampleFeedMessage("p@x")
	_, err := repo.CreateOrUpdate(context.Background(), parent)
	require.NoError(t, err)

	reply := sampleFeedMessage("r@x")
	inReplyTo := "<p@x>"
	reply.InReplyToHeader = &inReplyTo
	reply.IsPatch = false
	reply.IsReply = true
	_, err = repo.CreateOrUpdate(context.Background(), reply)
	require.NoError(t, err)

	found, err := repo.FindByInReplyToSubstring(context.Background(), []string{"p@x"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "r@x", found[0].MessageIDHeader)

	none, err := repo.FindByInReplyToSubstring(context.Background(), []string{"nonexistent@x"})
	require.NoError(t, err)
	assert.Empty(t, none)

	empty, err := repo.FindByInReplyToSubstring(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
