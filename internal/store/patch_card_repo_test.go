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

func sampleCard(header string) *PatchCard {
	return &PatchCard{
		MessageIDHeader: header,
		SubsystemName:   "netdev",
		Subject:         "[PATCH] fix bug",
		Author:          "Jane Doe",
		URL:             "https://lore.kernel.org/netdev/" + header + "/",
		CreatedAt:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestPatchCardRepository_CreateAndFind(t *testing.T) {
	db := newTestDB(t)
	repo := NewPatchCardRepository(db)

	created, err := repo.Create(context.Background(), sampleCard("p1@x"))
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	found, err := repo.FindByMessageIDHeader(context.Background(), "p1@x")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "[PATCH] fix bug", found.Subject)
}

func TestPatchCardRepository_Create_DuplicateReturnsErrConflict(t *testing.T) {
	db := newTestDB(t)
	repo := NewPatchCardRepository(db)

	_, err := repo.Create(context.Background(), sampleCard("p1@x"))
	require.NoError(t, err)

	_, err = repo.Create(context.Background(), sampleCard("p1@x"))
	assert.ErrorIs(t, err, ErrConflict)
}

func TestPatchCardRepository_Exists(t *testing.T) {
	db := newTestDB(t)
	repo := NewPatchCardRepository(db)

	exists, err := repo.Exists(context.Background(), "p1@x")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = repo.Create(context.Background(), sampleCard("p1@x"))
	require.NoError(t, err)

	exists, err = repo.Exists(context.Background(), "p1@x")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestPatchCardRepository_UpdatePlatformMessageIDAndMarkHasThread(t *testing.T) {
	db := newTestDB(t)
	repo := NewPatchCardRepository(db)
	_, err := repo.Create(context.Background(), sampleCard("p1@x"))
	require.NoError(t, err)

	require.NoError(t, repo.UpdatePlatformMessageID(context.Background(), "p1@x", "msg-1", "chan-1"))
	require.NoError(t, repo.MarkHasThread(context.Background(), "p1@x"))

	found, err := repo.FindByMessageIDHeader(context.Background(), "p1@x")
	require.NoError(t, err)
	require.NotNil(t, found.PlatformMessageID)
	assert.Equal(t, "msg-1", *found.PlatformMessageID)
	assert.True(t, found.HasThread)
}

func TestPatchCardRepository_FindRecent_OrderedNewestFirst(t *testing.T) {
	db := newTestDB(t)
	repo := NewPatchCardRepository(db)

	older := sampleCard("old@x")
	older.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := repo.Create(context.Background(), older)
	require.NoError(t, err)

	newer := sampleCard("new@x")
	newer.CreatedAt = time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	_, err = repo.Create(context.Background(), newer)
	require.NoError(t, err)

	recent, err := repo.FindRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "new@x", recent[0].MessageIDHeader)
	assert.Equal(t, "old@x", recent[1].MessageIDHeader)
}
