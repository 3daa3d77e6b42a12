// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatchCardFilterRepository_CreateFindEnabledFindAll(t *testing.T) {
	db := newTestDB(t)
	repo := NewPatchCardFilterRepository(db)

	_, err := repo.Create(context.Background(), &PatchCardFilter{
		Name: "enabled-one", Enabled: true,
		FilterConditions: map[string]PatternSet{"subject": {"net"}},
	})
	require.NoError(t, err)
	_, err = repo.Create(context.Background(), &PatchCardFilter{
		Name: "disabled-one", Enabled: false,
		FilterConditions: map[string]PatternSet{"subject": {"mm"}},
	})
	require.NoError(t, err)

	enabled, err := repo.FindEnabled(context.Background())
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "enabled-one", enabled[0].Name)

	all, err := repo.FindAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPatchCardFilterRepository_FindByID_NotFound(t *testing.T) {
	db := newTestDB(t)
	repo := NewPatchCardFilterRepository(db)
	f, err := repo.FindByID(context.Background(), 999)
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestPatchCardFilterRepository_SetEnabledAndDelete(t *testing.T) {
	db := newTestDB(t)
	repo := NewPatchCardFilterRepository(db)
	created, err := repo.Create(context.Background(), &PatchCardFilter{
		Name: "toggle-me", Enabled: true,
		FilterConditions: map[string]PatternSet{"subject": {"net"}},
	})
	require.NoError(t, err)

	require.NoError(t, repo.SetEnabled(context.Background(), created.ID, false))
	found, err := repo.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.False(t, found.Enabled)

	require.NoError(t, repo.Delete(context.Background(), created.ID))
	found, err = repo.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestPatchCardFilterRepository_FilterConditionsRoundTripListAndScalar(t *testing.T) {
	db := newTestDB(t)
	repo := NewPatchCardFilterRepository(db)
	created, err := repo.Create(context.Background(), &PatchCardFilter{
		Name: "multi-pattern", Enabled: true,
		FilterConditions: map[string]PatternSet{
			"subject": {"net", "mm"},
			"author":  {"alice"},
		},
	})
	require.NoError(t, err)

	found, err := repo.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, PatternSet{"net", "mm"}, found.FilterConditions["subject"])
	assert.Equal(t, PatternSet{"alice"}, found.FilterConditions["author"])
}

func TestFilterConfigRepository_GetAndSetExclusiveMode(t *testing.T) {
	db := newTestDB(t)
	repo := NewFilterConfigRepository(db)

	cfg, err := repo.Get(context.Background())
	require.NoError(t, err)
	assert.False(t, cfg.ExclusiveMode)

	require.NoError(t, repo.SetExclusiveMode(context.Background(), true))
	cfg, err = repo.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, cfg.ExclusiveMode)
}
