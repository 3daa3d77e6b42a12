// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package commands

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/lkml-patchbot/internal/overview"
	"github.com/google/lkml-patchbot/internal/platform"
	"github.com/google/lkml-patchbot/internal/store"
)

var testDBCounter int

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	testDBCounter++
	dsn := fmt.Sprintf("file:commandstest%d?mode=memory&cache=shared", testDBCounter)
	db, err := store.Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

type fakeThreadClient struct{ nextID int }

func (c *fakeThreadClient) Name() string    { return "discord" }
func (c *fakeThreadClient) IsPrimary() bool { return true }
func (c *fakeThreadClient) SendPatchCard(ctx context.Context, rendered platform.RenderedPatchCard) (string, string, error) {
	return "", "", nil
}
func (c *fakeThreadClient) CreateThread(ctx context.Context, name, anchorMessageID string) (string, bool, error) {
	c.nextID++
	return fmt.Sprintf("thread-%d", c.nextID), false, nil
}
func (c *fakeThreadClient) SendThreadOverview(ctx context.Context, threadID string, entries []platform.RenderedOverview) (map[int]string, error) {
	out := map[int]string{}
	for _, e := range entries {
		out[e.PatchIndex] = "msg-" + threadID
	}
	return out, nil
}
func (c *fakeThreadClient) UpdateThreadOverview(ctx context.Context, threadID, messageID string, rendered platform.RenderedOverview) (bool, error) {
	return true, nil
}
func (c *fakeThreadClient) SendThreadUpdateNotification(ctx context.Context, channelID, threadID string, patchCardMessageID *string) (bool, error) {
	return true, nil
}

func newHandlers(t *testing.T) (*Handlers, *store.PatchCardRepository) {
	db := newTestDB(t)
	feedRepo := store.NewFeedMessageRepository(db)
	cardRepo := store.NewPatchCardRepository(db)
	threadRepo := store.NewPatchThreadRepository(db)
	filterRepo := store.NewPatchCardFilterRepository(db)
	configRepo := store.NewFilterConfigRepository(db)
	sender := platform.NewMultiPlatformSender(nil, []platform.ThreadClient{&fakeThreadClient{}})
	overviewSvc := overview.NewService(feedRepo, cardRepo, threadRepo, sender)
	return NewHandlers(overviewSvc, filterRepo, configRepo), cardRepo
}

func TestWatch_UnknownMessageReturnsUserError(t *testing.T) {
	h, _ := newHandlers(t)
	_, err := h.Watch(context.Background(), "missing@x")
	var userErr *ErrUserError
	require.ErrorAs(t, err, &userErr)
	assert.Contains(t, userErr.Message, "missing@x")
}

func TestWatch_KnownPatchCreatesThread(t *testing.T) {
	h, cardRepo := newHandlers(t)
	_, err := cardRepo.Create(context.Background(), &store.PatchCard{
		MessageIDHeader: "p1@x",
		SubsystemName:   "netdev",
		Subject:         "[PATCH] fix bug",
		Author:          "Jane Doe",
		URL:             "https://lore.kernel.org/netdev/p1@x/",
	})
	require.NoError(t, err)

	msg, err := h.Watch(context.Background(), "p1@x")
	require.NoError(t, err)
	assert.Equal(t, "thread created", msg)
}

func TestFilterRuleAdd_RejectsEmptyName(t *testing.T) {
	h, _ := newHandlers(t)
	_, err := h.FilterRuleAdd(context.Background(), "", "", "alice", nil)
	var userErr *ErrUserError
	require.ErrorAs(t, err, &userErr)
}

func TestFilterRuleAdd_CreatesFilter(t *testing.T) {
	h, _ := newHandlers(t)
	f, err := h.FilterRuleAdd(context.Background(), "net-only", "netdev patches", "alice",
		map[string]store.PatternSet{"subject": {"net"}})
	require.NoError(t, err)
	assert.NotZero(t, f.ID)
	assert.True(t, f.Enabled)
}

func TestFilterRuleList_ReturnsAllCreated(t *testing.T) {
	h, _ := newHandlers(t)
	_, err := h.FilterRuleAdd(context.Background(), "one", "", "alice", map[string]store.PatternSet{"subject": {"net"}})
	require.NoError(t, err)
	_, err = h.FilterRuleAdd(context.Background(), "two", "", "alice", map[string]store.PatternSet{"subject": {"mm"}})
	require.NoError(t, err)

	list, err := h.FilterRuleList(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestFilterRuleShow_NotFoundReturnsUserError(t *testing.T) {
	h, _ := newHandlers(t)
	_, err := h.FilterRuleShow(context.Background(), 999)
	var userErr *ErrUserError
	require.ErrorAs(t, err, &userErr)
}

func TestFilterRuleShow_Found(t *testing.T) {
	h, _ := newHandlers(t)
	created, err := h.FilterRuleAdd(context.Background(), "one", "", "alice", map[string]store.PatternSet{"subject": {"net"}})
	require.NoError(t, err)

	found, err := h.FilterRuleShow(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "one", found.Name)
}

func TestFilterRuleDel_RemovesFilter(t *testing.T) {
	h, _ := newHandlers(t)
	created, err := h.FilterRuleAdd(context.Background(), "one", "", "alice", map[string]store.PatternSet{"subject": {"net"}})
	require.NoError(t, err)

	require.NoError(t, h.FilterRuleDel(context.Background(), created.ID))
	_, err = h.FilterRuleShow(context.Background(), created.ID)
	var userErr *ErrUserError
	require.ErrorAs(t, err, &userErr)
}

func TestFilterRuleEnable_TogglesEnabledState(t *testing.T) {
	h, _ := newHandlers(t)
	created, err := h.FilterRuleAdd(context.Background(), "one", "", "alice", map[string]store.PatternSet{"subject": {"net"}})
	require.NoError(t, err)

	require.NoError(t, h.FilterRuleEnable(context.Background(), created.ID, false))
	found, err := h.FilterRuleShow(context.Background(), created.ID)
	require.NoError(t, err)
	assert.False(t, found.Enabled)
}

func TestFilterConfigExclusive_SetsMode(t *testing.T) {
	h, _ := newHandlers(t)
	require.NoError(t, h.FilterConfigExclusive(context.Background(), true))
}
