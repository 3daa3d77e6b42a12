// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package reply

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/lkml-patchbot/internal/store"
)

// fakeStore is an in-memory Store implementation for exercising BuildTree
// without a real database.
type fakeStore struct {
	byHeader map[string]*store.FeedMessage
}

func newFakeStore(msgs ...*store.FeedMessage) *fakeStore {
	s := &fakeStore{byHeader: map[string]*store.FeedMessage{}}
	for _, m := range msgs {
		s.byHeader[m.MessageIDHeader] = m
	}
	return s
}

func (s *fakeStore) FindByMessageIDHeader(ctx context.Context, header string) (*store.FeedMessage, error) {
	return s.byHeader[header], nil
}

func (s *fakeStore) FindByInReplyToSubstring(ctx context.Context, candidates []string) ([]*store.FeedMessage, error) {
	var out []*store.FeedMessage
	for _, m := range s.byHeader {
		if m.InReplyToHeader == nil {
			continue
		}
		for _, c := range candidates {
			if c != "" && strings.Contains(*m.InReplyToHeader, c) {
				out = append(out, m)
				break
			}
		}
	}
	return out, nil
}

func msg(header string, inReplyTo *string, receivedAt time.Time) *store.FeedMessage {
	return &store.FeedMessage{MessageIDHeader: header, InReplyToHeader: inReplyTo, ReceivedAt: receivedAt}
}

func ptr(s string) *string { return &s }

func TestBuildTree_DirectReplies(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	patch := "patch@x"
	r1 := msg("r1@x", ptr("<patch@x>"), base.Add(time.Minute))
	r2 := msg("r2@x", ptr("<patch@x>"), base.Add(2*time.Minute))
	s := newFakeStore(r1, r2)

	roots, err := BuildTree(context.Background(), s, patch)
	require.NoError(t, err)
	require.Len(t, roots, 2)
	assert.Equal(t, "r1@x", roots[0].Message.MessageIDHeader)
	assert.Equal(t, "r2@x", roots[1].Message.MessageIDHeader)
}

func TestBuildTree_NestedReplies(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	patch := "patch@x"
	r1 := msg("r1@x", ptr("<patch@x>"), base.Add(time.Minute))
	r2 := msg("r2@x", ptr("<r1@x>"), base.Add(2*time.Minute))
	s := newFakeStore(r1, r2)

	roots, err := BuildTree(context.Background(), s, patch)
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, "r1@x", roots[0].Message.MessageIDHeader)
	require.Len(t, roots[0].Children, 1)
	assert.Equal(t, "r2@x", roots[0].Children[0].Message.MessageIDHeader)
}

func TestBuildTree_UnresolvedParentBecomesRoot(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	patch := "patch@x"
	// r1's multi-id header references the patch (so the BFS collects it)
	// but its first token points at a message never observed; the parent
	// chain fails to resolve and r1 falls back to root.
	r1 := msg("r1@x", ptr("<ghost@x> <patch@x>"), base.Add(time.Minute))
	s := newFakeStore(r1)

	roots, err := BuildTree(context.Background(), s, patch)
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, "r1@x", roots[0].Message.MessageIDHeader)
}

func TestBuildTree_ChildrenSortedByReceivedAt(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	patch := "patch@x"
	later := msg("later@x", ptr("<patch@x>"), base.Add(10*time.Minute))
	earlier := msg("earlier@x", ptr("<patch@x>"), base.Add(time.Minute))
	s := newFakeStore(later, earlier)

	roots, err := BuildTree(context.Background(), s, patch)
	require.NoError(t, err)
	require.Len(t, roots, 2)
	assert.Equal(t, "earlier@x", roots[0].Message.MessageIDHeader)
	assert.Equal(t, "later@x", roots[1].Message.MessageIDHeader)
}

func TestBuildTree_NoReplies(t *testing.T) {
	s := newFakeStore()
	roots, err := BuildTree(context.Background(), s, "patch@x")
	require.NoError(t, err)
	assert.Empty(t, roots)
}

func TestFirstReplyToken(t *testing.T) {
	assert.Equal(t, "", firstReplyToken(nil))
	assert.Equal(t, "", firstReplyToken(ptr("   ")))
	assert.Equal(t, "a@b", firstReplyToken(ptr("<a@b> <c@d>")))
}
