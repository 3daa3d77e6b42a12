// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWebhookServer(t *testing.T, handler func(webhookPayload) webhookResponse) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload webhookPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		resp := handler(payload)
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestWebhookThreadClient_SendPatchCard_ReturnsMessageAndChannel(t *testing.T) {
	server := newWebhookServer(t, func(p webhookPayload) webhookResponse {
		assert.Equal(t, "send_patch_card", p.Op)
		assert.Contains(t, p.Content, "[netdev]")
		return webhookResponse{MessageID: "msg-1"}
	})
	c := NewWebhookThreadClient("discord", server.URL, "token", "chan-1", true, server.Client())

	msgID, chanID, err := c.SendPatchCard(context.Background(), RenderedPatchCard{
		Subject: "fix bug", Author: "jane", Subsystem: "netdev", URL: "https://lore/x",
	})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", msgID)
	assert.Equal(t, "chan-1", chanID)
}

func TestWebhookThreadClient_CreateThread_DedupsByName(t *testing.T) {
	calls := 0
	server := newWebhookServer(t, func(p webhookPayload) webhookResponse {
		calls++
		return webhookResponse{ThreadID: "thread-1"}
	})
	c := NewWebhookThreadClient("discord", server.URL, "", "chan-1", true, server.Client())

	id1, exists1, err := c.CreateThread(context.Background(), "[PATCH] x", "anchor@x")
	require.NoError(t, err)
	assert.False(t, exists1)
	assert.Equal(t, "thread-1", id1)

	id2, exists2, err := c.CreateThread(context.Background(), "[PATCH] x", "anchor2@x")
	require.NoError(t, err)
	assert.True(t, exists2)
	assert.Equal(t, "thread-1", id2)
	assert.Equal(t, 1, calls)
}

func TestWebhookThreadClient_SendThreadOverview_ReturnsPerIndexMessageIDs(t *testing.T) {
	n := 0
	server := newWebhookServer(t, func(p webhookPayload) webhookResponse {
		n++
		return webhookResponse{MessageID: p.Content}
	})
	c := NewWebhookThreadClient("discord", server.URL, "", "chan-1", true, server.Client())

	out, err := c.SendThreadOverview(context.Background(), "thread-1", []RenderedOverview{
		{PatchIndex: 1, Subject: "a", Author: "x"},
		{PatchIndex: 2, Subject: "b", Author: "y"},
	})
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, 2, n)
}

func TestWebhookThreadClient_NonSuccessStatusReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()
	c := NewWebhookThreadClient("discord", server.URL, "", "chan-1", true, server.Client())

	_, _, err := c.SendPatchCard(context.Background(), RenderedPatchCard{Subject: "x"})
	assert.Error(t, err)
}

func TestWebhookThreadClient_RateLimitedSendIsRetried(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(webhookResponse{MessageID: "msg-1"}))
	}))
	defer server.Close()
	c := NewWebhookThreadClient("discord", server.URL, "", "chan-1", true, server.Client())

	msgID, _, err := c.SendPatchCard(context.Background(), RenderedPatchCard{Subject: "x"})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", msgID)
	assert.Equal(t, 2, calls)
}

func TestWebhookThreadClient_SendThreadUpdateNotification_IncludesCardMessageID(t *testing.T) {
	var lastContent string
	server := newWebhookServer(t, func(p webhookPayload) webhookResponse {
		lastContent = p.Content
		return webhookResponse{}
	})
	c := NewWebhookThreadClient("discord", server.URL, "", "chan-1", true, server.Client())
	cardMsgID := "card-msg-1"

	ok, err := c.SendThreadUpdateNotification(context.Background(), "chan-1", "thread-1", &cardMsgID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, lastContent, "card-msg-1")
}

func TestWebhookThreadClient_NameAndIsPrimary(t *testing.T) {
	c := NewWebhookThreadClient("discord", "http://example.invalid", "", "chan-1", true, http.DefaultClient)
	assert.Equal(t, "discord", c.Name())
	assert.True(t, c.IsPrimary())
}
