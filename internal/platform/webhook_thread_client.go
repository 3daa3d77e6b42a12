// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
)

// WebhookThreadClient is a thread-capable platform client (the
// Discord-like backend): it models a webhook/bot API that supports
// creating a thread off an anchor message and posting/editing messages
// inside it. Full transport fidelity to any specific vendor API is out of
// scope; this client implements the abstract contract with a generic JSON
// webhook POST, which is enough to exercise the full
// ThreadClient/PatchCardClient surface.
type WebhookThreadClient struct {
	ClientName string
	WebhookURL string
	BotToken   string
	ChannelID  string
	Primary    bool
	HTTPClient *http.Client

	mu      sync.Mutex
	threads map[string]string // threadID -> name, for already-exists checks
}

func NewWebhookThreadClient(name, webhookURL, botToken, channelID string, primary bool, httpClient *http.Client) *WebhookThreadClient {
	return &WebhookThreadClient{
		ClientName: name,
		WebhookURL: webhookURL,
		BotToken:   botToken,
		ChannelID:  channelID,
		Primary:    primary,
		HTTPClient: httpClient,
		threads:    map[string]string{},
	}
}

func (c *WebhookThreadClient) Name() string   { return c.ClientName }
func (c *WebhookThreadClient) IsPrimary() bool { return c.Primary }

type webhookPayload struct {
	Op        string `json:"op"`
	ChannelID string `json:"channel_id,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type webhookResponse struct {
	MessageID string `json:"message_id"`
	ThreadID  string `json:"thread_id"`
}

func (c *WebhookThreadClient) post(ctx context.Context, payload webhookPayload) (webhookResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return webhookResponse{}, err
	}
	headers := map[string]string{}
	if c.BotToken != "" {
		headers["Authorization"] = "Bearer " + c.BotToken
	}
	resp, err := postJSON(ctx, c.HTTPClient, c.WebhookURL, headers, body)
	if err != nil {
		return webhookResponse{}, fmt.Errorf("%s: webhook request failed: %w", c.ClientName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return webhookResponse{}, fmt.Errorf("%s: webhook returned status %d", c.ClientName, resp.StatusCode)
	}
	var out webhookResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return webhookResponse{}, fmt.Errorf("%s: failed to decode webhook response: %w", c.ClientName, err)
	}
	return out, nil
}

func (c *WebhookThreadClient) SendPatchCard(ctx context.Context, rendered RenderedPatchCard) (string, string, error) {
	resp, err := c.post(ctx, webhookPayload{
		Op:        "send_patch_card",
		ChannelID: c.ChannelID,
		Content:   formatPatchCard(rendered),
	})
	if err != nil {
		return "", "", err
	}
	return resp.MessageID, c.ChannelID, nil
}

func (c *WebhookThreadClient) CreateThread(ctx context.Context, name, anchorMessageID string) (string, bool, error) {
	c.mu.Lock()
	for id, existingName := range c.threads {
		if existingName == name {
			c.mu.Unlock()
			return id, true, nil
		}
	}
	c.mu.Unlock()

	resp, err := c.post(ctx, webhookPayload{Op: "create_thread", MessageID: anchorMessageID, Content: name})
	if err != nil {
		return "", false, err
	}
	c.mu.Lock()
	c.threads[resp.ThreadID] = name
	c.mu.Unlock()
	return resp.ThreadID, false, nil
}

func (c *WebhookThreadClient) SendThreadOverview(ctx context.Context, threadID string, entries []RenderedOverview) (map[int]string, error) {
	out := map[int]string{}
	for _, e := range entries {
		resp, err := c.post(ctx, webhookPayload{Op: "send_thread_message", ThreadID: threadID, Content: formatOverviewEntry(e)})
		if err != nil {
			return nil, err
		}
		out[e.PatchIndex] = resp.MessageID
	}
	return out, nil
}

func (c *WebhookThreadClient) UpdateThreadOverview(ctx context.Context, threadID, messageID string, rendered RenderedOverview) (bool, error) {
	_, err := c.post(ctx, webhookPayload{
		Op:        "edit_thread_message",
		ThreadID:  threadID,
		MessageID: messageID,
		Content:   formatOverviewEntry(rendered),
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *WebhookThreadClient) SendThreadUpdateNotification(ctx context.Context, channelID, threadID string, patchCardMessageID *string) (bool, error) {
	content := "Thread updated: " + threadID
	if patchCardMessageID != nil {
		content += " (card " + *patchCardMessageID + ")"
	}
	_, err := c.post(ctx, webhookPayload{Op: "send_message", ChannelID: channelID, Content: content})
	if err != nil {
		return false, err
	}
	return true, nil
}

func formatPatchCard(rendered RenderedPatchCard) string {
	s := fmt.Sprintf("[%s] %s by %s\n%s", rendered.Subsystem, rendered.Subject, rendered.Author, rendered.URL)
	if len(rendered.MatchedFilters) > 0 {
		s += "\nmatched: " + joinStrings(rendered.MatchedFilters)
	}
	for _, sp := range rendered.SeriesPatches {
		s += "\n  " + strconv.Itoa(sp.Index) + "/" + strconv.Itoa(sp.Total) + " " + sp.Subject
	}
	return s
}

func formatOverviewEntry(e RenderedOverview) string {
	s := fmt.Sprintf("#%d %s by %s\n%s", e.PatchIndex, e.Subject, e.Author, e.URL)
	s += formatReplies(e.Replies, 1)
	return s
}

func formatReplies(replies []RenderedReply, depth int) string {
	var s string
	for _, r := range replies {
		s += fmt.Sprintf("\n%*s%s: %s", depth*2, "", r.Author, r.Content)
		s += formatReplies(r.Children, depth+1)
	}
	return s
}

func joinStrings(ss []string) string {
	var s string
	for i, v := range ss {
		if i > 0 {
			s += ", "
		}
		s += v
	}
	return s
}
