// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// NotificationClient is a notification-only platform client (the
// Feishu-like backend): it can post a Patch Card as a flat message but has
// no thread concept, so every ThreadClient method is a best-effort
// notification returning empty maps / true.
type NotificationClient struct {
	ClientName string
	WebhookURL string
	ChannelID  string
	HTTPClient *http.Client
}

func NewNotificationClient(name, webhookURL, channelID string, httpClient *http.Client) *NotificationClient {
	return &NotificationClient{ClientName: name, WebhookURL: webhookURL, ChannelID: channelID, HTTPClient: httpClient}
}

func (c *NotificationClient) Name() string    { return c.ClientName }
func (c *NotificationClient) IsPrimary() bool  { return false }

type notificationPayload struct {
	Text string `json:"text"`
}

func (c *NotificationClient) send(ctx context.Context, text string) error {
	body, err := json.Marshal(notificationPayload{Text: text})
	if err != nil {
		return err
	}
	resp, err := postJSON(ctx, c.HTTPClient, c.WebhookURL, nil, body)
	if err != nil {
		return fmt.Errorf("%s: webhook request failed: %w", c.ClientName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: webhook returned status %d", c.ClientName, resp.StatusCode)
	}
	return nil
}

func (c *NotificationClient) SendPatchCard(ctx context.Context, rendered RenderedPatchCard) (string, string, error) {
	if err := c.send(ctx, formatPatchCard(rendered)); err != nil {
		return "", "", err
	}
	// This platform has no stable message id concept to report back.
	return "", c.ChannelID, nil
}

func (c *NotificationClient) CreateThread(ctx context.Context, name, anchorMessageID string) (string, bool, error) {
	return "", true, nil
}

func (c *NotificationClient) SendThreadOverview(ctx context.Context, threadID string, entries []RenderedOverview) (map[int]string, error) {
	return map[int]string{}, nil
}

func (c *NotificationClient) UpdateThreadOverview(ctx context.Context, threadID, messageID string, rendered RenderedOverview) (bool, error) {
	return true, nil
}

func (c *NotificationClient) SendThreadUpdateNotification(ctx context.Context, channelID, threadID string, patchCardMessageID *string) (bool, error) {
	content := "Thread updated: " + threadID
	if patchCardMessageID != nil {
		content += " (card " + *patchCardMessageID + ")"
	}
	if err := c.send(ctx, content); err != nil {
		return false, err
	}
	return true, nil
}
