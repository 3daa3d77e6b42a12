// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package platform defines the chat-platform client interfaces and a
// MultiPlatformSender that fans each operation out across every configured
// platform in a fixed order.
package platform

import (
	"context"
	"fmt"
	"time"
)

// interMessageDelay separates consecutive platform sends to respect
// rate limits.
const interMessageDelay = 200 * time.Millisecond

// RenderedPatchCard is the platform-specific payload for one Patch Card.
type RenderedPatchCard struct {
	Subject        string
	Author         string
	URL            string
	Subsystem      string
	MatchedFilters []string
	SeriesPatches  []RenderedSeriesPatch
}

// RenderedSeriesPatch describes one sub-patch line on a cover-letter card.
type RenderedSeriesPatch struct {
	Index   int
	Total   int
	Subject string
	Author  string
	URL     string
}

// RenderedOverview is the platform-specific payload for one Thread
// Overview entry.
type RenderedOverview struct {
	PatchIndex int
	Subject    string
	Author     string
	URL        string
	Replies    []RenderedReply
}

// RenderedReply is one node of a rendered reply tree.
type RenderedReply struct {
	Author   string
	Content  string
	Children []RenderedReply
}

// PatchCardClient sends a rendered Patch Card.
type PatchCardClient interface {
	Name() string
	IsPrimary() bool
	SendPatchCard(ctx context.Context, rendered RenderedPatchCard) (platformMessageID string, platformChannelID string, err error)
}

// ThreadClient supports thread-capable platforms; notification-only
// platforms implement it with best-effort no-ops.
type ThreadClient interface {
	Name() string
	CreateThread(ctx context.Context, name, anchorMessageID string) (threadID string, alreadyExists bool, err error)
	SendThreadOverview(ctx context.Context, threadID string, entries []RenderedOverview) (map[int]string, error)
	UpdateThreadOverview(ctx context.Context, threadID, messageID string, rendered RenderedOverview) (bool, error)
	SendThreadUpdateNotification(ctx context.Context, channelID, threadID string, patchCardMessageID *string) (bool, error)
}

// MultiPlatformSender fans each operation out to every configured
// platform in a fixed order, returning the primary platform's result for
// operations that produce one.
type MultiPlatformSender struct {
	cardClients   []PatchCardClient
	threadClients []ThreadClient
	// sleep is overridable in tests to avoid real delays.
	sleep func(time.Duration)
}

func NewMultiPlatformSender(cardClients []PatchCardClient, threadClients []ThreadClient) *MultiPlatformSender {
	return &MultiPlatformSender{
		cardClients:   cardClients,
		threadClients: threadClients,
		sleep:         time.Sleep,
	}
}

// SendPatchCardResult is the aggregate of fanning a card send to every
// platform.
type SendPatchCardResult struct {
	PrimaryMessageID string
	PrimaryChannelID string
}

// SendPatchCard sends rendered to every configured PatchCardClient in
// fixed order, sleeping interMessageDelay between sends, and returns the
// primary platform's id/channel.
func (s *MultiPlatformSender) SendPatchCard(ctx context.Context, rendered RenderedPatchCard) (SendPatchCardResult, error) {
	if len(s.cardClients) == 0 {
		return SendPatchCardResult{}, fmt.Errorf("no patch card clients configured")
	}
	var primary SendPatchCardResult
	var fallback SendPatchCardResult
	var anySucceeded bool

	for i, client := range s.cardClients {
		if i > 0 {
			s.sleep(interMessageDelay)
		}
		msgID, chanID, err := client.SendPatchCard(ctx, rendered)
		if err != nil {
			continue
		}
		anySucceeded = true
		if fallback.PrimaryMessageID == "" {
			fallback = SendPatchCardResult{PrimaryMessageID: msgID, PrimaryChannelID: chanID}
		}
		if client.IsPrimary() {
			primary = SendPatchCardResult{PrimaryMessageID: msgID, PrimaryChannelID: chanID}
		}
	}
	if !anySucceeded {
		return SendPatchCardResult{}, fmt.Errorf("patch card send failed on all platforms")
	}
	if primary.PrimaryMessageID == "" {
		// No primary client succeeded with a message id (none is flagged
		// primary, or the primary send failed): fall back to the first
		// success, so the card still persists a usable platform_message_id.
		primary = fallback
	}
	return primary, nil
}

// CreateThread fans thread creation to every thread-capable client in
// fixed order, returning the first successful thread id.
func (s *MultiPlatformSender) CreateThread(ctx context.Context, name, anchorMessageID string) (threadID string, alreadyExists bool, err error) {
	for i, client := range s.threadClients {
		if i > 0 {
			s.sleep(interMessageDelay)
		}
		id, exists, cErr := client.CreateThread(ctx, name, anchorMessageID)
		if cErr != nil {
			return "", false, fmt.Errorf("%s: failed to create thread: %w", client.Name(), cErr)
		}
		if threadID == "" {
			threadID, alreadyExists = id, exists
		}
	}
	return threadID, alreadyExists, nil
}

// SendThreadOverview fans overview dispatch out in fixed order and merges
// the returned patch_index -> platform_message_id maps, first writer wins
// per index.
func (s *MultiPlatformSender) SendThreadOverview(ctx context.Context, threadID string, entries []RenderedOverview) (map[int]string, error) {
	merged := map[int]string{}
	for i, client := range s.threadClients {
		if i > 0 {
			s.sleep(interMessageDelay)
		}
		m, err := client.SendThreadOverview(ctx, threadID, entries)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to send thread overview: %w", client.Name(), err)
		}
		for idx, id := range m {
			if _, exists := merged[idx]; !exists {
				merged[idx] = id
			}
		}
	}
	return merged, nil
}

// UpdateThreadOverview fans a single-message update out in fixed order;
// succeeds if any client confirms the update.
func (s *MultiPlatformSender) UpdateThreadOverview(ctx context.Context, threadID, messageID string, rendered RenderedOverview) (bool, error) {
	var anyOK bool
	for i, client := range s.threadClients {
		if i > 0 {
			s.sleep(interMessageDelay)
		}
		ok, err := client.UpdateThreadOverview(ctx, threadID, messageID, rendered)
		if err != nil {
			return false, fmt.Errorf("%s: failed to update thread overview: %w", client.Name(), err)
		}
		anyOK = anyOK || ok
	}
	return anyOK, nil
}

// SendThreadUpdateNotification fans a "thread updated" notification out in
// fixed order.
func (s *MultiPlatformSender) SendThreadUpdateNotification(ctx context.Context, channelID, threadID string, patchCardMessageID *string) (bool, error) {
	var anyOK bool
	for i, client := range s.threadClients {
		if i > 0 {
			s.sleep(interMessageDelay)
		}
		ok, err := client.SendThreadUpdateNotification(ctx, channelID, threadID, patchCardMessageID)
		if err != nil {
			return false, fmt.Errorf("%s: failed to send thread update notification: %w", client.Name(), err)
		}
		anyOK = anyOK || ok
	}
	return anyOK, nil
}
