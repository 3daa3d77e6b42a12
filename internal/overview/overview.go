// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package overview implements the Thread Overview Service:
// creating a platform thread for a watched Patch Card, and updating a
// single sub-patch's overview message when a new REPLY arrives.
package overview

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/lkml-patchbot/internal/platform"
	"github.com/google/lkml-patchbot/internal/reply"
	"github.com/google/lkml-patchbot/internal/store"
)

var ErrUnknownPatchCard = fmt.Errorf("no patch card found for that id")

// Service implements the watch/create path and the reply-driven update
// path for thread overviews.
type Service struct {
	feedRepo   *store.FeedMessageRepository
	cardRepo   *store.PatchCardRepository
	threadRepo *store.PatchThreadRepository
	sender     *platform.MultiPlatformSender
}

func NewService(
	feedRepo *store.FeedMessageRepository,
	cardRepo *store.PatchCardRepository,
	threadRepo *store.PatchThreadRepository,
	sender *platform.MultiPlatformSender,
) *Service {
	return &Service{feedRepo: feedRepo, cardRepo: cardRepo, threadRepo: threadRepo, sender: sender}
}

// entrySpec describes one (sub-)patch that will get its own overview
// message.
type entrySpec struct {
	Index           int
	MessageIDHeader string
	Subject         string
	Author          string
	URL             string
}

// Watch implements the create path: locating the cover-letter PatchCard
// (see resolveCoverLetterCard), creating the platform thread, rendering and sending the
// initial overview, and marking the card has_thread.
func (s *Service) Watch(ctx context.Context, messageIDHeader string) (*store.PatchThread, string, error) {
	card, err := s.resolveCoverLetterCard(ctx, messageIDHeader)
	if err != nil {
		return nil, "", err
	}
	if card == nil {
		return nil, "", ErrUnknownPatchCard
	}

	existing, err := s.threadRepo.FindByPatchCardMessageIDHeader(ctx, card.MessageIDHeader)
	if err != nil {
		return nil, "", err
	}
	if existing != nil {
		if existing.IsActive {
			return existing, "thread already present", nil
		}
		// The record exists but the thread is known stale: drop it and
		// recreate.
		if err := s.threadRepo.Delete(ctx, card.MessageIDHeader); err != nil {
			return nil, "", err
		}
	}

	entries, err := s.buildEntrySpecs(ctx, card)
	if err != nil {
		return nil, "", err
	}

	anchor := ""
	if card.PlatformMessageID != nil {
		anchor = *card.PlatformMessageID
	}
	threadID, alreadyExists, err := s.sender.CreateThread(ctx, card.Subject, anchor)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create thread: %w", err)
	}
	_ = alreadyExists

	rendered := make([]platform.RenderedOverview, 0, len(entries))
	for _, e := range entries {
		ro, err := s.renderEntry(ctx, e)
		if err != nil {
			return nil, "", err
		}
		rendered = append(rendered, ro)
	}

	sentMessages, err := s.sender.SendThreadOverview(ctx, threadID, rendered)
	if err != nil {
		return nil, "", fmt.Errorf("failed to send thread overview: %w", err)
	}

	pt := &store.PatchThread{
		PatchCardMessageIDHeader: card.MessageIDHeader,
		ThreadID:                 threadID,
		ThreadName:               card.Subject,
		IsActive:                 true,
		SubPatchMessages:         store.SubPatchMessages(sentMessages),
		CreatedAt:                time.Now().UTC(),
	}
	created, err := s.threadRepo.Create(ctx, pt)
	if err != nil {
		return nil, "", fmt.Errorf("failed to persist patch thread: %w", err)
	}
	if err := s.cardRepo.MarkHasThread(ctx, card.MessageIDHeader); err != nil {
		return nil, "", fmt.Errorf("failed to mark has_thread: %w", err)
	}
	return created, "", nil
}

// resolveCoverLetterCard locates the PatchCard for id, resolving a
// sub-patch id to its cover letter's existing card. It never creates a
// card: when neither id nor its cover letter has one, it returns nil.
func (s *Service) resolveCoverLetterCard(ctx context.Context, messageIDHeader string) (*store.PatchCard, error) {
	card, err := s.cardRepo.FindByMessageIDHeader(ctx, messageIDHeader)
	if err != nil {
		return nil, err
	}
	if card != nil {
		return card, nil
	}

	fm, err := s.feedRepo.FindByMessageIDHeader(ctx, messageIDHeader)
	if err != nil {
		return nil, err
	}
	if fm == nil {
		return nil, nil
	}
	if !fm.IsSubPatch() || fm.SeriesMessageID == nil {
		return nil, nil
	}
	return s.cardRepo.FindByMessageIDHeader(ctx, *fm.SeriesMessageID)
}

// buildEntrySpecs returns the list of overview entries for card: one for
// patch_index = 1 if it is a single PATCH, or one per known sub-patch
// otherwise.
func (s *Service) buildEntrySpecs(ctx context.Context, card *store.PatchCard) ([]entrySpec, error) {
	if !card.IsSeriesPatch {
		return []entrySpec{{Index: 1, MessageIDHeader: card.MessageIDHeader, Subject: card.Subject, Author: card.Author, URL: card.URL}}, nil
	}
	patches, err := s.feedRepo.FindSeriesPatches(ctx, card.MessageIDHeader)
	if err != nil {
		return nil, err
	}
	specs := make([]entrySpec, 0, len(patches))
	for _, p := range patches {
		idx := 0
		if p.PatchIndex != nil {
			idx = *p.PatchIndex
		}
		specs = append(specs, entrySpec{Index: idx, MessageIDHeader: p.MessageIDHeader, Subject: p.Subject, Author: p.Author, URL: p.URL})
	}
	return specs, nil
}

func (s *Service) renderEntry(ctx context.Context, e entrySpec) (platform.RenderedOverview, error) {
	nodes, err := reply.BuildTree(ctx, s.feedRepo, e.MessageIDHeader)
	if err != nil {
		return platform.RenderedOverview{}, fmt.Errorf("failed to build reply tree for %s: %w", e.MessageIDHeader, err)
	}
	return platform.RenderedOverview{
		PatchIndex: e.Index,
		Subject:    e.Subject,
		Author:     e.Author,
		URL:        e.URL,
		Replies:    renderReplyNodes(nodes),
	}, nil
}

func renderReplyNodes(nodes []*reply.Node) []platform.RenderedReply {
	out := make([]platform.RenderedReply, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, platform.RenderedReply{
			Author:   n.Message.Author,
			Content:  n.Message.Content,
			Children: renderReplyNodes(n.Children),
		})
	}
	return out
}

// HandleReply implements the update path: locating the target PatchCard
// and active thread for REPLY fm, resolving the target sub-patch, and
// re-rendering just that one overview message. Failures are logged, not
// returned as fatal: the FeedMessage that triggered this is never rolled
// back.
func (s *Service) HandleReply(ctx context.Context, fm *store.FeedMessage) {
	if fm.InReplyToHeader == nil || *fm.InReplyToHeader == "" {
		return
	}
	card, err := s.findTargetCard(ctx, *fm.InReplyToHeader)
	if err != nil {
		log.Printf("overview: failed to resolve target card for reply %s: %v", fm.MessageIDHeader, err)
		return
	}
	if card == nil {
		return
	}
	thread, err := s.threadRepo.FindByPatchCardMessageIDHeader(ctx, card.MessageIDHeader)
	if err != nil {
		log.Printf("overview: failed to load thread for %s: %v", card.MessageIDHeader, err)
		return
	}
	if thread == nil || !thread.IsActive {
		return
	}

	targetIndex, ok, err := s.findTargetSubPatch(ctx, card, *fm.InReplyToHeader)
	if err != nil {
		log.Printf("overview: failed to resolve target sub-patch for %s: %v", card.MessageIDHeader, err)
		return
	}
	if !ok {
		return
	}
	platformMessageID, ok := thread.SubPatchMessages[targetIndex]
	if !ok {
		log.Printf("overview: no overview message recorded for %s index %d", card.MessageIDHeader, targetIndex)
		return
	}

	spec, err := s.entrySpecFor(ctx, card, targetIndex)
	if err != nil {
		log.Printf("overview: failed to resolve entry spec for %s index %d: %v", card.MessageIDHeader, targetIndex, err)
		return
	}
	rendered, err := s.renderEntry(ctx, spec)
	if err != nil {
		log.Printf("overview: failed to re-render overview for %s index %d: %v", card.MessageIDHeader, targetIndex, err)
		return
	}

	ok2, err := s.sender.UpdateThreadOverview(ctx, thread.ThreadID, platformMessageID, rendered)
	if err != nil || !ok2 {
		log.Printf("overview: failed to update thread overview for %s index %d: %v", card.MessageIDHeader, targetIndex, err)
		return
	}

	if _, err := s.sender.SendThreadUpdateNotification(ctx, card.PlatformChannelID, thread.ThreadID, &card.MessageIDHeader); err != nil {
		log.Printf("overview: failed to send thread update notification for %s: %v", card.MessageIDHeader, err)
	}
}

// ArchiveStale marks every PatchThread still active but created before
// cutoff as inactive, enforcing the advisory thread-card timeout. A thread
// marked inactive this way is recreated the next time someone watches the
// same patch again.
func (s *Service) ArchiveStale(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := s.threadRepo.FindActiveOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale patch threads: %w", err)
	}
	archivedAt := cutoff
	n := 0
	for _, t := range stale {
		if err := s.threadRepo.Archive(ctx, t.ThreadID, archivedAt); err != nil {
			log.Printf("overview: failed to archive stale thread %s: %v", t.ThreadID, err)
			continue
		}
		n++
	}
	return n, nil
}

func (s *Service) findTargetCard(ctx context.Context, inReplyToHeader string) (*store.PatchCard, error) {
	// Headers may carry angle brackets or trailing ids; match on the first
	// token, stripped, the same way the reply-tree builder resolves parents.
	target := firstHeaderToken(inReplyToHeader)
	if target == "" {
		return nil, nil
	}
	if card, err := s.cardRepo.FindByMessageIDHeader(ctx, target); err != nil {
		return nil, err
	} else if card != nil {
		return card, nil
	}
	subPatch, err := s.feedRepo.FindByMessageIDHeader(ctx, target)
	if err != nil {
		return nil, err
	}
	if subPatch == nil || subPatch.SeriesMessageID == nil {
		return nil, nil
	}
	return s.cardRepo.FindByMessageIDHeader(ctx, *subPatch.SeriesMessageID)
}

// firstHeaderToken strips surrounding <...> from the first
// whitespace-separated token of a raw In-Reply-To header.
func firstHeaderToken(header string) string {
	fields := strings.Fields(header)
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[0], "<>")
}

// findTargetSubPatch identifies the sub-patch the reply's
// in_reply_to_header points at. card.SeriesPatches is a transient,
// creation-time-only field, so a freshly loaded card always has it empty:
// the patches are re-fetched from the store here instead.
func (s *Service) findTargetSubPatch(ctx context.Context, card *store.PatchCard, inReplyToHeader string) (int, bool, error) {
	if !card.IsSeriesPatch {
		return 1, true, nil
	}
	patches, err := s.feedRepo.FindSeriesPatches(ctx, card.MessageIDHeader)
	if err != nil {
		return 0, false, err
	}
	for _, p := range patches {
		if p.PatchIndex == nil {
			continue
		}
		if strings.Contains(inReplyToHeader, p.MessageIDHeader) {
			return *p.PatchIndex, true, nil
		}
	}
	return 0, false, nil
}

func (s *Service) entrySpecFor(ctx context.Context, card *store.PatchCard, index int) (entrySpec, error) {
	if !card.IsSeriesPatch {
		return entrySpec{Index: 1, MessageIDHeader: card.MessageIDHeader, Subject: card.Subject, Author: card.Author, URL: card.URL}, nil
	}
	patches, err := s.feedRepo.FindSeriesPatches(ctx, card.MessageIDHeader)
	if err != nil {
		return entrySpec{}, err
	}
	for _, p := range patches {
		if p.PatchIndex != nil && *p.PatchIndex == index {
			return entrySpec{Index: index, MessageIDHeader: p.MessageIDHeader, Subject: p.Subject, Author: p.Author, URL: p.URL}, nil
		}
	}
	return entrySpec{}, fmt.Errorf("sub-patch index %d not found for series %s", index, card.MessageIDHeader)
}
