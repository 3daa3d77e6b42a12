// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package patchcard decides whether a PATCH qualifies for a surfaced
// card, builds it, dispatches it to platforms, and persists it.
package patchcard

import (
	"context"
	"fmt"
	"log"

	"github.com/google/lkml-patchbot/internal/filter"
	"github.com/google/lkml-patchbot/internal/platform"
	"github.com/google/lkml-patchbot/internal/store"
)

// Service implements the Patch-Card lifecycle.
type Service struct {
	feedRepo *store.FeedMessageRepository
	cardRepo *store.PatchCardRepository
	engine   *filter.Engine
	sender   *platform.MultiPlatformSender
}

func NewService(
	feedRepo *store.FeedMessageRepository,
	cardRepo *store.PatchCardRepository,
	engine *filter.Engine,
	sender *platform.MultiPlatformSender,
) *Service {
	return &Service{
		feedRepo: feedRepo,
		cardRepo: cardRepo,
		engine:   engine,
		sender:   sender,
	}
}

// ProcessPatch runs the full eligibility/dispatch/persist pipeline for a
// single PATCH FeedMessage. It is a no-op (nil, nil) when the message is
// ineligible — a sub-patch, already carded, or filtered out.
func (s *Service) ProcessPatch(ctx context.Context, fm *store.FeedMessage) (*store.PatchCard, error) {
	if fm.MessageIDHeader == "" {
		log.Printf("patchcard: PATCH with empty message_id_header, skipping")
		return nil, nil
	}

	exists, err := s.cardRepo.Exists(ctx, fm.MessageIDHeader)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}

	if fm.IsSubPatch() {
		// Only the cover letter of a series is surfaced; sub-patches stay
		// in FeedMessage only.
		return nil, nil
	}

	rootURL := fm.URL
	cand := filter.Candidate{
		Author:      fm.Author,
		AuthorEmail: fm.AuthorEmail,
		Subject:     fm.Subject,
		Subsystem:   fm.SubsystemName,
		Content:     fm.Content,
		RootURL:     rootURL,
	}
	decision, err := s.engine.Evaluate(ctx, cand, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate filters: %w", err)
	}
	if !decision.ShouldCreate {
		return nil, nil
	}

	card := &store.PatchCard{
		MessageIDHeader: fm.MessageIDHeader,
		SubsystemName:   fm.SubsystemName,
		Subject:         fm.Subject,
		Author:          fm.Author,
		URL:             fm.URL,
		IsSeriesPatch:   fm.IsSeriesPatch,
		SeriesMessageID: fm.SeriesMessageID,
		PatchVersion:    fm.PatchVersion,
		PatchIndex:      fm.PatchIndex,
		PatchTotal:      fm.PatchTotal,
		IsCoverLetter:   fm.IsCoverLetter,
		CreatedAt:       fm.ReceivedAt,
		MatchedFilters:  decision.MatchedNames,
	}
	if ccList, ok := s.engine.CachedCCList(rootURL); ok {
		// A cclist filter resolved the series root's To+CC during
		// evaluation: store it on the card's to_cc_list.
		card.ToCCList = ccList
	}

	var renderedSeries []platform.RenderedSeriesPatch
	if fm.IsCoverLetter {
		patches, err := s.feedRepo.FindSeriesPatches(ctx, fm.MessageIDHeader)
		if err != nil {
			return nil, fmt.Errorf("failed to collect series patches: %w", err)
		}
		for _, p := range patches {
			info := store.SeriesPatchInfo{
				MessageIDHeader: p.MessageIDHeader,
				Subject:         p.Subject,
				Author:          p.Author,
				URL:             p.URL,
				ReceivedAt:      p.ReceivedAt,
			}
			if p.PatchIndex != nil {
				info.PatchIndex = *p.PatchIndex
			}
			if p.PatchTotal != nil {
				info.PatchTotal = *p.PatchTotal
			}
			card.SeriesPatches = append(card.SeriesPatches, info)
			renderedSeries = append(renderedSeries, platform.RenderedSeriesPatch{
				Index: info.PatchIndex, Total: info.PatchTotal, Subject: info.Subject, Author: info.Author, URL: info.URL,
			})
		}
	}

	rendered := platform.RenderedPatchCard{
		Subject:        card.Subject,
		Author:         card.Author,
		URL:            card.URL,
		Subsystem:      card.SubsystemName,
		MatchedFilters: card.MatchedFilters,
		SeriesPatches:  renderedSeries,
	}

	sendResult, err := s.sender.SendPatchCard(ctx, rendered)
	if err != nil {
		// PlatformError: primary send failure means no card is created.
		return nil, fmt.Errorf("failed to dispatch patch card: %w", err)
	}
	card.PlatformMessageID = &sendResult.PrimaryMessageID
	card.PlatformChannelID = sendResult.PrimaryChannelID

	created, err := s.cardRepo.Create(ctx, card)
	if err != nil {
		if err == store.ErrConflict {
			// Someone else created this card concurrently; treat as
			// already-created.
			return nil, nil
		}
		return nil, fmt.Errorf("failed to persist patch card: %w", err)
	}
	return created, nil
}
