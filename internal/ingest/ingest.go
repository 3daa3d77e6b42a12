// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package ingest drives one polling cycle end to end: fetch, classify,
// two-phase persist, then apply PATCH/REPLY side effects.
package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/google/lkml-patchbot/internal/classify"
	"github.com/google/lkml-patchbot/internal/feed"
	"github.com/google/lkml-patchbot/internal/overview"
	"github.com/google/lkml-patchbot/internal/patchcard"
	"github.com/google/lkml-patchbot/internal/store"
)

// Pipeline wires a Poller to the store and the downstream services. db is
// used to open one transaction per cycle for phase-1 writes; phase-2 side
// effects dispatch to chat platforms over the network and intentionally
// run after that transaction commits, rather than holding it open across
// external HTTP calls — their own persistence is covered independently by
// the card- and thread-creation idempotence guards.
type Pipeline struct {
	db          *sql.DB
	poller      *feed.Poller
	cardSvc     *patchcard.Service
	overviewSvc *overview.Service
}

func NewPipeline(db *sql.DB, poller *feed.Poller, cardSvc *patchcard.Service, overviewSvc *overview.Service) *Pipeline {
	return &Pipeline{db: db, poller: poller, cardSvc: cardSvc, overviewSvc: overviewSvc}
}

// Result is the per-cycle outcome surfaced to the scheduler.
type Result struct {
	TotalSubsystems int
	Processed       int
	TotalNew        int
	TotalReply      int
	ErrorCount      int
	Errors          []error
}

// RunCycle runs one pass over subsystems: phase 1 persists every
// FeedMessage from every subsystem; phase 2 applies PATCH/REPLY side
// effects over everything just persisted.
func (p *Pipeline) RunCycle(ctx context.Context, subsystems []string) Result {
	cycle := p.poller.RunCycle(ctx, subsystems, func(e feed.Entry) bool {
		return classify.Classify(e.Subject, e.InReplyToHeader, e.MessageIDHeader).IsReply
	})

	persisted, err := p.persistPhase(ctx, cycle.PerSubsystem)
	if err != nil {
		cycle.Errors = append(cycle.Errors, err)
		cycle.ErrorCount++
	}

	for _, fm := range persisted {
		p.applySideEffects(ctx, fm)
	}

	return Result{
		TotalSubsystems: cycle.TotalSubsystems,
		Processed:       cycle.Processed,
		TotalNew:        cycle.TotalNew,
		TotalReply:      cycle.TotalReply,
		ErrorCount:      cycle.ErrorCount,
		Errors:          cycle.Errors,
	}
}

// persistPhase runs the first ingestion phase inside one transaction: every
// FeedMessage from every subsystem's new entries is upserted before any
// PATCH/REPLY side effect runs. On any persist error the transaction is
// rolled back and the error surfaced; cooperative cancellation is treated
// identically.
func (p *Pipeline) persistPhase(ctx context.Context, perSubsystem []feed.SubsystemResult) ([]*store.FeedMessage, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin cycle transaction: %w", err)
	}
	txFeedRepo := store.NewFeedMessageRepository(tx)

	var persisted []*store.FeedMessage
	for _, sr := range perSubsystem {
		for _, e := range sr.New {
			fm, err := p.persistEntry(ctx, txFeedRepo, sr.Subsystem, e)
			if err != nil {
				tx.Rollback()
				return nil, fmt.Errorf("%s: failed to persist %s: %w", sr.Subsystem, e.MessageIDHeader, err)
			}
			persisted = append(persisted, fm)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cycle transaction: %w", err)
	}
	return persisted, nil
}

// persistEntry upserts one feed entry, attaching its classification to
// the in-memory FeedMessage for phase 2. Classification always runs fresh,
// even for a message already stored once, so REPLY side effects still fire
// on replay rather than trusting stored flags.
func (p *Pipeline) persistEntry(ctx context.Context, feedRepo *store.FeedMessageRepository, subsystem string, e feed.Entry) (*store.FeedMessage, error) {
	cls := classify.Classify(e.Subject, e.InReplyToHeader, e.MessageIDHeader)
	if !cls.IsPatch && !cls.IsReply {
		log.Printf("ingest: %s: message %s classified as other", subsystem, e.MessageIDHeader)
	}

	fm := &store.FeedMessage{
		SubsystemName:   subsystem,
		MessageID:       e.MessageID,
		MessageIDHeader: e.MessageIDHeader,
		InReplyToHeader: e.InReplyToHeader,
		Subject:         e.Subject,
		Author:          e.Author,
		AuthorEmail:     e.AuthorEmail,
		Content:         e.Content,
		URL:             e.URL,
		ReceivedAt:      e.ReceivedAt,
		IsPatch:         cls.IsPatch,
		IsReply:         cls.IsReply,
		IsSeriesPatch:   cls.IsSeriesPatch,
		PatchVersion:    cls.PatchVersion,
		PatchIndex:      cls.PatchIndex,
		PatchTotal:      cls.PatchTotal,
		IsCoverLetter:   cls.IsCoverLetter,
		SeriesMessageID: cls.SeriesMessageID,
	}
	return feedRepo.CreateOrUpdate(ctx, fm)
}

// applySideEffects runs the phase-2 work for one persisted FeedMessage:
// PATCH eligibility/dispatch via the Patch-Card Service, or REPLY
// propagation via the Thread Overview Service.
func (p *Pipeline) applySideEffects(ctx context.Context, fm *store.FeedMessage) {
	switch {
	case fm.IsPatch:
		if _, err := p.cardSvc.ProcessPatch(ctx, fm); err != nil {
			log.Printf("ingest: failed to process patch %s: %v", fm.MessageIDHeader, err)
		}
	case fm.IsReply:
		p.overviewSvc.HandleReply(ctx, fm)
	}
}
