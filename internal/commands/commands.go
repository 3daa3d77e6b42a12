// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package commands is the thin surface behind the `watch` and filter-rule
// commands. Parsing, help text and admin ergonomics live in the chat bot
// layer; these handlers take already-parsed arguments and call straight
// into the core services.
package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/google/lkml-patchbot/internal/overview"
	"github.com/google/lkml-patchbot/internal/store"
)

// Handlers bundles the command entry points a thin chat-command layer
// calls into.
type Handlers struct {
	overviewSvc *overview.Service
	filterRepo  *store.PatchCardFilterRepository
	configRepo  *store.FilterConfigRepository
}

func NewHandlers(overviewSvc *overview.Service, filterRepo *store.PatchCardFilterRepository, configRepo *store.FilterConfigRepository) *Handlers {
	return &Handlers{overviewSvc: overviewSvc, filterRepo: filterRepo, configRepo: configRepo}
}

// ErrUserError wraps a failure that should be surfaced verbatim to the
// issuing user.
type ErrUserError struct{ Message string }

func (e *ErrUserError) Error() string { return e.Message }

// Watch handles `/watch <message_id_header>`.
func (h *Handlers) Watch(ctx context.Context, messageIDHeader string) (string, error) {
	_, note, err := h.overviewSvc.Watch(ctx, messageIDHeader)
	if err == overview.ErrUnknownPatchCard {
		return "", &ErrUserError{Message: fmt.Sprintf("no patch or series found for %q", messageIDHeader)}
	}
	if err != nil {
		return "", err
	}
	if note != "" {
		return note, nil
	}
	return "thread created", nil
}

// FilterRuleAdd handles `/filter rule add`.
func (h *Handlers) FilterRuleAdd(ctx context.Context, name, description, createdBy string, conditions map[string]store.PatternSet) (*store.PatchCardFilter, error) {
	if name == "" {
		return nil, &ErrUserError{Message: "filter name must not be empty"}
	}
	return h.filterRepo.Create(ctx, &store.PatchCardFilter{
		Name:             name,
		Enabled:          true,
		FilterConditions: conditions,
		Description:      description,
		CreatedBy:        createdBy,
		CreatedAt:        time.Now().UTC(),
	})
}

// FilterRuleList handles `/filter rule list`.
func (h *Handlers) FilterRuleList(ctx context.Context) ([]*store.PatchCardFilter, error) {
	return h.filterRepo.FindAll(ctx)
}

// FilterRuleShow handles `/filter rule show <id>`.
func (h *Handlers) FilterRuleShow(ctx context.Context, id int64) (*store.PatchCardFilter, error) {
	f, err := h.filterRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, &ErrUserError{Message: fmt.Sprintf("no filter rule with id %d", id)}
	}
	return f, nil
}

// FilterRuleDel handles `/filter rule del <id>`.
func (h *Handlers) FilterRuleDel(ctx context.Context, id int64) error {
	return h.filterRepo.Delete(ctx, id)
}

// FilterRuleEnable handles `/filter rule enable|disable <id>`.
func (h *Handlers) FilterRuleEnable(ctx context.Context, id int64, enabled bool) error {
	return h.filterRepo.SetEnabled(ctx, id, enabled)
}

// FilterConfigExclusive handles `/filter config exclusive on|off`.
func (h *Handlers) FilterConfigExclusive(ctx context.Context, exclusive bool) error {
	return h.configRepo.SetExclusiveMode(ctx, exclusive)
}
