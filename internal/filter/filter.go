// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package filter decides which candidate messages become surfaced Patch
// Cards.
package filter

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/lkml-patchbot/internal/store"
)

// Candidate is the subset of a FeedMessage the engine matches against.
type Candidate struct {
	Author      string
	AuthorEmail string
	Subject     string
	Subsystem   string
	Content     string
	// RootURL is the series root's URL: the message's own URL for a
	// standalone PATCH or cover letter, or the cover letter's URL for a
	// series sub-patch.
	RootURL string
}

// CCListFetcher resolves the deduplicated To+CC address list for a root
// URL. The engine only needs this narrow contract.
type CCListFetcher interface {
	FetchCCList(ctx context.Context, rootURL string) ([]string, error)
}

// Engine evaluates PatchCardFilters against candidates.
type Engine struct {
	filterRepo *store.PatchCardFilterRepository
	configRepo *store.FilterConfigRepository
	ccFetcher  CCListFetcher
	// ccCache memoizes fetch_cc_list results per root URL for the
	// Engine's lifetime, across Evaluate calls; the Patch-Card Service
	// copies the resolved list onto the card it creates.
	ccCache map[string][]string
}

func NewEngine(filterRepo *store.PatchCardFilterRepository, configRepo *store.FilterConfigRepository, ccFetcher CCListFetcher) *Engine {
	return &Engine{
		filterRepo: filterRepo,
		configRepo: configRepo,
		ccFetcher:  ccFetcher,
		ccCache:    map[string][]string{},
	}
}

// Decision is the outcome of evaluating a candidate.
type Decision struct {
	ShouldCreate bool
	MatchedNames []string
}

// Evaluate returns whether cand should produce a card, and which enabled
// filters matched, under the current global exclusive/highlight mode.
func (e *Engine) Evaluate(ctx context.Context, cand Candidate, cachedCCList []string) (Decision, error) {
	cfg, err := e.configRepo.Get(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to load filter config: %w", err)
	}
	filters, err := e.filterRepo.FindEnabled(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to load enabled filters: %w", err)
	}
	// FindEnabled already orders by id; sort explicitly by (created_at, id)
	// so the rendered matched-filters lists stay reproducible regardless of
	// storage order.
	sort.SliceStable(filters, func(i, j int) bool {
		if !filters[i].CreatedAt.Equal(filters[j].CreatedAt) {
			return filters[i].CreatedAt.Before(filters[j].CreatedAt)
		}
		return filters[i].ID < filters[j].ID
	})

	if cachedCCList != nil {
		e.ccCache[cand.RootURL] = cachedCCList
	}

	var matched []string
	for _, f := range filters {
		ok, err := e.matchesFilter(ctx, f, cand)
		if err != nil {
			return Decision{}, err
		}
		if ok {
			matched = append(matched, f.Name)
		}
	}

	shouldCreate := !cfg.ExclusiveMode || len(matched) > 0
	return Decision{ShouldCreate: shouldCreate, MatchedNames: matched}, nil
}

// CachedCCList returns the To+CC list resolved for rootURL during a prior
// Evaluate, if any. The Patch-Card Service persists it onto the new card's
// to_cc_list; the Patch-Card Service does not read that stored list back
// into Evaluate, so re-fetching is avoided only by this Engine's in-memory
// cache.
func (e *Engine) CachedCCList(rootURL string) ([]string, bool) {
	addrs, ok := e.ccCache[rootURL]
	return addrs, ok
}

func (e *Engine) matchesFilter(ctx context.Context, f *store.PatchCardFilter, cand Candidate) (bool, error) {
	for field, condition := range f.FilterConditions {
		ok, err := e.matchesField(ctx, field, condition, cand)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) matchesField(ctx context.Context, field string, condition store.PatternSet, cand Candidate) (bool, error) {
	value, err := e.fieldValue(ctx, field, cand)
	if err != nil {
		return false, err
	}
	if field == "keywords" && cand.Content == "" {
		return false, nil
	}
	for _, pattern := range condition {
		ok, err := matchPattern(pattern, value)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) fieldValue(ctx context.Context, field string, cand Candidate) (string, error) {
	switch field {
	case "author":
		return cand.Author, nil
	case "author_email":
		return cand.AuthorEmail, nil
	case "subject":
		return cand.Subject, nil
	case "subsys", "subsystem":
		return cand.Subsystem, nil
	case "keywords":
		return cand.Content, nil
	case "cclist", "cc":
		return e.ccListValue(ctx, cand.RootURL)
	default:
		return "", nil
	}
}

func (e *Engine) ccListValue(ctx context.Context, rootURL string) (string, error) {
	if rootURL == "" {
		return "", nil
	}
	if cached, ok := e.ccCache[rootURL]; ok {
		return strings.Join(cached, " "), nil
	}
	if e.ccFetcher == nil {
		return "", nil
	}
	addrs, err := e.ccFetcher.FetchCCList(ctx, rootURL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch cc list for %s: %w", rootURL, err)
	}
	e.ccCache[rootURL] = addrs
	return strings.Join(addrs, " "), nil
}

// matchPattern implements the filter pattern forms: /regex/
// (case-sensitive), /regex/i (case-insensitive), or a case-insensitive
// substring otherwise.
func matchPattern(pattern, value string) (bool, error) {
	if strings.HasPrefix(pattern, "/") {
		if body, caseInsensitive, ok := parseRegexPattern(pattern); ok {
			expr := body
			if caseInsensitive {
				expr = "(?i)" + body
			}
			re, err := regexp.Compile(expr)
			if err != nil {
				return false, fmt.Errorf("invalid filter regex %q: %w", pattern, err)
			}
			return re.MatchString(value), nil
		}
	}
	return strings.Contains(strings.ToLower(value), strings.ToLower(pattern)), nil
}

// parseRegexPattern recognizes /regex/ and /regex/i forms.
func parseRegexPattern(pattern string) (body string, caseInsensitive bool, ok bool) {
	if !strings.HasPrefix(pattern, "/") {
		return "", false, false
	}
	rest := pattern[1:]
	if strings.HasSuffix(rest, "/i") {
		return rest[:len(rest)-2], true, true
	}
	if strings.HasSuffix(rest, "/") {
		return rest[:len(rest)-1], false, true
	}
	return "", false, false
}
