// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package store is the typed persistence layer for feed messages, patch
// cards, patch threads and filters, backed by an embedded
// modernc.org/sqlite database. The store is rebuildable: concurrency is
// handled with a pooled connection plus a unique constraint on
// message_id_header and retry-on-conflict, not application locks.
package store

import (
	"encoding/json"
	"strconv"
	"time"
)

// FeedMessage is one row per distinct email ever observed.
type FeedMessage struct {
	ID                int64
	SubsystemName     string
	MessageID         string
	MessageIDHeader   string
	InReplyToHeader   *string
	Subject           string
	Author            string
	AuthorEmail       string
	Content           string
	URL               string
	ReceivedAt        time.Time
	IsPatch           bool
	IsReply           bool
	IsSeriesPatch     bool
	PatchVersion      *string
	PatchIndex        *int
	PatchTotal        *int
	IsCoverLetter     bool
	SeriesMessageID   *string
}

// IsSubPatch reports whether fm is a non-cover-letter member of a series.
func (fm *FeedMessage) IsSubPatch() bool {
	return fm.IsSeriesPatch && !fm.IsCoverLetter
}

// PatchCard is the surfaced, persistent representation of one patch or
// cover letter.
type PatchCard struct {
	ID                 int64
	MessageIDHeader    string
	SubsystemName      string
	PlatformMessageID  *string
	PlatformChannelID  string
	Subject            string
	Author             string
	URL                string
	HasThread          bool
	IsSeriesPatch      bool
	SeriesMessageID    *string
	PatchVersion       *string
	PatchIndex         *int
	PatchTotal         *int
	IsCoverLetter      bool
	ToCCList           []string
	ExpiresAt          *time.Time
	CreatedAt          time.Time

	// MatchedFilters is populated by the filter engine at creation time for
	// rendering. It is not a persisted column: re-evaluating
	// filters for an existing card is skipped for idempotence, so there is
	// nothing meaningful to refresh it from later.
	MatchedFilters []string

	// SeriesPatches is populated transiently for a cover-letter card by
	// patchcard.Service.ProcessPatch eagerly collecting known sub-patches;
	// not persisted.
	SeriesPatches []SeriesPatchInfo
}

// SeriesPatchInfo describes one known sub-patch of a series, as collated
// onto a cover-letter's outgoing PatchCard.
type SeriesPatchInfo struct {
	MessageIDHeader string
	PatchIndex      int
	PatchTotal      int
	Subject         string
	Author          string
	URL             string
	ReceivedAt      time.Time
}

// PatchThread is at most one per PatchCard, created on an explicit watch
// command.
type PatchThread struct {
	ID                        int64
	PatchCardMessageIDHeader  string
	ThreadID                  string
	ThreadName                string
	IsActive                  bool
	OverviewMessageID         *string
	SubPatchMessages          SubPatchMessages
	CreatedAt                 time.Time
	ArchivedAt                *time.Time
}

// SubPatchMessages maps a series patch_index (or 1, for a single PATCH) to
// the platform message id of its thread-overview entry.
type SubPatchMessages map[int]string

// MarshalJSON renders the integer keys as a JSON object, since JSON object
// keys must be strings.
func (m SubPatchMessages) MarshalJSON() ([]byte, error) {
	strKeyed := make(map[string]string, len(m))
	for k, v := range m {
		strKeyed[intToString(k)] = v
	}
	return json.Marshal(strKeyed)
}

// UnmarshalJSON restores the integer-keyed map from its string-keyed JSON
// form.
func (m *SubPatchMessages) UnmarshalJSON(data []byte) error {
	var strKeyed map[string]string
	if err := json.Unmarshal(data, &strKeyed); err != nil {
		return err
	}
	out := make(SubPatchMessages, len(strKeyed))
	for k, v := range strKeyed {
		idx, err := stringToInt(k)
		if err != nil {
			return err
		}
		out[idx] = v
	}
	*m = out
	return nil
}

// PatchCardFilter is a named rule group whose conditions are ANDed within
// the filter and ORed across filters.
type PatchCardFilter struct {
	ID               int64
	Name             string
	Enabled          bool
	FilterConditions map[string]PatternSet
	Description      string
	CreatedBy        string
	CreatedAt        time.Time
}

// PatternSet is a sum type over a scalar pattern or a list of patterns.
// A single scalar condition and a one-element list are semantically
// identical: both are represented as a one-element PatternSet.
type PatternSet []string

// MarshalJSON renders a one-element set as a bare JSON string (matching the
// shape filter authors write by hand) and anything else as a JSON array.
func (p PatternSet) MarshalJSON() ([]byte, error) {
	if len(p) == 1 {
		return json.Marshal(p[0])
	}
	return json.Marshal([]string(p))
}

// UnmarshalJSON accepts either a bare JSON string or a JSON array of
// strings.
func (p *PatternSet) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*p = PatternSet{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*p = list
	return nil
}

func intToString(i int) string {
	return strconv.Itoa(i)
}

func stringToInt(s string) (int, error) {
	return strconv.Atoi(s)
}
