// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package classify decides what kind of message a feed entry is — a PATCH
// cover letter, a series sub-patch, a standalone PATCH, a REPLY, or
// something else — from its subject line alone (plus the identity fields
// needed to compute series membership).
package classify

import (
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
)

var (
	bracketRe    = regexp.MustCompile(`\[([^\]]*)\]`)
	versionRe    = regexp.MustCompile(`(?i)\bv(\d+)\b`)
	indexTotalRe = regexp.MustCompile(`\b(\d+)/(\d+)\b`)
)

// Result is the denormalized classification of one message, matching the
// flags persisted directly onto FeedMessage.
type Result struct {
	IsPatch         bool
	IsReply         bool
	IsSeriesPatch   bool
	IsCoverLetter   bool
	PatchVersion    *string
	PatchIndex      *int
	PatchTotal      *int
	SeriesMessageID *string
}

// Classify decides the Result for (subject, inReplyToHeader,
// messageIDHeader) alone. It is pure: identical inputs
// always yield an identical Result.
func Classify(subject string, inReplyToHeader *string, messageIDHeader string) Result {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(subject)), "re:") {
		return Result{IsReply: true}
	}

	tag, ok := patchTag(subject)
	if !ok {
		log.Printf("classify: no PATCH token found in subject %q, classifying as other", subject)
		return Result{}
	}

	var version *string
	if m := versionRe.FindStringSubmatch(tag); m != nil {
		v := "v" + m[1]
		version = &v
	}

	var index, total *int
	if m := indexTotalRe.FindStringSubmatch(tag); m != nil {
		i, errI := strconv.Atoi(m[1])
		t, errT := strconv.Atoi(m[2])
		if errI == nil && errT == nil {
			index, total = &i, &t
		}
	}

	result := Result{
		IsPatch:      true,
		PatchVersion: version,
		PatchIndex:   index,
		PatchTotal:   total,
	}

	if total == nil || *total < 1 {
		return result
	}

	result.IsSeriesPatch = true
	if inReplyToHeader == nil || *inReplyToHeader == "" {
		result.SeriesMessageID = &messageIDHeader
		result.IsCoverLetter = true
	} else {
		result.SeriesMessageID = inReplyToHeader
		result.IsCoverLetter = false
	}
	return result
}

// patchTag returns the content of the first bracketed substring containing
// the word PATCH (case-insensitive), or the remainder of the subject if it
// has a leading "patch:" prefix instead.
func patchTag(subject string) (string, bool) {
	for _, m := range bracketRe.FindAllStringSubmatch(subject, -1) {
		if strings.Contains(strings.ToUpper(m[1]), "PATCH") {
			return m[1], true
		}
	}
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(subject)), "patch:") {
		return subject, true
	}
	return "", false
}

// RenderSubject reconstructs a bracketed PATCH tag from (version, index,
// total), the inverse of ParsePatchSubject.
func RenderSubject(version string, index, total int) string {
	if version == "" {
		return fmt.Sprintf("[PATCH %d/%d] subject", index, total)
	}
	return fmt.Sprintf("[PATCH %s %d/%d] subject", version, index, total)
}

// ParsePatchSubject recovers (version, index, total) from a subject
// produced by RenderSubject. version is "" when absent.
func ParsePatchSubject(subject string) (version string, index, total int, ok bool) {
	tag, found := patchTag(subject)
	if !found {
		return "", 0, 0, false
	}
	if m := versionRe.FindStringSubmatch(tag); m != nil {
		version = "v" + m[1]
	}
	m := indexTotalRe.FindStringSubmatch(tag)
	if m == nil {
		return "", 0, 0, false
	}
	i, errI := strconv.Atoi(m[1])
	t, errT := strconv.Atoi(m[2])
	if errI != nil || errT != nil {
		return "", 0, 0, false
	}
	return version, i, t, true
}
