// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package feed polls per-subsystem Atom feeds from lore.kernel.org,
// parses entries into raw fields, and hands them to the classifier and
// store.
package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// atomFeed mirrors the subset of Atom 1.0 this bot consumes.
type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string        `xml:"id"`
	Title     string        `xml:"title"`
	Author    atomAuthor    `xml:"author"`
	Summary   string        `xml:"summary"`
	Content   string        `xml:"content"`
	Updated   string        `xml:"updated"`
	Links     []atomLink    `xml:"link"`
	InReplyTo []atomInReply `xml:"in-reply-to"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomLink struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
}

// atomInReply models the threading extension's <thr:in-reply-to> element:
// href is a full URL, ref is a raw id or urn:uuid.
type atomInReply struct {
	Href string `xml:"href,attr"`
	Ref  string `xml:"ref,attr"`
}

// Entry is the raw, unclassified view of one feed item.
type Entry struct {
	MessageIDHeader string
	InReplyToHeader *string
	// InReplyToIsUUID flags a ref that is a urn:uuid value rather than a
	// resolvable Message-ID — such a header will never match anything
	// downstream.
	InReplyToIsUUID bool
	ReceivedAt      time.Time
	Author          string
	AuthorEmail     string
	Subject         string
	Content         string
	MessageID       string
	URL             string
}

var emailAddrRe = regexp.MustCompile(`<([^<>@\s]+@[^<>@\s]+)>|\(([^()@\s]+@[^()@\s]+)\)|([^\s<>()]+@[^\s<>()]+)`)

// ParseFeed decodes a lore.kernel.org Atom response for subsystem into raw
// Entry values. The returned bool is the parser-warning ("bozo") flag:
// encoding/xml either succeeds or returns a hard error, so it is true
// exactly when decoding failed (with no entries returned) and false
// otherwise; callers apply the zero-entries-vs-some-entries
// terminal/continue rule to it uniformly.
func ParseFeed(subsystem string, body []byte) ([]Entry, bool, error) {
	var raw atomFeed
	if err := xml.Unmarshal(body, &raw); err != nil {
		return nil, true, fmt.Errorf("failed to parse atom feed for %s: %w", subsystem, err)
	}
	entries := make([]Entry, 0, len(raw.Entries))
	for _, e := range raw.Entries {
		entries = append(entries, toEntry(subsystem, e))
	}
	return entries, false, nil
}

func toEntry(subsystem string, e atomEntry) Entry {
	selfLink := pickLink(e.Links, "alternate", "self")
	messageIDHeader := lastPathSegment(selfLink)

	inReplyTo, isUUID := extractInReplyTo(e)

	receivedAt, err := time.Parse(time.RFC3339, strings.TrimSpace(e.Updated))
	if err != nil {
		receivedAt = time.Now().UTC()
	} else {
		receivedAt = receivedAt.UTC()
	}

	content := e.Summary
	if content == "" {
		content = e.Content
	}

	messageID := e.ID
	if messageID == "" {
		messageID = selfLink
	}
	if messageID == "" {
		messageID = syntheticMessageID(subsystem, e.Title, receivedAt)
	}

	return Entry{
		MessageIDHeader: messageIDHeader,
		InReplyToHeader: inReplyTo,
		InReplyToIsUUID: isUUID,
		ReceivedAt:      receivedAt,
		Author:          e.Author.Name,
		AuthorEmail:     extractEmail(e.Author.Name),
		Subject:         e.Title,
		Content:         content,
		MessageID:       messageID,
		URL:             selfLink,
	}
}

func pickLink(links []atomLink, rels ...string) string {
	for _, want := range rels {
		for _, l := range links {
			if l.Rel == want && l.Href != "" {
				return l.Href
			}
		}
	}
	for _, l := range links {
		if l.Href != "" {
			return l.Href
		}
	}
	return ""
}

// lastPathSegment strips a trailing slash and returns the final path
// segment of rawURL; returns "" if the path has fewer than two segments.
func lastPathSegment(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	path := strings.Trim(u.Path, "/")
	if path == "" {
		return ""
	}
	segments := strings.Split(path, "/")
	if len(segments) < 2 {
		return ""
	}
	return segments[len(segments)-1]
}

func extractInReplyTo(e atomEntry) (*string, bool) {
	if len(e.InReplyTo) == 0 {
		return nil, false
	}
	ir := e.InReplyTo[0]
	if ir.Href != "" {
		seg := lastPathSegment(ir.Href)
		if seg != "" {
			return &seg, false
		}
	}
	if ir.Ref != "" {
		ref := ir.Ref
		isUUID := strings.HasPrefix(ref, "urn:uuid:")
		return &ref, isUUID
	}
	return nil, false
}

func extractEmail(author string) string {
	m := emailAddrRe.FindStringSubmatch(author)
	if m == nil {
		return ""
	}
	for _, g := range m[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}

// syntheticMessageID builds a fallback id when the entry has neither an id
// nor a usable link: first 40 hex chars of
// SHA-256("subsystem|title|int(received_at)").
func syntheticMessageID(subsystem, title string, receivedAt time.Time) string {
	payload := fmt.Sprintf("%s|%s|%d", subsystem, title, receivedAt.Unix())
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])[:40]
}
