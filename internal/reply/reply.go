// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package reply reconstructs the tree of replies to a patch by following
// In-Reply-To chains through the store, producing an ordered tree rather
// than a flat thread.
package reply

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/lkml-patchbot/internal/store"
)

const (
	maxBFSIterations = 20
	maxParentDepth    = 5
)

// Node is one reply in the reconstructed tree.
type Node struct {
	Message  *store.FeedMessage
	Children []*Node
}

// Store is the narrow repository surface the reconstruction needs.
type Store interface {
	FindByInReplyToSubstring(ctx context.Context, candidates []string) ([]*store.FeedMessage, error)
	FindByMessageIDHeader(ctx context.Context, header string) (*store.FeedMessage, error)
}

// BuildTree reconstructs the reply hierarchy rooted at patch P, identified
// by patchMessageIDHeader.
func BuildTree(ctx context.Context, s Store, patchMessageIDHeader string) ([]*Node, error) {
	replySet, err := collectTransitiveReplies(ctx, s, patchMessageIDHeader)
	if err != nil {
		return nil, err
	}

	replyMap := make(map[string]*Node, len(replySet))
	for _, m := range replySet {
		replyMap[m.MessageIDHeader] = &Node{Message: m}
	}

	var roots []*Node
	for _, m := range replySet {
		node := replyMap[m.MessageIDHeader]
		parent := firstReplyToken(m.InReplyToHeader)
		if parent == "" {
			roots = append(roots, node)
			continue
		}
		if strings.Contains(parent, patchMessageIDHeader) || strings.Contains(patchMessageIDHeader, parent) {
			roots = append(roots, node)
			continue
		}
		if parentNode, ok := replyMap[parent]; ok {
			parentNode.Children = append(parentNode.Children, node)
			continue
		}
		resolved, err := resolveParentChain(ctx, s, parent, patchMessageIDHeader, replyMap)
		if err != nil {
			return nil, err
		}
		if resolved != nil {
			resolved.Children = append(resolved.Children, node)
		} else {
			roots = append(roots, node)
		}
	}

	sortNodes(roots)
	for _, n := range replyMap {
		sortNodes(n.Children)
	}
	return roots, nil
}

// collectTransitiveReplies runs a BFS over the stored messages: starting
// from {P}, repeatedly collect messages whose in_reply_to_header textually
// contains any id in the current frontier, capped at maxBFSIterations
// rounds.
func collectTransitiveReplies(ctx context.Context, s Store, patchMessageIDHeader string) ([]*store.FeedMessage, error) {
	seen := map[string]*store.FeedMessage{}
	frontier := []string{patchMessageIDHeader}

	for i := 0; i < maxBFSIterations && len(frontier) > 0; i++ {
		found, err := s.FindByInReplyToSubstring(ctx, frontier)
		if err != nil {
			return nil, fmt.Errorf("failed to collect replies: %w", err)
		}
		var next []string
		for _, m := range found {
			if _, ok := seen[m.MessageIDHeader]; ok {
				continue
			}
			seen[m.MessageIDHeader] = m
			next = append(next, m.MessageIDHeader)
		}
		if len(next) == 0 {
			break
		}
		frontier = next
	}

	out := make([]*store.FeedMessage, 0, len(seen))
	for _, m := range seen {
		out = append(out, m)
	}
	return out, nil
}

// firstReplyToken strips surrounding <...> and returns the first
// whitespace-separated token of header.
func firstReplyToken(header *string) string {
	if header == nil {
		return ""
	}
	fields := strings.Fields(*header)
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[0], "<>")
}

// resolveParentChain follows a reply's unresolved parent id through the
// store (bounded depth) until it reaches an element of replyMap or P,
// failing that returns nil so the caller treats the reply as a root.
func resolveParentChain(ctx context.Context, s Store, parentID, patchMessageIDHeader string, replyMap map[string]*Node) (*Node, error) {
	current := parentID
	for depth := 0; depth < maxParentDepth; depth++ {
		if strings.Contains(current, patchMessageIDHeader) || strings.Contains(patchMessageIDHeader, current) {
			return nil, nil
		}
		if node, ok := replyMap[current]; ok {
			return node, nil
		}
		msg, err := s.FindByMessageIDHeader(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve parent chain: %w", err)
		}
		if msg == nil || msg.InReplyToHeader == nil {
			return nil, nil
		}
		next := firstReplyToken(msg.InReplyToHeader)
		if next == "" {
			return nil, nil
		}
		current = next
	}
	return nil, nil
}

func sortNodes(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return timeOf(nodes[i]).Before(timeOf(nodes[j]))
	})
}

func timeOf(n *Node) time.Time {
	return n.Message.ReceivedAt
}
