// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package ccfetch resolves the To+CC address list for a lore.kernel.org
// message page, for filter rules that match against a series' recipients.
package ccfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
)

var addrRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// Fetcher fetches a lore message page and extracts To/Cc addresses from
// its raw text. The lore UI renders headers as plain text on the message
// page, so a best-effort regex scan is sufficient for this purpose and
// avoids depending on lore's HTML structure.
type Fetcher struct {
	HTTPClient *http.Client
}

func New(httpClient *http.Client) *Fetcher {
	return &Fetcher{HTTPClient: httpClient}
}

// FetchCCList returns the deduplicated To+CC addresses found on rootURL.
func (f *Fetcher) FetchCCList(ctx context.Context, rootURL string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rootURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", rootURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, rootURL)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return dedupAddresses(string(body)), nil
}

func dedupAddresses(text string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, m := range addrRe.FindAllString(text, -1) {
		lower := strings.ToLower(m)
		if _, ok := seen[lower]; ok {
			continue
		}
		seen[lower] = struct{}{}
		out = append(out, m)
	}
	return out
}
