// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package feed

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// fetchConcurrency bounds how many subsystem feeds are fetched at once
// within a cycle. Fetching is the suspension point; parsing
// and watermark bookkeeping stay sequential and ordered by the caller's
// subsystem list so results are still reported deterministically.
const fetchConcurrency = 4

const feedBaseURL = "https://lore.kernel.org"

// fetchAttempts/fetchBackoff allow up to 3 attempts with exponential
// backoff (1s, 2s).
const fetchAttempts = 3

var fetchBackoff = []time.Duration{time.Second, 2 * time.Second}

// Poller fetches and parses the per-subsystem Atom feed, tracking a
// process-wide high-water mark across cycles.
type Poller struct {
	HTTPClient *http.Client

	// baseURL defaults to feedBaseURL; overridable so tests can point the
	// poller at an httptest.Server instead of lore.kernel.org.
	baseURL string

	mu            sync.Mutex
	lastUpdateDt  time.Time
	haveWatermark bool
}

// NewPoller builds a Poller. If override is non-nil it seeds the
// high-water mark.
func NewPoller(httpClient *http.Client, override *time.Time) *Poller {
	p := &Poller{HTTPClient: httpClient, baseURL: feedBaseURL}
	if override != nil {
		p.lastUpdateDt = *override
		p.haveWatermark = true
	}
	return p
}

// SetTestBaseURL overrides the feed base URL; only ever called from tests
// (here and from internal/ingest's end-to-end pipeline tests) to point the
// poller at an httptest.Server instead of lore.kernel.org.
func (p *Poller) SetTestBaseURL(base string) {
	p.baseURL = base
}

// SubsystemResult is the outcome of polling one subsystem within a cycle.
type SubsystemResult struct {
	Subsystem string
	New       []Entry
	NewCount  int
	ReplyCount int
	Err       error
}

// CycleResult aggregates one pass over all subscribed subsystems.
type CycleResult struct {
	TotalSubsystems int
	Processed       int
	TotalNew        int
	TotalReply      int
	ErrorCount      int
	PerSubsystem    []SubsystemResult
	Errors          []error
}

// RunCycle runs one pass over subsystems: feeds are fetched concurrently
// (see fetchAll), then each subsystem's entries are filtered against the
// current high-water mark sequentially, in the order of subsystems. New
// entries are counted as replies or not via isReply (supplied by the
// caller so RunCycle stays agnostic to message semantics beyond
// timestamps). The mark then advances to the newest entry kept across all
// subsystems this cycle.
func (p *Poller) RunCycle(ctx context.Context, subsystems []string, isReply func(Entry) bool) CycleResult {
	result := CycleResult{TotalSubsystems: len(subsystems)}
	var newest time.Time
	haveNewest := false

	mark := p.watermark()

	fetched := p.fetchAll(ctx, subsystems)

	for i, subsystem := range subsystems {
		entries, err := fetched[i].entries, fetched[i].err
		sr := SubsystemResult{Subsystem: subsystem, Err: err}
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("%s: %w", subsystem, err))
			result.ErrorCount++
			result.PerSubsystem = append(result.PerSubsystem, sr)
			continue
		}
		result.Processed++
		for _, e := range entries {
			if !mark.IsZero() && !e.ReceivedAt.IsZero() && !e.ReceivedAt.After(mark) {
				continue
			}
			sr.New = append(sr.New, e)
			if isReply(e) {
				sr.ReplyCount++
			} else {
				sr.NewCount++
			}
			if !haveNewest || e.ReceivedAt.After(newest) {
				newest = e.ReceivedAt
				haveNewest = true
			}
		}
		result.TotalNew += sr.NewCount
		result.TotalReply += sr.ReplyCount
		result.PerSubsystem = append(result.PerSubsystem, sr)
	}

	if haveNewest {
		p.advanceWatermark(newest)
	}
	return result
}

type fetchOutcome struct {
	entries []Entry
	err     error
}

// fetchAll fetches every subsystem's feed with bounded concurrency via
// errgroup.WithContext. Results are returned in the same order as
// subsystems so RunCycle's sequential bookkeeping stays deterministic
// regardless of fetch completion order.
func (p *Poller) fetchAll(ctx context.Context, subsystems []string) []fetchOutcome {
	out := make([]fetchOutcome, len(subsystems))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, subsystem := range subsystems {
		i, subsystem := i, subsystem
		g.Go(func() error {
			entries, err := p.fetchSubsystem(gctx, subsystem)
			out[i] = fetchOutcome{entries: entries, err: err}
			return nil
		})
	}
	// Errors are per-subsystem and carried in fetchOutcome rather than
	// failing the group: one subsystem's terminal error must not cancel
	// the others' in-flight fetches.
	_ = g.Wait()
	return out
}

func (p *Poller) watermark() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.haveWatermark {
		return time.Time{}
	}
	return p.lastUpdateDt
}

func (p *Poller) advanceWatermark(t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.haveWatermark || t.After(p.lastUpdateDt) {
		p.lastUpdateDt = t
		p.haveWatermark = true
	}
}

// SeedWatermarkFromStore initializes the high-water mark from
// maxReceivedAt (the newest received_at already stored), or from the
// current UTC time when maxReceivedAt is nil, if no override and no prior
// in-process value exist yet.
func (p *Poller) SeedWatermarkFromStore(maxReceivedAt *time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.haveWatermark {
		return
	}
	if maxReceivedAt != nil {
		p.lastUpdateDt = *maxReceivedAt
	} else {
		p.lastUpdateDt = time.Now().UTC()
	}
	p.haveWatermark = true
}

// fetchSubsystem implements the fetch policy: up to 3 attempts with
// backoff 1s/2s; 404 is terminal; other 4xx is terminal with log; non-200
// non-4xx is logged but parsing is still attempted; a parser error with
// zero entries is terminal, with some entries it proceeds.
func (p *Poller) fetchSubsystem(ctx context.Context, subsystem string) ([]Entry, error) {
	url := fmt.Sprintf("%s/%s/new.atom", p.baseURL, subsystem)

	var lastErr error
	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(fetchBackoff[attempt-1]):
			}
		}

		body, status, err := p.doFetch(ctx, url)
		if err != nil {
			lastErr = err
			continue
		}
		if status == http.StatusNotFound {
			return nil, fmt.Errorf("feed unavailable (404) for %s", subsystem)
		}
		if status >= 400 && status < 500 {
			return nil, fmt.Errorf("terminal client error %d for %s", status, subsystem)
		}
		if status != http.StatusOK {
			log.Printf("feed: non-200 status %d for %s, attempting to parse anyway", status, subsystem)
		}

		entries, bozo, parseErr := ParseFeed(subsystem, body)
		if parseErr != nil {
			if bozo && len(entries) == 0 {
				return nil, fmt.Errorf("feed parse failed for %s: %w", subsystem, parseErr)
			}
		}
		return entries, nil
	}
	return nil, fmt.Errorf("failed to fetch %s after %d attempts: %w", subsystem, fetchAttempts, lastErr)
}

func (p *Poller) doFetch(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}
