// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Command patchbotd runs the feed-poll -> classify -> series-assembly ->
// patch-card -> thread-overview pipeline as a long-running daemon. All
// wiring happens here: config, store, clients and services are assembled
// explicitly through constructors.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/lkml-patchbot/internal/app"
	"github.com/google/lkml-patchbot/internal/ccfetch"
	"github.com/google/lkml-patchbot/internal/feed"
	"github.com/google/lkml-patchbot/internal/filter"
	"github.com/google/lkml-patchbot/internal/ingest"
	"github.com/google/lkml-patchbot/internal/overview"
	"github.com/google/lkml-patchbot/internal/patchcard"
	"github.com/google/lkml-patchbot/internal/platform"
	"github.com/google/lkml-patchbot/internal/scheduler"
	"github.com/google/lkml-patchbot/internal/store"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		app.Fatalf("failed to load config: %v", err)
	}
	if len(cfg.Platforms) == 0 {
		// Fatal error kind: no platform configured at startup.
		app.Fatalf("no chat platforms configured (set PLATFORMS_CONFIG_FILE)")
	}

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		app.Fatalf("failed to open store: %v", err)
	}
	defer db.Close()

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	feedRepo := store.NewFeedMessageRepository(db)
	cardRepo := store.NewPatchCardRepository(db)
	threadRepo := store.NewPatchThreadRepository(db)
	filterRepo := store.NewPatchCardFilterRepository(db)
	configRepo := store.NewFilterConfigRepository(db)

	sender := platform.NewMultiPlatformSender(buildCardClients(cfg, httpClient), buildThreadClients(cfg, httpClient))
	ccFetcher := ccfetch.New(httpClient)
	engine := filter.NewEngine(filterRepo, configRepo, ccFetcher)

	cardSvc := patchcard.NewService(feedRepo, cardRepo, engine, sender)
	overviewSvc := overview.NewService(feedRepo, cardRepo, threadRepo, sender)

	poller := feed.NewPoller(httpClient, cfg.LastUpdateAtOverride)
	poller.SeedWatermarkFromStore(maxReceivedAtAcrossSubsystems(context.Background(), feedRepo, cfg.ManualSubsystems))

	pipeline := ingest.NewPipeline(db, poller, cardSvc, overviewSvc)

	sched := scheduler.New(cfg.MonitoringInterval, func(ctx context.Context) error {
		result := pipeline.RunCycle(ctx, cfg.ManualSubsystems)
		if result.ErrorCount > 0 {
			for _, e := range result.Errors {
				app.Errorf("cycle error: %v", e)
			}
		}
		return nil
	}).WithSweep(cfg.ThreadCardTimeout, func(ctx context.Context) error {
		cutoff := time.Now().UTC().Add(-cfg.ThreadCardTimeout)
		n, err := overviewSvc.ArchiveStale(ctx, cutoff)
		if err == nil && n > 0 {
			app.Errorf("archived %d stale patch threads", n)
		}
		return err
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sched.Start(ctx, len(cfg.ManualSubsystems))
	<-ctx.Done()
	sched.Stop()
}

// maxReceivedAtAcrossSubsystems implements the second step of the poller's
// watermark initialization order, MAX(received_at) over stored feed
// messages, generalized across every subscribed subsystem since the poller
// keeps one process-wide mark.
func maxReceivedAtAcrossSubsystems(ctx context.Context, feedRepo *store.FeedMessageRepository, subsystems []string) *time.Time {
	var max *time.Time
	for _, subsystem := range subsystems {
		t, err := feedRepo.MaxReceivedAt(ctx, subsystem)
		if err != nil {
			app.Errorf("failed to seed watermark for %s: %v", subsystem, err)
			continue
		}
		if t != nil && (max == nil || t.After(*max)) {
			max = t
		}
	}
	return max
}

func buildCardClients(cfg *app.Config, httpClient *http.Client) []platform.PatchCardClient {
	clients := make([]platform.PatchCardClient, 0, len(cfg.Platforms))
	for _, p := range cfg.Platforms {
		clients = append(clients, newClient(p, httpClient))
	}
	return clients
}

func buildThreadClients(cfg *app.Config, httpClient *http.Client) []platform.ThreadClient {
	clients := make([]platform.ThreadClient, 0, len(cfg.Platforms))
	for _, p := range cfg.Platforms {
		clients = append(clients, newClient(p, httpClient))
	}
	return clients
}

// client is the union of PatchCardClient and ThreadClient; every
// configured platform implements both, whether or not it has a real
// thread concept.
type client interface {
	platform.PatchCardClient
	platform.ThreadClient
}

func newClient(p app.PlatformConfig, httpClient *http.Client) client {
	switch p.Kind {
	case "discord":
		return platform.NewWebhookThreadClient(p.Name, p.WebhookURL, p.BotToken, p.ChannelID, p.Primary, httpClient)
	default:
		return platform.NewNotificationClient(p.Name, p.WebhookURL, p.ChannelID, httpClient)
	}
}
