// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package scheduler runs the single-threaded cooperative polling loop.
// The main cycle loop and the optional archival sweep run concurrently
// under one errgroup.WithContext and share its context, so cancelling it
// stops both.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const errorBackoff = 60 * time.Second

// Cycle is the one operation the scheduler drives each pass.
type Cycle func(ctx context.Context) error

// Sweep is a secondary periodic task run alongside the main cycle loop.
// Nil disables it.
type Sweep func(ctx context.Context) error

// Scheduler is a single-thread cooperative loop over Cycle. Cycle is
// expected to perform both the poll pass and the outbound updates
// internally — the scheduler itself is agnostic to what a cycle does, only
// to its cadence and cancellation.
type Scheduler struct {
	interval      time.Duration
	cycle         Cycle
	sweep         Sweep
	sweepInterval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(interval time.Duration, cycle Cycle) *Scheduler {
	return &Scheduler{interval: interval, cycle: cycle}
}

// WithSweep attaches a periodic secondary task (e.g. stale-thread
// archival) that runs concurrently with the main cycle loop, on its own
// interval, for the lifetime of the scheduler.
func (s *Scheduler) WithSweep(interval time.Duration, sweep Sweep) *Scheduler {
	s.sweep = sweep
	s.sweepInterval = interval
	return s
}

// Start validates subscribedCount > 0 (silently no-ops otherwise),
// assigns a short run_id, and begins the loop.
func (s *Scheduler) Start(baseCtx context.Context, subscribedCount int) {
	if subscribedCount == 0 {
		return
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(baseCtx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	runID := uuid.New().String()[:8]
	go s.run(ctx, runID)
}

// run drives the main cycle loop and, if configured, the archival sweep
// loop concurrently under one errgroup: both loops return only once ctx is
// cancelled (by Stop or by the parent context), which stops them together.
func (s *Scheduler) run(ctx context.Context, runID string) {
	defer close(s.done)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.cycleLoop(gctx, runID)
		return nil
	})
	if s.sweep != nil {
		g.Go(func() error {
			s.sweepLoop(gctx, runID)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) cycleLoop(ctx context.Context, runID string) {
	cycleNum := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		cycleNum++
		if err := s.cycle(ctx); err != nil {
			log.Printf("scheduler[%s]: cycle %d failed: %v", runID, cycleNum, err)
			if !sleep(ctx, errorBackoff) {
				return
			}
			continue
		}
		if !sleep(ctx, s.interval) {
			return
		}
	}
}

func (s *Scheduler) sweepLoop(ctx context.Context, runID string) {
	for {
		if !sleep(ctx, s.sweepInterval) {
			return
		}
		if err := s.sweep(ctx); err != nil {
			log.Printf("scheduler[%s]: sweep failed: %v", runID, err)
		}
	}
}

// sleep waits for d or cancellation, returning false if the caller loop
// should stop.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// Stop cancels the loop, including any in-flight sleep or cycle, and
// waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done
}

// RunOnce executes one cycle synchronously and returns its error.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	return s.cycle(ctx)
}
