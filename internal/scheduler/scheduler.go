// Copyright 2026 The CollectOps Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package scheduler runs the periodic maintenance jobs in-process: the
// promise expiry sweep and closing of routes left open from earlier days.
//
// Deployments that trigger the sweep through the cron endpoint leave it
// disabled. Both jobs are safe to overlap with an external trigger.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/collectops/collectops/internal/clock"
	"github.com/collectops/collectops/internal/observability/logger"
	"github.com/collectops/collectops/internal/promise"
	"golang.org/x/sync/errgroup"
)

// Sweeper expires overdue promises.
type Sweeper interface {
	CheckExpiredPromises(ctx context.Context, tenantID string) (promise.SweepResult, error)
}

// RouteCloser completes routes dated before a day.
type RouteCloser interface {
	CloseStale(ctx context.Context, tenantID string, before time.Time) (int, error)
}

// Scheduler ticks both jobs at a fixed interval.
type Scheduler struct {
	sweeper  Sweeper
	closer   RouteCloser
	interval time.Duration
	now      clock.Clock
}

// New creates a scheduler. A nil closer skips route closing.
func New(sweeper Sweeper, closer RouteCloser, interval time.Duration, now clock.Clock) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	if now == nil {
		now = clock.System
	}
	return &Scheduler{sweeper: sweeper, closer: closer, interval: interval, now: now}
}

// Run executes one pass immediately and then one per interval until ctx is
// cancelled. Pass failures are logged; Run only returns on cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.InfoContext(ctx, "scheduler started", logger.Component("scheduler"), slog.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			slog.ErrorContext(ctx, "scheduled pass failed", logger.Component("scheduler"), logger.Error(err))
		}
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "scheduler stopped", logger.Component("scheduler"))
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce runs the sweep and route closing concurrently across all tenants.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		res, err := s.sweeper.CheckExpiredPromises(ctx, "")
		if err != nil {
			return fmt.Errorf("promise sweep: %w", err)
		}
		if res.Failed > 0 {
			slog.WarnContext(ctx, "promise sweep finished with failures",
				logger.Component("scheduler"),
				logger.Count("expired", res.Expired),
				logger.Count("failed", res.Failed),
			)
		}
		return nil
	})

	if s.closer != nil {
		g.Go(func() error {
			if _, err := s.closer.CloseStale(ctx, "", s.now()); err != nil {
				return fmt.Errorf("close stale routes: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}
