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

// Package analytics computes read-only rollups over promises and visits.
package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/collectops/collectops/internal/apperr"
	"github.com/collectops/collectops/internal/clock"
	"github.com/collectops/collectops/internal/observability/tracing"
	"github.com/collectops/collectops/internal/route"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

var ErrInvalidWindow = apperr.Validation(apperr.CodeInvalidRequest, "dateFrom must not be after dateTo")

// Window bounds an aggregation as From <= t < To. Nil bounds are open.
type Window struct {
	From *time.Time
	To   *time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if w.From != nil && t.Before(*w.From) {
		return false
	}
	if w.To != nil && !t.Before(*w.To) {
		return false
	}
	return true
}

// PromiseStats are per-status counts for promises created inside a window.
// FulfillmentDays is the summed creation-to-fulfilment time of the
// fulfilled ones, in days.
type PromiseStats struct {
	Pending         int
	Fulfilled       int
	Cancelled       int
	Superseded      int
	Expired         int
	PromisedAmount  decimal.Decimal
	FulfilledAmount decimal.Decimal
	FulfillmentDays float64
}

// Repository provides the raw aggregates.
type Repository interface {
	PromiseStats(ctx context.Context, tenantID string, w Window) (PromiseStats, error)
	VisitOutcomes(ctx context.Context, tenantID string, w Window) (map[route.Outcome]int, error)
}

// Report is the analytics payload.
type Report struct {
	TenantID                 string                `json:"tenantId"`
	DateFrom                 *time.Time            `json:"dateFrom,omitempty"`
	DateTo                   *time.Time            `json:"dateTo,omitempty"`
	TotalPromises            int                   `json:"totalPromises"`
	Pending                  int                   `json:"pending"`
	Fulfilled                int                   `json:"fulfilled"`
	Cancelled                int                   `json:"cancelled"`
	Superseded               int                   `json:"superseded"`
	Expired                  int                   `json:"expired"`
	FulfillmentRate          float64               `json:"fulfillmentRate"`
	BrokenPromiseRate        float64               `json:"brokenPromiseRate"`
	AverageDaysToFulfillment float64               `json:"averageDaysToFulfillment"`
	PromisedAmount           decimal.Decimal       `json:"promisedAmount"`
	FulfilledAmount          decimal.Decimal       `json:"fulfilledAmount"`
	VisitsRecorded           int                   `json:"visitsRecorded"`
	VisitOutcomes            map[route.Outcome]int `json:"visitOutcomes"`
	ContactRate              float64               `json:"contactRate"`
	GeneratedAt              time.Time             `json:"generatedAt"`
}

// Aggregator computes analytics reports
type Aggregator struct {
	repo Repository
	now  clock.Clock
}

func NewAggregator(repo Repository, now clock.Clock) *Aggregator {
	if now == nil {
		now = clock.System
	}
	return &Aggregator{repo: repo, now: now}
}

// GetAnalytics aggregates promises created and visits recorded inside w.
// Rates are over resolved promises: fulfilled / (fulfilled+expired+cancelled)
// and expired / (fulfilled+expired+cancelled); both are 0 with nothing resolved.
func (a *Aggregator) GetAnalytics(ctx context.Context, tenantID string, w Window) (*Report, error) {
	if w.From != nil && w.To != nil && w.From.After(*w.To) {
		return nil, ErrInvalidWindow
	}

	ctx, span := tracing.Start(ctx, "analytics.get", tenantID)
	var (
		stats    PromiseStats
		outcomes map[route.Outcome]int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if stats, err = a.repo.PromiseStats(gctx, tenantID, w); err != nil {
			return fmt.Errorf("failed to aggregate promises: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if outcomes, err = a.repo.VisitOutcomes(gctx, tenantID, w); err != nil {
			return fmt.Errorf("failed to aggregate visits: %w", err)
		}
		return nil
	})
	err := g.Wait()
	tracing.End(span, err)
	if err != nil {
		return nil, err
	}

	resolved := stats.Fulfilled + stats.Expired + stats.Cancelled
	r := &Report{
		TenantID:          tenantID,
		DateFrom:          w.From,
		DateTo:            w.To,
		TotalPromises:     stats.Pending + resolved,
		Pending:           stats.Pending,
		Fulfilled:         stats.Fulfilled,
		Cancelled:         stats.Cancelled,
		Superseded:        stats.Superseded,
		Expired:           stats.Expired,
		FulfillmentRate:   ratio(stats.Fulfilled, resolved),
		BrokenPromiseRate: ratio(stats.Expired, resolved),
		PromisedAmount:    stats.PromisedAmount,
		FulfilledAmount:   stats.FulfilledAmount,
		VisitOutcomes:     make(map[route.Outcome]int, len(outcomes)),
		GeneratedAt:       a.now(),
	}
	if stats.Fulfilled > 0 {
		r.AverageDaysToFulfillment = round(stats.FulfillmentDays / float64(stats.Fulfilled))
	}

	contacted := 0
	for outcome, n := range outcomes {
		r.VisitOutcomes[outcome] = n
		r.VisitsRecorded += n
		if outcome.Contacted() {
			contacted += n
		}
	}
	r.ContactRate = ratio(contacted, r.VisitsRecorded)

	return r, nil
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return round(float64(n) / float64(d))
}

func round(x float64) float64 {
	return math.Round(x*10000) / 10000
}
