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

// Package visit records the outcome of scheduled route stops.
package visit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/collectops/collectops/internal/apperr"
	"github.com/collectops/collectops/internal/audit"
	"github.com/collectops/collectops/internal/clock"
	"github.com/collectops/collectops/internal/events"
	"github.com/collectops/collectops/internal/geo"
	"github.com/collectops/collectops/internal/loan"
	"github.com/collectops/collectops/internal/observability/logger"
	"github.com/collectops/collectops/internal/observability/metrics"
	"github.com/collectops/collectops/internal/observability/tracing"
	"github.com/collectops/collectops/internal/promise"
	"github.com/collectops/collectops/internal/route"
	"github.com/collectops/collectops/internal/store"
	"github.com/shopspring/decimal"
)

var ErrInvalidOutcome = apperr.Validation(apperr.CodeInvalidOutcome, "outcome must be one of PAID, PROMISE, REFUSED, NOT_HOME, INVALID_ADDRESS")

// RecordInput is a collector's report for one stop. PromiseDate and
// PromiseAmount are required when Outcome is PROMISE. Unless AnyCollector
// is set, RecordedBy must be the collector the route belongs to.
type RecordInput struct {
	TenantID      string
	VisitID       string
	Outcome       route.Outcome
	Location      *geo.Coordinate
	Notes         string
	PhotoURL      string
	PromiseDate   *time.Time
	PromiseAmount *decimal.Decimal
	RecordedBy    string
	AnyCollector  bool
}

func (in RecordInput) validate() error {
	if !in.Outcome.Valid() {
		return ErrInvalidOutcome
	}
	if in.Location != nil {
		if err := in.Location.Validate(); err != nil {
			return err
		}
	}
	if in.Outcome == route.OutcomePromise {
		if in.PromiseDate == nil || in.PromiseAmount == nil {
			return promise.ErrMissingDetails
		}
		if !in.PromiseAmount.IsPositive() {
			return promise.ErrMissingDetails.WithMessage("promise amount must be greater than zero")
		}
	}
	return nil
}

// Tracker applies visit outcomes. The visit update, any promise it creates
// and the route status change commit together or not at all.
type Tracker struct {
	routes    route.Repository
	loans     loan.Repository
	ledger    *promise.Ledger
	tx        store.Transactor
	publisher events.Publisher
	audit     audit.Logger
	metrics   *metrics.Instruments
	now       clock.Clock
}

// Option configures a Tracker
type Option func(*Tracker)

func WithClock(c clock.Clock) Option {
	return func(t *Tracker) { t.now = c }
}

func WithMetrics(m *metrics.Instruments) Option {
	return func(t *Tracker) { t.metrics = m }
}

// NewTracker creates a new visit tracker
func NewTracker(
	routes route.Repository,
	loans loan.Repository,
	ledger *promise.Ledger,
	tx store.Transactor,
	publisher events.Publisher,
	auditLogger audit.Logger,
	opts ...Option,
) *Tracker {
	t := &Tracker{
		routes:    routes,
		loans:     loans,
		ledger:    ledger,
		tx:        tx,
		publisher: publisher,
		audit:     auditLogger,
		now:       clock.System,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordOutcome marks a scheduled visit as visited with the given outcome.
//
// PROMISE creates a promise through the ledger, superseding any pending one.
// PAID, PROMISE and REFUSED update the loan's last contact. The first
// recorded stop activates a DRAFT route and the last one completes it.
func (t *Tracker) RecordOutcome(ctx context.Context, in RecordInput) (*route.Visit, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	ctx, span := tracing.Start(ctx, "visit.record", in.TenantID)
	var recorded *route.Visit

	err := t.tx.WithinTx(ctx, func(ctx context.Context) error {
		v, err := t.routes.GetVisit(ctx, in.TenantID, in.VisitID)
		if err != nil {
			return err
		}
		rt, err := t.routes.GetForUpdate(ctx, in.TenantID, v.RouteID)
		if err != nil {
			return fmt.Errorf("failed to load route %s: %w", v.RouteID, err)
		}
		if !in.AnyCollector && rt.CollectorID != in.RecordedBy {
			return route.ErrVisitNotFound
		}
		if v = rt.Visit(v.ID); v == nil {
			return route.ErrVisitNotFound
		}
		if v.Status != route.VisitScheduled {
			return route.ErrAlreadyRecorded
		}
		if rt.Status == route.StatusCompleted {
			return route.ErrRouteCompleted
		}

		now := t.now()
		if err := t.routes.RecordVisit(ctx, route.VisitRecord{
			TenantID:   in.TenantID,
			VisitID:    v.ID,
			Outcome:    in.Outcome,
			Location:   in.Location,
			Notes:      in.Notes,
			PhotoURL:   in.PhotoURL,
			RecordedBy: in.RecordedBy,
			At:         now,
		}); err != nil {
			return err
		}

		if in.Outcome == route.OutcomePromise {
			visitID := v.ID
			if _, err := t.ledger.Create(ctx, promise.CreateInput{
				TenantID:     in.TenantID,
				LoanID:       v.LoanID,
				VisitID:      &visitID,
				Amount:       *in.PromiseAmount,
				PromisedDate: *in.PromiseDate,
				CreatedBy:    in.RecordedBy,
			}); err != nil {
				return err
			}
		}

		if in.Outcome.Contacted() {
			if err := t.loans.TouchContact(ctx, in.TenantID, v.LoanID, now); err != nil {
				return fmt.Errorf("failed to update last contact for loan %s: %w", v.LoanID, err)
			}
		}

		if err := t.advanceRoute(ctx, rt, v.ID, now); err != nil {
			return err
		}

		if recorded, err = t.routes.GetVisit(ctx, in.TenantID, v.ID); err != nil {
			return err
		}
		store.AfterCommit(ctx, func(ctx context.Context) {
			t.afterRecord(ctx, recorded)
		})
		return nil
	})
	tracing.End(span, err)
	if err != nil {
		return nil, err
	}
	return recorded, nil
}

// advanceRoute activates a DRAFT route and completes it once no stop other
// than visitID is still scheduled. rt must have been read under the route
// lock so its pending stops are current.
func (t *Tracker) advanceRoute(ctx context.Context, rt *route.Route, visitID string, now time.Time) error {
	status := rt.Status
	if status == route.StatusDraft {
		if err := t.routes.UpdateStatus(ctx, rt.TenantID, rt.ID, route.StatusDraft, route.StatusActive, now); err != nil {
			return fmt.Errorf("failed to activate route %s: %w", rt.ID, err)
		}
		status = route.StatusActive
	}

	for _, p := range rt.Pending() {
		if p.ID != visitID {
			return nil
		}
	}
	if err := t.routes.UpdateStatus(ctx, rt.TenantID, rt.ID, status, route.StatusCompleted, now); err != nil {
		return fmt.Errorf("failed to complete route %s: %w", rt.ID, err)
	}
	store.AfterCommit(ctx, func(ctx context.Context) {
		t.audit.Log(ctx, audit.Event{
			Type:     audit.TypeRouteCompleted,
			TenantID: rt.TenantID,
			ActorID:  audit.ActorSystem,
			Resource: rt.ID,
		})
	})
	return nil
}

func (t *Tracker) afterRecord(ctx context.Context, v *route.Visit) {
	t.metrics.VisitRecorded(ctx, v.TenantID, string(v.Outcome))
	slog.InfoContext(ctx, "visit recorded",
		logger.TenantID(v.TenantID),
		logger.VisitID(v.ID),
		logger.RouteID(v.RouteID),
		logger.LoanID(v.LoanID),
		logger.Outcome(string(v.Outcome)),
	)

	meta := map[string]any{"loan_id": v.LoanID, "route_id": v.RouteID, "outcome": string(v.Outcome)}
	if v.PhotoURL != "" {
		meta["photo_url"] = v.PhotoURL
	}
	t.audit.Log(ctx, audit.Event{
		Type:     audit.TypeVisitRecorded,
		TenantID: v.TenantID,
		ActorID:  v.RecordedBy,
		Resource: v.ID,
		Metadata: meta,
	})

	evt := events.New(events.TypeVisitRecorded, v.TenantID, map[string]any{
		"visit_id": v.ID,
		"route_id": v.RouteID,
		"loan_id":  v.LoanID,
		"outcome":  string(v.Outcome),
	})
	if err := t.publisher.Publish(ctx, evt); err != nil {
		slog.WarnContext(ctx, "failed to publish visit event", logger.VisitID(v.ID), logger.Error(err))
	}
}
