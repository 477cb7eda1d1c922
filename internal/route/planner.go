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

package route

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/collectops/collectops/internal/audit"
	"github.com/collectops/collectops/internal/clock"
	"github.com/collectops/collectops/internal/events"
	"github.com/collectops/collectops/internal/geo"
	"github.com/collectops/collectops/internal/id"
	"github.com/collectops/collectops/internal/loan"
	"github.com/collectops/collectops/internal/observability/logger"
	"github.com/collectops/collectops/internal/observability/metrics"
	"github.com/collectops/collectops/internal/observability/tracing"
	"github.com/collectops/collectops/internal/scoring"
	"github.com/collectops/collectops/internal/store"
)

// PlanRequest describes the route to build for one collector and date.
type PlanRequest struct {
	TenantID     string
	CollectorID  string
	BusinessDate time.Time
	Candidates   []loan.Candidate
	Capacity     int
	Start        geo.Coordinate
	RequestedBy  string
}

// Planner selects, sequences and persists collection routes.
type Planner struct {
	repo      Repository
	loans     loan.Repository
	scorer    *scoring.Scorer
	tx        store.Transactor
	publisher events.Publisher
	audit     audit.Logger
	metrics   *metrics.Instruments
	now       clock.Clock
	epsilon   float64
}

// PlannerOption configures a Planner
type PlannerOption func(*Planner)

func WithClock(c clock.Clock) PlannerOption {
	return func(p *Planner) { p.now = c }
}

func WithMetrics(m *metrics.Instruments) PlannerOption {
	return func(p *Planner) { p.metrics = m }
}

// WithEpsilon sets the sequencing tie distance in metres.
func WithEpsilon(meters float64) PlannerOption {
	return func(p *Planner) {
		if meters >= 0 {
			p.epsilon = meters
		}
	}
}

// NewPlanner creates a new route planner
func NewPlanner(
	repo Repository,
	loans loan.Repository,
	scorer *scoring.Scorer,
	tx store.Transactor,
	publisher events.Publisher,
	auditLogger audit.Logger,
	opts ...PlannerOption,
) *Planner {
	p := &Planner{
		repo:      repo,
		loans:     loans,
		scorer:    scorer,
		tx:        tx,
		publisher: publisher,
		audit:     auditLogger,
		now:       clock.System,
		epsilon:   DefaultEpsilon,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PlanForCollector loads the collector's delinquent loans and plans a route.
func (p *Planner) PlanForCollector(ctx context.Context, tenantID, collectorID string, date time.Time, capacity int, start geo.Coordinate, requestedBy string) (*Route, error) {
	candidates, err := p.loans.ListCandidates(ctx, tenantID, collectorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	return p.PlanRoute(ctx, PlanRequest{
		TenantID:     tenantID,
		CollectorID:  collectorID,
		BusinessDate: date,
		Candidates:   candidates,
		Capacity:     capacity,
		Start:        start,
		RequestedBy:  requestedBy,
	})
}

// PlanRoute builds a route from req.Candidates. Planning is idempotent per
// (tenant, collector, date): an existing DRAFT or COMPLETED route is
// returned unchanged, an ACTIVE one yields ErrDuplicateRoute.
func (p *Planner) PlanRoute(ctx context.Context, req PlanRequest) (*Route, error) {
	if req.Capacity <= 0 {
		return nil, ErrCapacityExceeded.WithMessage("capacity must be greater than zero, got %d", req.Capacity)
	}
	if err := req.Start.Validate(); err != nil {
		return nil, err
	}
	date := clock.Date(req.BusinessDate)

	ctx, span := tracing.Start(ctx, "route.plan", req.TenantID)
	r, err := p.plan(ctx, req, date)
	tracing.End(span, err)
	return r, err
}

func (p *Planner) plan(ctx context.Context, req PlanRequest, date time.Time) (*Route, error) {
	existing, err := p.repo.GetByCollectorDate(ctx, req.TenantID, req.CollectorID, date)
	switch {
	case err == nil:
		return existingRoute(existing)
	case !errors.Is(err, ErrRouteNotFound):
		return nil, fmt.Errorf("failed to look up route: %w", err)
	}

	now := p.now()
	stops := p.eligibleStops(req.TenantID, req.Candidates, now)
	if len(stops) == 0 {
		return nil, ErrNoEligibleLoans
	}

	ordered, err := NearestNeighbor(req.Start, SelectTop(stops, req.Capacity), p.epsilon)
	if err != nil {
		return nil, err
	}

	r := &Route{
		ID:           id.NewUUIDv7(),
		TenantID:     req.TenantID,
		CollectorID:  req.CollectorID,
		BusinessDate: date,
		Status:       StatusDraft,
		Capacity:     req.Capacity,
		Start:        req.Start,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for i, s := range ordered {
		r.Visits = append(r.Visits, Visit{
			ID:          id.NewUUIDv7(),
			TenantID:    req.TenantID,
			RouteID:     r.ID,
			LoanID:      s.LoanID,
			Sequence:    i + 1,
			Status:      VisitScheduled,
			Target:      s.Location,
			Score:       s.Score,
			ScheduledAt: now,
		})
	}

	err = p.tx.WithinTx(ctx, func(ctx context.Context) error {
		return p.repo.Create(ctx, r)
	})
	if errors.Is(err, ErrDuplicateRoute) {
		// lost a race with a concurrent planner
		winner, getErr := p.repo.GetByCollectorDate(ctx, req.TenantID, req.CollectorID, date)
		if getErr != nil {
			return nil, fmt.Errorf("failed to reload concurrently planned route: %w", getErr)
		}
		return existingRoute(winner)
	}
	if err != nil {
		return nil, err
	}

	p.metrics.RoutePlanned(ctx, r.TenantID)
	slog.InfoContext(ctx, "route planned",
		logger.TenantID(r.TenantID),
		logger.RouteID(r.ID),
		logger.CollectorID(r.CollectorID),
		logger.BusinessDate(date.Format(time.DateOnly)),
		logger.Count("stops", len(r.Visits)),
		logger.Count("candidates", len(stops)),
	)
	p.audit.Log(ctx, audit.Event{
		Type:     audit.TypeRoutePlanned,
		TenantID: r.TenantID,
		ActorID:  req.RequestedBy,
		Resource: r.ID,
		Metadata: map[string]any{"collector_id": r.CollectorID, "stops": len(r.Visits)},
	})
	p.publish(ctx, events.New(events.TypeRoutePlanned, r.TenantID, map[string]any{
		"route_id":      r.ID,
		"collector_id":  r.CollectorID,
		"business_date": date.Format(time.DateOnly),
		"stops":         len(r.Visits),
	}))
	return r, nil
}

func existingRoute(r *Route) (*Route, error) {
	if r.Status == StatusActive {
		return nil, ErrDuplicateRoute
	}
	return r, nil
}

// eligibleStops scores candidates that belong to the tenant and have a
// usable location. Duplicate loans keep their first occurrence.
func (p *Planner) eligibleStops(tenantID string, candidates []loan.Candidate, now time.Time) []Stop {
	seen := make(map[string]bool, len(candidates))
	stops := make([]Stop, 0, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		if c.Loan.TenantID != tenantID || !c.Routable() || seen[c.Loan.ID] {
			continue
		}
		seen[c.Loan.ID] = true
		stops = append(stops, Stop{
			LoanID:   c.Loan.ID,
			Location: *c.Location,
			Score:    p.scorer.Score(&c.Loan, now),
			Balance:  c.Loan.OutstandingBalance,
		})
	}
	return stops
}

// Reoptimize inserts an urgent stop for loanID into the pending part of a
// route and re-sequences the pending stops from the collector's last known
// position. Visited stops keep their positions.
func (p *Planner) Reoptimize(ctx context.Context, tenantID, routeID, loanID, requestedBy string) (*Route, error) {
	ctx, span := tracing.Start(ctx, "route.reoptimize", tenantID)
	var updated *Route

	err := p.tx.WithinTx(ctx, func(ctx context.Context) error {
		r, err := p.repo.GetForUpdate(ctx, tenantID, routeID)
		if err != nil {
			return err
		}
		if r.Status == StatusCompleted {
			return ErrRouteCompleted
		}

		cand, err := p.loans.GetCandidate(ctx, tenantID, loanID)
		if err != nil {
			return err
		}
		if !cand.Routable() {
			return geo.ErrInvalidCoordinates.WithMessage("loan %s has no valid client location", loanID)
		}
		if !cand.Loan.IsDelinquent() {
			return ErrNoEligibleLoans.WithMessage("loan %s is not due for a field visit", loanID)
		}
		if r.HasLoan(loanID) {
			return ErrDuplicateStop
		}
		if len(r.Visits) >= r.Capacity {
			return ErrCapacityExceeded.WithMessage("route already has %d of %d stops", len(r.Visits), r.Capacity)
		}

		now := p.now()
		inserted := Visit{
			ID:          id.NewUUIDv7(),
			TenantID:    tenantID,
			RouteID:     r.ID,
			LoanID:      loanID,
			Status:      VisitScheduled,
			Target:      *cand.Location,
			Score:       p.scorer.Score(&cand.Loan, now),
			ScheduledAt: now,
		}

		pending := r.Pending()
		stops := make([]Stop, 0, len(pending)+1)
		for _, v := range append(pending, inserted) {
			stops = append(stops, Stop{LoanID: v.LoanID, VisitID: v.ID, Location: v.Target, Score: v.Score})
		}

		ordered, err := NearestNeighbor(anchor(r), stops, p.epsilon)
		if err != nil {
			return err
		}

		base := lastVisitedSequence(r)
		in := ResequenceInput{
			TenantID:        tenantID,
			RouteID:         r.ID,
			ExpectedVersion: r.Version,
			At:              now,
		}
		for i, s := range ordered {
			seq := base + i + 1
			if s.VisitID == inserted.ID {
				inserted.Sequence = seq
				in.Insert = append(in.Insert, inserted)
				continue
			}
			in.Placements = append(in.Placements, Placement{VisitID: s.VisitID, Sequence: seq})
		}
		if err := p.repo.Resequence(ctx, in); err != nil {
			return err
		}

		if updated, err = p.repo.Get(ctx, tenantID, routeID); err != nil {
			return err
		}
		store.AfterCommit(ctx, func(ctx context.Context) {
			p.audit.Log(ctx, audit.Event{
				Type:     audit.TypeRouteReoptimized,
				TenantID: tenantID,
				ActorID:  requestedBy,
				Resource: routeID,
				Metadata: map[string]any{"loan_id": loanID, "sequence": inserted.Sequence},
			})
		})
		return nil
	})
	tracing.End(span, err)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// anchor is where the collector is assumed to be: the most recently visited
// stop's recorded position, else its target, else the route start.
func anchor(r *Route) geo.Coordinate {
	var last *Visit
	for i := range r.Visits {
		v := &r.Visits[i]
		if v.Status != VisitVisited || v.VisitedAt == nil {
			continue
		}
		if last == nil || v.VisitedAt.After(*last.VisitedAt) {
			last = v
		}
	}
	switch {
	case last == nil:
		return r.Start
	case last.Location != nil && last.Location.Valid():
		return *last.Location
	case last.Target.Valid():
		return last.Target
	default:
		return r.Start
	}
}

func lastVisitedSequence(r *Route) int {
	seq := 0
	for _, v := range r.Visits {
		if v.Status == VisitVisited {
			seq = max(seq, v.Sequence)
		}
	}
	return seq
}

// Activate moves a DRAFT route to ACTIVE. Activating an ACTIVE route is a no-op.
func (p *Planner) Activate(ctx context.Context, tenantID, routeID, requestedBy string) (*Route, error) {
	r, err := p.repo.Get(ctx, tenantID, routeID)
	if err != nil {
		return nil, err
	}
	switch r.Status {
	case StatusActive:
		return r, nil
	case StatusCompleted:
		return nil, ErrRouteCompleted
	}

	err = p.tx.WithinTx(ctx, func(ctx context.Context) error {
		return p.repo.UpdateStatus(ctx, tenantID, routeID, StatusDraft, StatusActive, p.now())
	})
	if err != nil {
		return nil, err
	}

	p.audit.Log(ctx, audit.Event{
		Type:     audit.TypeRouteActivated,
		TenantID: tenantID,
		ActorID:  requestedBy,
		Resource: routeID,
	})
	return p.repo.Get(ctx, tenantID, routeID)
}

// Get returns a route with its visits in sequence order.
func (p *Planner) Get(ctx context.Context, tenantID, routeID string) (*Route, error) {
	r, err := p.repo.Get(ctx, tenantID, routeID)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(r.Visits, func(a, b Visit) int { return a.Sequence - b.Sequence })
	return r, nil
}

// CloseStale completes routes dated before the given day that are still open.
// An empty tenantID closes across all tenants.
func (p *Planner) CloseStale(ctx context.Context, tenantID string, before time.Time) (int, error) {
	n, err := p.repo.CloseStale(ctx, tenantID, clock.Date(before), p.now())
	if err != nil {
		return 0, fmt.Errorf("failed to close stale routes: %w", err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "closed stale routes", logger.TenantID(tenantID), logger.Count("closed", n))
	}
	return n, nil
}

func (p *Planner) publish(ctx context.Context, evt events.Event) {
	if err := p.publisher.Publish(ctx, evt); err != nil {
		slog.WarnContext(ctx, "failed to publish route event", slog.String("event_type", evt.Type), logger.Error(err))
	}
}
