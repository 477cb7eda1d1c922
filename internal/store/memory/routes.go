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

package memory

import (
	"context"
	"slices"
	"time"

	"github.com/collectops/collectops/internal/route"
)

// RouteRepository implements route.Repository
type RouteRepository struct {
	s *Store
}

var _ route.Repository = (*RouteRepository)(nil)

// Routes returns the route repository view of the store.
func (s *Store) Routes() *RouteRepository {
	return &RouteRepository{s: s}
}

func (r *RouteRepository) Create(ctx context.Context, rt *route.Route) error {
	defer r.s.lock(ctx)()
	if err := r.s.fault("route.create"); err != nil {
		return err
	}
	for _, other := range r.s.routes {
		if other.TenantID == rt.TenantID && other.CollectorID == rt.CollectorID && other.BusinessDate.Equal(rt.BusinessDate) {
			return route.ErrDuplicateRoute
		}
	}

	stored := *rt
	stored.Visits = nil
	r.s.routes[rt.ID] = stored
	for _, v := range rt.Visits {
		r.s.visits[v.ID] = v
	}
	return nil
}

func (r *RouteRepository) Get(ctx context.Context, tenantID, routeID string) (*route.Route, error) {
	defer r.s.lock(ctx)()
	return r.load(tenantID, routeID)
}

// GetForUpdate is Get: transactions already hold the store lock.
func (r *RouteRepository) GetForUpdate(ctx context.Context, tenantID, routeID string) (*route.Route, error) {
	return r.Get(ctx, tenantID, routeID)
}

func (r *RouteRepository) load(tenantID, routeID string) (*route.Route, error) {
	rt, ok := r.s.routes[routeID]
	if !ok || rt.TenantID != tenantID {
		return nil, route.ErrRouteNotFound
	}
	rt.Visits = r.visitsOf(routeID)
	return &rt, nil
}

func (r *RouteRepository) visitsOf(routeID string) []route.Visit {
	var out []route.Visit
	for _, v := range r.s.visits {
		if v.RouteID == routeID {
			out = append(out, v)
		}
	}
	slices.SortFunc(out, func(a, b route.Visit) int { return a.Sequence - b.Sequence })
	return out
}

func (r *RouteRepository) GetByCollectorDate(ctx context.Context, tenantID, collectorID string, date time.Time) (*route.Route, error) {
	defer r.s.lock(ctx)()
	for _, rt := range r.s.routes {
		if rt.TenantID == tenantID && rt.CollectorID == collectorID && rt.BusinessDate.Equal(date) {
			return r.load(tenantID, rt.ID)
		}
	}
	return nil, route.ErrRouteNotFound
}

func (r *RouteRepository) UpdateStatus(ctx context.Context, tenantID, routeID string, from, to route.Status, at time.Time) error {
	defer r.s.lock(ctx)()
	if err := r.s.fault("route.update_status"); err != nil {
		return err
	}
	rt, ok := r.s.routes[routeID]
	if !ok || rt.TenantID != tenantID {
		return route.ErrRouteNotFound
	}
	if rt.Status != from {
		return route.ErrStaleRoute
	}
	rt.Status = to
	if to == route.StatusCompleted {
		rt.CompletedAt = &at
	}
	r.touch(&rt, at)
	return nil
}

func (r *RouteRepository) touch(rt *route.Route, at time.Time) {
	rt.Version++
	rt.UpdatedAt = at
	r.s.routes[rt.ID] = *rt
}

func (r *RouteRepository) Resequence(ctx context.Context, in route.ResequenceInput) error {
	defer r.s.lock(ctx)()
	rt, ok := r.s.routes[in.RouteID]
	if !ok || rt.TenantID != in.TenantID {
		return route.ErrRouteNotFound
	}
	if rt.Version != in.ExpectedVersion {
		return route.ErrStaleRoute
	}

	for _, pl := range in.Placements {
		v, ok := r.s.visits[pl.VisitID]
		if !ok || v.RouteID != in.RouteID || v.Status != route.VisitScheduled {
			return route.ErrStaleRoute
		}
	}
	for _, pl := range in.Placements {
		v := r.s.visits[pl.VisitID]
		v.Sequence = pl.Sequence
		r.s.visits[pl.VisitID] = v
	}
	for _, v := range in.Insert {
		r.s.visits[v.ID] = v
	}
	r.touch(&rt, in.At)
	return nil
}

func (r *RouteRepository) GetVisit(ctx context.Context, tenantID, visitID string) (*route.Visit, error) {
	defer r.s.lock(ctx)()
	v, ok := r.s.visits[visitID]
	if !ok || v.TenantID != tenantID {
		return nil, route.ErrVisitNotFound
	}
	return &v, nil
}

func (r *RouteRepository) RecordVisit(ctx context.Context, rec route.VisitRecord) error {
	defer r.s.lock(ctx)()
	if err := r.s.fault("route.record_visit"); err != nil {
		return err
	}
	v, ok := r.s.visits[rec.VisitID]
	if !ok || v.TenantID != rec.TenantID {
		return route.ErrVisitNotFound
	}
	if v.Status != route.VisitScheduled {
		return route.ErrAlreadyRecorded
	}

	at := rec.At
	v.Status = route.VisitVisited
	v.Outcome = rec.Outcome
	v.Location = rec.Location
	v.Notes = rec.Notes
	v.PhotoURL = rec.PhotoURL
	v.RecordedBy = rec.RecordedBy
	v.VisitedAt = &at
	r.s.visits[v.ID] = v

	if rt, ok := r.s.routes[v.RouteID]; ok {
		r.touch(&rt, at)
	}
	return nil
}

func (r *RouteRepository) CloseStale(ctx context.Context, tenantID string, before, at time.Time) (int, error) {
	defer r.s.lock(ctx)()
	n := 0
	for _, rt := range r.s.routes {
		if tenantID != "" && rt.TenantID != tenantID {
			continue
		}
		if rt.Status == route.StatusCompleted || !rt.BusinessDate.Before(before) {
			continue
		}
		rt.Status = route.StatusCompleted
		rt.CompletedAt = &at
		r.touch(&rt, at)
		n++
	}
	return n, nil
}
