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

package http

import (
	"net/http"

	"github.com/collectops/collectops/internal/apperr"
	"github.com/collectops/collectops/internal/auth"
	"github.com/collectops/collectops/internal/clock"
	"github.com/collectops/collectops/internal/geo"
	"github.com/collectops/collectops/internal/route"
	"github.com/go-chi/chi/v5"
)

// PlanRouteRequest asks for a collector's route for one business date
type PlanRouteRequest struct {
	CollectorID    string   `json:"collectorId" validate:"required,max=64"`
	BusinessDate   string   `json:"businessDate" validate:"required"`
	Capacity       int      `json:"capacity" validate:"gte=0"`
	StartLatitude  *float64 `json:"startLatitude" validate:"required,min=-90,max=90"`
	StartLongitude *float64 `json:"startLongitude" validate:"required,min=-180,max=180"`
}

// AddStopRequest inserts an urgent stop into a route
type AddStopRequest struct {
	LoanID string `json:"loanId" validate:"required,max=64"`
}

// PlanRoute plans (or returns the existing) route for a collector
// @Summary Plan route
// @Description Scores the collector's delinquent loans and orders them by nearest neighbour
// @Tags Routes
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body PlanRouteRequest true "Plan request"
// @Success 201 {object} route.Route
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /routes [post]
func (h *Handler) PlanRoute(w http.ResponseWriter, r *http.Request) {
	p, ok := h.require(w, r, auth.PermRoutePlan)
	if !ok {
		return
	}

	var req PlanRouteRequest
	if err := h.decodeJSON(r, &req, false); err != nil {
		respondErr(r.Context(), w, err)
		return
	}
	if req.CollectorID != p.UserID && !p.Can(auth.PermRoutePlanAny) {
		h.security.AccessDenied(r.Context(), p.TenantID, p.UserID, "route:"+req.CollectorID, "plan for another collector", r.RemoteAddr)
		respondErr(r.Context(), w, auth.ErrForbidden.WithMessage("collectors may only plan their own route"))
		return
	}

	date, err := clock.ParseDate(req.BusinessDate)
	if err != nil {
		respondErr(r.Context(), w, apperr.Validation(apperr.CodeInvalidRequest, "businessDate must be YYYY-MM-DD or RFC 3339").Wrap(err))
		return
	}

	capacity := req.Capacity
	if capacity == 0 {
		capacity = h.opts.DefaultCapacity
	}
	if h.opts.MaxCapacity > 0 && capacity > h.opts.MaxCapacity {
		respondErr(r.Context(), w, route.ErrCapacityExceeded.WithMessage("capacity %d exceeds the maximum of %d", capacity, h.opts.MaxCapacity))
		return
	}

	start := geo.Coordinate{Latitude: *req.StartLatitude, Longitude: *req.StartLongitude}
	planned, err := h.planner.PlanForCollector(r.Context(), p.TenantID, req.CollectorID, date, capacity, start, p.UserID)
	if err != nil {
		respondErr(r.Context(), w, err)
		return
	}

	respondJSON(w, http.StatusCreated, planned)
}

// GetRoute returns a route with its stops
// @Summary Get route
// @Tags Routes
// @Produce json
// @Security BearerAuth
// @Param routeId path string true "Route ID"
// @Success 200 {object} route.Route
// @Failure 404 {object} ErrorResponse
// @Router /routes/{routeId} [get]
func (h *Handler) GetRoute(w http.ResponseWriter, r *http.Request) {
	p, ok := h.require(w, r, auth.PermRouteRead)
	if !ok {
		return
	}

	rt, ok := h.loadRoute(w, r, p)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, rt)
}

// ActivateRoute moves a DRAFT route to ACTIVE
// @Summary Activate route
// @Tags Routes
// @Produce json
// @Security BearerAuth
// @Param routeId path string true "Route ID"
// @Success 200 {object} route.Route
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /routes/{routeId}/activate [post]
func (h *Handler) ActivateRoute(w http.ResponseWriter, r *http.Request) {
	p, ok := h.require(w, r, auth.PermRouteActivate)
	if !ok {
		return
	}
	rt, ok := h.loadRoute(w, r, p)
	if !ok {
		return
	}

	activated, err := h.planner.Activate(r.Context(), p.TenantID, rt.ID, p.UserID)
	if err != nil {
		respondErr(r.Context(), w, err)
		return
	}
	respondJSON(w, http.StatusOK, activated)
}

// AddStop inserts an urgent stop and re-sequences the pending stops
// @Summary Add urgent stop
// @Tags Routes
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param routeId path string true "Route ID"
// @Param request body AddStopRequest true "Stop"
// @Success 200 {object} route.Route
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /routes/{routeId}/stops [post]
func (h *Handler) AddStop(w http.ResponseWriter, r *http.Request) {
	p, ok := h.require(w, r, auth.PermRouteModify)
	if !ok {
		return
	}

	var req AddStopRequest
	if err := h.decodeJSON(r, &req, false); err != nil {
		respondErr(r.Context(), w, err)
		return
	}
	rt, ok := h.loadRoute(w, r, p)
	if !ok {
		return
	}

	updated, err := h.planner.Reoptimize(r.Context(), p.TenantID, rt.ID, req.LoanID, p.UserID)
	if err != nil {
		respondErr(r.Context(), w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// loadRoute fetches the route named in the path. Collectors without
// route:plan_any only see their own routes; others get 404.
func (h *Handler) loadRoute(w http.ResponseWriter, r *http.Request, p *auth.Principal) (*route.Route, bool) {
	rt, err := h.planner.Get(r.Context(), p.TenantID, chi.URLParam(r, "routeId"))
	if err != nil {
		respondErr(r.Context(), w, err)
		return nil, false
	}
	if rt.CollectorID != p.UserID && !p.Can(auth.PermRoutePlanAny) {
		h.security.AccessDenied(r.Context(), p.TenantID, p.UserID, "route:"+rt.ID, "route belongs to another collector", r.RemoteAddr)
		respondErr(r.Context(), w, route.ErrRouteNotFound)
		return nil, false
	}
	return rt, true
}
