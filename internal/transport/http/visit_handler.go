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
	"github.com/collectops/collectops/internal/visit"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// RecordVisitRequest represents a visit outcome submitted from the field
type RecordVisitRequest struct {
	Outcome       string           `json:"outcome"`
	Notes         string           `json:"notes" validate:"max=2000"`
	Latitude      *float64         `json:"latitude" validate:"required_with=Longitude,omitempty,min=-90,max=90"`
	Longitude     *float64         `json:"longitude" validate:"required_with=Latitude,omitempty,min=-180,max=180"`
	PhotoURL      string           `json:"photoUrl" validate:"omitempty,url,max=2048"`
	PromiseDate   string           `json:"promiseDate"`
	PromiseAmount *decimal.Decimal `json:"promiseAmount"`
}

// RecordVisit records the outcome of a scheduled visit
// @Summary Record visit outcome
// @Description Records the outcome of a visit and, for PROMISE, the promise-to-pay it produced
// @Tags Visits
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param visitId path string true "Visit ID"
// @Param request body RecordVisitRequest true "Visit outcome"
// @Success 200 {object} route.Visit
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /visits/{visitId} [patch]
func (h *Handler) RecordVisit(w http.ResponseWriter, r *http.Request) {
	p, ok := h.require(w, r, auth.PermVisitRecord)
	if !ok {
		return
	}

	var req RecordVisitRequest
	if err := h.decodeJSON(r, &req, false); err != nil {
		respondErr(r.Context(), w, err)
		return
	}

	in := visit.RecordInput{
		TenantID:      p.TenantID,
		VisitID:       chi.URLParam(r, "visitId"),
		Outcome:       route.Outcome(req.Outcome),
		Notes:         req.Notes,
		PhotoURL:      req.PhotoURL,
		PromiseAmount: req.PromiseAmount,
		RecordedBy:    p.UserID,
		AnyCollector:  p.Can(auth.PermRoutePlanAny),
	}
	if req.Outcome == "" {
		respondErr(r.Context(), w, visit.ErrInvalidOutcome.WithMessage("outcome is required"))
		return
	}
	if req.Latitude != nil && req.Longitude != nil {
		in.Location = &geo.Coordinate{Latitude: *req.Latitude, Longitude: *req.Longitude}
	}
	if req.PromiseDate != "" {
		d, err := clock.ParseDate(req.PromiseDate)
		if err != nil {
			respondErr(r.Context(), w, apperr.Validation(apperr.CodeInvalidRequest, "promiseDate must be YYYY-MM-DD or RFC 3339").Wrap(err))
			return
		}
		in.PromiseDate = &d
	}

	v, err := h.tracker.RecordOutcome(r.Context(), in)
	if err != nil {
		respondErr(r.Context(), w, err)
		return
	}

	respondJSON(w, http.StatusOK, v)
}
