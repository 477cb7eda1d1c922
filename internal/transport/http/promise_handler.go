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
	"time"

	"github.com/collectops/collectops/internal/analytics"
	"github.com/collectops/collectops/internal/apperr"
	"github.com/collectops/collectops/internal/audit"
	"github.com/collectops/collectops/internal/auth"
	"github.com/collectops/collectops/internal/clock"
	"github.com/collectops/collectops/internal/promise"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// Promise actions
const (
	ActionFulfill = "fulfill"
	ActionCancel  = "cancel"
)

// CreatePromiseRequest records a promise taken outside a visit, e.g. by phone
type CreatePromiseRequest struct {
	LoanID       string          `json:"loanId" validate:"required,max=64"`
	Amount       decimal.Decimal `json:"amount"`
	PromisedDate string          `json:"promisedDate" validate:"required"`
}

// UpdatePromiseRequest resolves a pending promise
type UpdatePromiseRequest struct {
	Action string `json:"action" validate:"required,oneof=fulfill cancel"`
}

// CreatePromise records a promise-to-pay
// @Summary Create promise
// @Description Records a promise-to-pay; an existing pending promise on the loan is superseded
// @Tags Promises
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreatePromiseRequest true "Promise"
// @Success 201 {object} promise.Promise
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /promises [post]
func (h *Handler) CreatePromise(w http.ResponseWriter, r *http.Request) {
	p, ok := h.require(w, r, auth.PermPromiseCreate)
	if !ok {
		return
	}

	var req CreatePromiseRequest
	if err := h.decodeJSON(r, &req, false); err != nil {
		respondErr(r.Context(), w, err)
		return
	}
	date, err := clock.ParseDate(req.PromisedDate)
	if err != nil {
		respondErr(r.Context(), w, apperr.Validation(apperr.CodeInvalidRequest, "promisedDate must be YYYY-MM-DD or RFC 3339").Wrap(err))
		return
	}

	created, err := h.ledger.Create(r.Context(), promise.CreateInput{
		TenantID:     p.TenantID,
		LoanID:       req.LoanID,
		Amount:       req.Amount,
		PromisedDate: date,
		CreatedBy:    p.UserID,
	})
	if err != nil {
		respondErr(r.Context(), w, err)
		return
	}

	respondJSON(w, http.StatusCreated, created)
}

// GetPromise returns one promise
// @Summary Get promise
// @Tags Promises
// @Produce json
// @Security BearerAuth
// @Param promiseId path string true "Promise ID"
// @Success 200 {object} promise.Promise
// @Failure 404 {object} ErrorResponse
// @Router /promises/{promiseId} [get]
func (h *Handler) GetPromise(w http.ResponseWriter, r *http.Request) {
	p, ok := h.require(w, r, auth.PermPromiseRead)
	if !ok {
		return
	}

	got, err := h.ledger.Get(r.Context(), p.TenantID, chi.URLParam(r, "promiseId"))
	if err != nil {
		respondErr(r.Context(), w, err)
		return
	}
	respondJSON(w, http.StatusOK, got)
}

// UpdatePromise fulfils or cancels a pending promise
// @Summary Resolve promise
// @Description Applies "fulfill" or "cancel" to a pending promise
// @Tags Promises
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param promiseId path string true "Promise ID"
// @Param request body UpdatePromiseRequest true "Action"
// @Success 200 {object} promise.Promise
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /promises/{promiseId} [patch]
func (h *Handler) UpdatePromise(w http.ResponseWriter, r *http.Request) {
	p, ok := h.require(w, r, auth.PermPromiseResolve)
	if !ok {
		return
	}

	var req UpdatePromiseRequest
	if err := h.decodeJSON(r, &req, false); err != nil {
		respondErr(r.Context(), w, err)
		return
	}

	id := chi.URLParam(r, "promiseId")
	var (
		updated *promise.Promise
		err     error
	)
	switch req.Action {
	case ActionFulfill:
		updated, err = h.ledger.MarkFulfilled(r.Context(), p.TenantID, id, p.UserID)
	case ActionCancel:
		updated, err = h.ledger.Cancel(r.Context(), p.TenantID, id, p.UserID)
	}
	if err != nil {
		respondErr(r.Context(), w, err)
		return
	}

	respondJSON(w, http.StatusOK, updated)
}

// ListLoanPromises lists a loan's promises, newest first
// @Summary List loan promises
// @Tags Promises
// @Produce json
// @Security BearerAuth
// @Param loanId path string true "Loan ID"
// @Success 200 {array} promise.Promise
// @Router /loans/{loanId}/promises [get]
func (h *Handler) ListLoanPromises(w http.ResponseWriter, r *http.Request) {
	p, ok := h.require(w, r, auth.PermPromiseRead)
	if !ok {
		return
	}

	list, err := h.ledger.ListByLoan(r.Context(), p.TenantID, chi.URLParam(r, "loanId"))
	if err != nil {
		respondErr(r.Context(), w, err)
		return
	}
	if list == nil {
		list = []*promise.Promise{}
	}
	respondJSON(w, http.StatusOK, list)
}

// GetAnalytics returns promise and visit rollups for the caller's tenant
// @Summary Promise analytics
// @Description Fulfillment, broken-promise and contact rates over an optional window
// @Tags Promises
// @Produce json
// @Security BearerAuth
// @Param tenantId query string false "Tenant ID; must match the caller's tenant"
// @Param dateFrom query string false "Inclusive lower bound (YYYY-MM-DD or RFC 3339)"
// @Param dateTo query string false "Upper bound; a calendar date includes that day"
// @Success 200 {object} analytics.Report
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /promises/analytics [get]
func (h *Handler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	p, ok := h.require(w, r, auth.PermAnalyticsRead)
	if !ok {
		return
	}

	q := r.URL.Query()
	if tid := q.Get("tenantId"); tid != "" && tid != p.TenantID {
		h.security.AccessDenied(r.Context(), p.TenantID, p.UserID, "analytics:"+tid, "cross-tenant request", r.RemoteAddr)
		h.auditLogger.Log(r.Context(), audit.Event{
			Type:      audit.TypeCrossTenantAttempt,
			TenantID:  p.TenantID,
			ActorID:   p.UserID,
			Resource:  "analytics",
			Metadata:  map[string]any{"requested_tenant_id": tid},
			IPAddress: r.RemoteAddr,
			UserAgent: r.UserAgent(),
		})
		respondError(w, http.StatusForbidden, "tenantId does not match the authenticated tenant", apperr.CodeForbidden)
		return
	}

	var (
		win analytics.Window
		err error
	)
	if win.From, err = parseWindowBound(q.Get("dateFrom"), false); err != nil {
		respondErr(r.Context(), w, apperr.Validation(apperr.CodeInvalidRequest, "dateFrom must be YYYY-MM-DD or RFC 3339").Wrap(err))
		return
	}
	if win.To, err = parseWindowBound(q.Get("dateTo"), true); err != nil {
		respondErr(r.Context(), w, apperr.Validation(apperr.CodeInvalidRequest, "dateTo must be YYYY-MM-DD or RFC 3339").Wrap(err))
		return
	}

	report, err := h.aggregator.GetAnalytics(r.Context(), p.TenantID, win)
	if err != nil {
		respondErr(r.Context(), w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// parseWindowBound parses an analytics window bound. A calendar date used as
// the upper bound covers that whole day.
func parseWindowBound(s string, upper bool) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if d, err := time.Parse(time.DateOnly, s); err == nil {
		if upper {
			d = d.AddDate(0, 0, 1)
		}
		return &d, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}
