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
	"log/slog"
	"net/http"
	"time"

	"github.com/collectops/collectops/internal/observability/logger"
)

// CheckPromisesRequest optionally scopes the sweep to one tenant
type CheckPromisesRequest struct {
	TenantID string `json:"tenantId" validate:"max=64"`
}

// CheckPromisesResponse reports one sweep
type CheckPromisesResponse struct {
	Success      bool      `json:"success"`
	ExpiredCount int       `json:"expiredCount"`
	FailedCount  int       `json:"failedCount"`
	SkippedCount int       `json:"skippedCount"`
	ExecutedAt   time.Time `json:"executedAt"`
	Error        string    `json:"error,omitempty"`
}

// CheckPromises expires overdue pending promises
// @Summary Expire overdue promises
// @Description Called by the external scheduler with the shared cron secret
// @Tags Cron
// @Accept json
// @Produce json
// @Param Authorization header string true "Bearer <cron secret>"
// @Param request body CheckPromisesRequest false "Optional tenant scope"
// @Success 200 {object} CheckPromisesResponse
// @Failure 401 {object} ErrorResponse
// @Failure 503 {object} CheckPromisesResponse
// @Router /cron/check-promises [post]
func (h *Handler) CheckPromises(w http.ResponseWriter, r *http.Request) {
	var req CheckPromisesRequest
	if err := h.decodeJSON(r, &req, true); err != nil {
		respondErr(r.Context(), w, err)
		return
	}

	res, err := h.scanner.CheckExpiredPromises(r.Context(), req.TenantID)
	resp := CheckPromisesResponse{
		Success:      err == nil,
		ExpiredCount: res.Expired,
		FailedCount:  res.Failed,
		SkippedCount: res.Skipped,
		ExecutedAt:   res.ExecutedAt,
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "promise sweep aborted", logger.TenantID(req.TenantID), logger.Error(err))
		resp.Error = "sweep aborted before completion"
		respondJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}
