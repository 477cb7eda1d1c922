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

	"github.com/collectops/collectops/internal/audit"
	"github.com/collectops/collectops/internal/auth"
	"github.com/collectops/collectops/internal/geo"
	"github.com/go-chi/chi/v5"
)

// UpdateClientLocationRequest carries a corrected geocode
type UpdateClientLocationRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,min=-90,max=90"`
	Longitude *float64 `json:"longitude" validate:"required,min=-180,max=180"`
}

// ClientLocationResponse echoes the stored coordinate
type ClientLocationResponse struct {
	ClientID string         `json:"clientId"`
	Location geo.Coordinate `json:"location"`
}

// UpdateClientLocation replaces a client's coordinate. Routes planned
// afterwards use the new position; existing stops keep their targets.
// @Summary Update client location
// @Tags Clients
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param clientId path string true "Client ID"
// @Param request body UpdateClientLocationRequest true "Coordinate"
// @Success 200 {object} ClientLocationResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /clients/{clientId}/location [put]
func (h *Handler) UpdateClientLocation(w http.ResponseWriter, r *http.Request) {
	p, ok := h.require(w, r, auth.PermClientLocate)
	if !ok {
		return
	}

	var req UpdateClientLocationRequest
	if err := h.decodeJSON(r, &req, false); err != nil {
		respondErr(r.Context(), w, err)
		return
	}

	clientID := chi.URLParam(r, "clientId")
	loc := geo.Coordinate{Latitude: *req.Latitude, Longitude: *req.Longitude}
	if err := h.loans.UpdateClientLocation(r.Context(), p.TenantID, clientID, loc); err != nil {
		respondErr(r.Context(), w, err)
		return
	}

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeClientRelocated,
		TenantID:  p.TenantID,
		ActorID:   p.UserID,
		Resource:  clientID,
		Metadata:  map[string]any{"latitude": loc.Latitude, "longitude": loc.Longitude},
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	respondJSON(w, http.StatusOK, ClientLocationResponse{ClientID: clientID, Location: loc})
}
