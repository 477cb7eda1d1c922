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

// Package route plans and maintains a collector's daily visit route.
package route

import (
	"context"
	"time"

	"github.com/collectops/collectops/internal/apperr"
	"github.com/collectops/collectops/internal/geo"
)

// Status of a route
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
)

// VisitStatus of a single stop
type VisitStatus string

const (
	VisitScheduled VisitStatus = "SCHEDULED"
	VisitVisited   VisitStatus = "VISITED"
)

// Outcome of a visit
type Outcome string

const (
	OutcomePaid           Outcome = "PAID"
	OutcomePromise        Outcome = "PROMISE"
	OutcomeRefused        Outcome = "REFUSED"
	OutcomeNotHome        Outcome = "NOT_HOME"
	OutcomeInvalidAddress Outcome = "INVALID_ADDRESS"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomePaid, OutcomePromise, OutcomeRefused, OutcomeNotHome, OutcomeInvalidAddress:
		return true
	}
	return false
}

// Contacted reports whether the collector reached the borrower.
func (o Outcome) Contacted() bool {
	return o == OutcomePaid || o == OutcomePromise || o == OutcomeRefused
}

var (
	ErrRouteNotFound    = apperr.NotFound(apperr.CodeRouteNotFound, "route not found")
	ErrVisitNotFound    = apperr.NotFound(apperr.CodeVisitNotFound, "visit not found")
	ErrNoEligibleLoans  = apperr.Conflict(apperr.CodeNoEligibleLoans, "no eligible loans with a valid location")
	ErrCapacityExceeded = apperr.Conflict(apperr.CodeCapacityExceeded, "route capacity exceeded")
	ErrDuplicateRoute   = apperr.Conflict(apperr.CodeDuplicateRoute, "collector already has a route for this date")
	ErrDuplicateStop    = apperr.Conflict(apperr.CodeDuplicateStop, "loan is already on the route")
	ErrRouteCompleted   = apperr.Conflict(apperr.CodeRouteCompleted, "route is completed")
	ErrStaleRoute       = apperr.Conflict(apperr.CodeStaleRoute, "route was modified concurrently")
	ErrAlreadyRecorded  = apperr.Conflict(apperr.CodeAlreadyRecorded, "visit outcome already recorded")
)

// Visit is one scheduled stop on a route.
type Visit struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenantId"`
	RouteID     string          `json:"routeId"`
	LoanID      string          `json:"loanId"`
	Sequence    int             `json:"sequence"`
	Status      VisitStatus     `json:"status"`
	Target      geo.Coordinate  `json:"target"`
	Score       float64         `json:"score"`
	Outcome     Outcome         `json:"outcome,omitempty"`
	Location    *geo.Coordinate `json:"location,omitempty"`
	Notes       string          `json:"notes,omitempty"`
	PhotoURL    string          `json:"photoUrl,omitempty"`
	RecordedBy  string          `json:"recordedBy,omitempty"`
	ScheduledAt time.Time       `json:"scheduledAt"`
	VisitedAt   *time.Time      `json:"visitedAt,omitempty"`
}

// Route is a collector's ordered stops for one business date.
type Route struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenantId"`
	CollectorID  string         `json:"collectorId"`
	BusinessDate time.Time      `json:"businessDate"`
	Status       Status         `json:"status"`
	Capacity     int            `json:"capacity"`
	Start        geo.Coordinate `json:"start"`
	Version      int            `json:"version"`
	Visits       []Visit        `json:"visits"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
}

// Pending returns the stops not yet visited, in sequence order.
func (r *Route) Pending() []Visit {
	var out []Visit
	for _, v := range r.Visits {
		if v.Status == VisitScheduled {
			out = append(out, v)
		}
	}
	return out
}

// Visit returns the stop with the given id, or nil.
func (r *Route) Visit(visitID string) *Visit {
	for i := range r.Visits {
		if r.Visits[i].ID == visitID {
			return &r.Visits[i]
		}
	}
	return nil
}

// HasLoan reports whether loanID already has a stop on the route.
func (r *Route) HasLoan(loanID string) bool {
	for _, v := range r.Visits {
		if v.LoanID == loanID {
			return true
		}
	}
	return false
}

// Placement assigns a sequence position to an existing visit.
type Placement struct {
	VisitID  string
	Sequence int
}

// ResequenceInput replaces the order of a route's pending stops.
type ResequenceInput struct {
	TenantID        string
	RouteID         string
	ExpectedVersion int
	Placements      []Placement
	Insert          []Visit
	At              time.Time
}

// VisitRecord is the outcome written to a scheduled visit.
type VisitRecord struct {
	TenantID   string
	VisitID    string
	Outcome    Outcome
	Location   *geo.Coordinate
	Notes      string
	PhotoURL   string
	RecordedBy string
	At         time.Time
}

// Repository defines route persistence.
//
// Create stores the route and all of its visits atomically and returns
// ErrDuplicateRoute when (tenant, collector, business date) is taken.
// UpdateStatus, Resequence and RecordVisit are conditional writes: they
// return ErrStaleRoute or ErrAlreadyRecorded instead of overwriting state
// that changed since it was read. Every successful write to a route or
// one of its visits increments the route version. GetForUpdate locks the
// route row until the surrounding transaction ends.
type Repository interface {
	Create(ctx context.Context, r *Route) error
	Get(ctx context.Context, tenantID, routeID string) (*Route, error)
	GetForUpdate(ctx context.Context, tenantID, routeID string) (*Route, error)
	GetByCollectorDate(ctx context.Context, tenantID, collectorID string, date time.Time) (*Route, error)
	UpdateStatus(ctx context.Context, tenantID, routeID string, from, to Status, at time.Time) error
	Resequence(ctx context.Context, in ResequenceInput) error
	GetVisit(ctx context.Context, tenantID, visitID string) (*Visit, error)
	RecordVisit(ctx context.Context, rec VisitRecord) error
	CloseStale(ctx context.Context, tenantID string, before, at time.Time) (int, error)
}
