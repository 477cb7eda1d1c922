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

package loan

import (
	"context"
	"time"

	"github.com/collectops/collectops/internal/apperr"
	"github.com/collectops/collectops/internal/geo"
	"github.com/shopspring/decimal"
)

// Loan statuses. Loans are never deleted, only transitioned.
const (
	StatusActive     = "ACTIVE"
	StatusSettled    = "SETTLED"
	StatusWrittenOff = "WRITTEN_OFF"
)

var (
	ErrLoanNotFound   = apperr.NotFound(apperr.CodeLoanNotFound, "loan not found")
	ErrClientNotFound = apperr.NotFound(apperr.CodeClientNotFound, "client not found")
)

// Loan is the collection view of a delinquent loan.
type Loan struct {
	ID                 string          `json:"id"`
	TenantID           string          `json:"tenantId"`
	ClientID           string          `json:"clientId"`
	CollectorID        string          `json:"collectorId"`
	OutstandingBalance decimal.Decimal `json:"outstandingBalance"`
	DaysPastDue        int             `json:"daysPastDue"`
	BrokenPromises     int             `json:"brokenPromises"`
	LastContactAt      *time.Time      `json:"lastContactAt,omitempty"`
	Status             string          `json:"status"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// IsDelinquent reports whether the loan is eligible for field collection.
func (l *Loan) IsDelinquent() bool {
	return l.Status == StatusActive && l.DaysPastDue > 0
}

// Client is the borrower. Location is nil when the address was never geocoded.
type Client struct {
	ID       string          `json:"id"`
	TenantID string          `json:"tenantId"`
	Name     string          `json:"name"`
	Phone    string          `json:"phone,omitempty"`
	Location *geo.Coordinate `json:"location,omitempty"`
}

// Candidate is a loan joined with its client's location, as consumed by the planner.
type Candidate struct {
	Loan     Loan            `json:"loan"`
	Location *geo.Coordinate `json:"location,omitempty"`
}

// Routable reports whether the candidate has a usable coordinate.
func (c Candidate) Routable() bool {
	return c.Location != nil && c.Location.Valid()
}

// Repository defines tenant-scoped loan persistence.
// Counter updates are single conditional statements so that they compose
// with the caller's transaction.
type Repository interface {
	// Get retrieves a loan by ID
	Get(ctx context.Context, tenantID, loanID string) (*Loan, error)

	// GetCandidate retrieves a loan with its client location
	GetCandidate(ctx context.Context, tenantID, loanID string) (*Candidate, error)

	// ListCandidates lists delinquent active loans assigned to a collector
	ListCandidates(ctx context.Context, tenantID, collectorID string) ([]Candidate, error)

	// IncrementBrokenPromises adds one to the broken-promise counter
	IncrementBrokenPromises(ctx context.Context, tenantID, loanID string) error

	// ResetBrokenPromises zeroes the counter and records a contact
	ResetBrokenPromises(ctx context.Context, tenantID, loanID string, contactAt time.Time) error

	// TouchContact records the last contact timestamp
	TouchContact(ctx context.Context, tenantID, loanID string, contactAt time.Time) error

	// UpdateClientLocation replaces a client's geocoded coordinate
	UpdateClientLocation(ctx context.Context, tenantID, clientID string, location geo.Coordinate) error
}
