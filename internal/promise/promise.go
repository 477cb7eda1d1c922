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

// Package promise implements the promise-to-pay ledger and its expiry sweep.
package promise

import (
	"context"
	"time"

	"github.com/collectops/collectops/internal/apperr"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a promise. PENDING is the only
// non-terminal state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusFulfilled Status = "FULFILLED"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
)

// Cancel reasons
const (
	ReasonCancelled  = "cancelled"
	ReasonSuperseded = "superseded"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusFulfilled, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

var (
	ErrPromiseNotFound      = apperr.NotFound(apperr.CodePromiseNotFound, "promise not found")
	ErrInvalidTransition    = apperr.Conflict(apperr.CodeInvalidTransition, "promise is not pending")
	ErrPendingPromiseExists = apperr.Conflict(apperr.CodePendingPromiseExists, "loan already has a pending promise")
	ErrInvalidAmount        = apperr.Validation(apperr.CodeInvalidAmount, "promise amount must be greater than zero")
	ErrMissingDetails       = apperr.Validation(apperr.CodeMissingPromiseDetails, "promise date and amount are required")
)

// Promise is a borrower's commitment to pay Amount by PromisedDate.
type Promise struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenantId"`
	LoanID       string          `json:"loanId"`
	VisitID      *string         `json:"visitId,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	PromisedDate time.Time       `json:"promisedDate"`
	Status       Status          `json:"status"`
	CancelReason string          `json:"cancelReason,omitempty"`
	CreatedBy    string          `json:"createdBy,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	ResolvedAt   *time.Time      `json:"resolvedAt,omitempty"`
}

// Transition is a compare-and-swap on a promise's status.
type Transition struct {
	TenantID string
	ID       string
	From     Status
	To       Status
	Reason   string
	At       time.Time
}

// DueQuery selects PENDING promises due before a business date, in id order.
// An empty TenantID spans all tenants.
type DueQuery struct {
	TenantID string
	Before   time.Time
	AfterID  string
	Limit    int
}

// Repository defines promise persistence.
//
// Transition must apply only when the stored status equals From, reading and
// writing in one statement, and return ErrInvalidTransition otherwise. Create
// must fail with ErrPendingPromiseExists if the loan already has a PENDING
// promise.
type Repository interface {
	Create(ctx context.Context, p *Promise) error
	Get(ctx context.Context, tenantID, id string) (*Promise, error)
	FindPending(ctx context.Context, tenantID, loanID string) (*Promise, error)
	ListByLoan(ctx context.Context, tenantID, loanID string) ([]*Promise, error)
	Transition(ctx context.Context, t Transition) error
	ListDue(ctx context.Context, q DueQuery) ([]*Promise, error)
}
