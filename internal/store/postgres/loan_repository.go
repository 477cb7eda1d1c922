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

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/collectops/collectops/internal/geo"
	"github.com/collectops/collectops/internal/loan"
	"github.com/jackc/pgx/v5"
)

// LoanRepository implements loan.Repository
type LoanRepository struct {
	db *DB
}

var _ loan.Repository = (*LoanRepository)(nil)

// NewLoanRepository creates a new loan repository
func NewLoanRepository(db *DB) *LoanRepository {
	return &LoanRepository{db: db}
}

const loanColumns = `
	l.id, l.tenant_id, l.client_id, l.collector_id, l.outstanding_balance,
	l.days_past_due, l.broken_promises, l.last_contact_at, l.status,
	l.created_at, l.updated_at`

const candidateColumns = loanColumns + `, c.latitude, c.longitude`

func scanLoan(row pgx.Row, extra ...any) (*loan.Loan, error) {
	var l loan.Loan
	dest := []any{
		&l.ID, &l.TenantID, &l.ClientID, &l.CollectorID, &l.OutstandingBalance,
		&l.DaysPastDue, &l.BrokenPromises, &l.LastContactAt, &l.Status,
		&l.CreatedAt, &l.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &l, nil
}

func scanCandidate(row pgx.Row) (*loan.Candidate, error) {
	var lat, lng *float64
	l, err := scanLoan(row, &lat, &lng)
	if err != nil {
		return nil, err
	}
	c := &loan.Candidate{Loan: *l}
	if lat != nil && lng != nil {
		c.Location = &geo.Coordinate{Latitude: *lat, Longitude: *lng}
	}
	return c, nil
}

// Get retrieves a loan by ID
func (r *LoanRepository) Get(ctx context.Context, tenantID, loanID string) (*loan.Loan, error) {
	l, err := scanLoan(r.db.q(ctx).QueryRow(ctx, `
		SELECT `+loanColumns+`
		FROM loans l
		WHERE l.tenant_id = $1 AND l.id = $2
	`, tenantID, loanID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, loan.ErrLoanNotFound
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return l, nil
}

// GetCandidate retrieves a loan joined with its client's location
func (r *LoanRepository) GetCandidate(ctx context.Context, tenantID, loanID string) (*loan.Candidate, error) {
	c, err := scanCandidate(r.db.q(ctx).QueryRow(ctx, `
		SELECT `+candidateColumns+`
		FROM loans l
		LEFT JOIN clients c ON c.id = l.client_id AND c.tenant_id = l.tenant_id
		WHERE l.tenant_id = $1 AND l.id = $2
	`, tenantID, loanID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, loan.ErrLoanNotFound
		}
		return nil, fmt.Errorf("failed to get loan candidate: %w", err)
	}
	return c, nil
}

// ListCandidates lists delinquent active loans assigned to a collector
func (r *LoanRepository) ListCandidates(ctx context.Context, tenantID, collectorID string) ([]loan.Candidate, error) {
	rows, err := r.db.q(ctx).Query(ctx, `
		SELECT `+candidateColumns+`
		FROM loans l
		LEFT JOIN clients c ON c.id = l.client_id AND c.tenant_id = l.tenant_id
		WHERE l.tenant_id = $1 AND l.collector_id = $2
		  AND l.status = 'ACTIVE' AND l.days_past_due > 0
		ORDER BY l.id
	`, tenantID, collectorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	defer rows.Close()

	var out []loan.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	return out, nil
}

// IncrementBrokenPromises adds one to the broken-promise counter
func (r *LoanRepository) IncrementBrokenPromises(ctx context.Context, tenantID, loanID string) error {
	return r.exec(ctx, "increment broken promises", `
		UPDATE loans SET broken_promises = broken_promises + 1, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, loanID)
}

// ResetBrokenPromises zeroes the counter and records a contact
func (r *LoanRepository) ResetBrokenPromises(ctx context.Context, tenantID, loanID string, contactAt time.Time) error {
	return r.exec(ctx, "reset broken promises", `
		UPDATE loans SET broken_promises = 0, last_contact_at = $3, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, loanID, contactAt)
}

// TouchContact records the last contact timestamp
func (r *LoanRepository) TouchContact(ctx context.Context, tenantID, loanID string, contactAt time.Time) error {
	return r.exec(ctx, "touch loan contact", `
		UPDATE loans SET last_contact_at = $3, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, loanID, contactAt)
}

func (r *LoanRepository) exec(ctx context.Context, what, sql string, args ...any) error {
	tag, err := r.db.q(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}
	if tag.RowsAffected() == 0 {
		return loan.ErrLoanNotFound
	}
	return nil
}

// UpdateClientLocation replaces a client's geocoded coordinate
func (r *LoanRepository) UpdateClientLocation(ctx context.Context, tenantID, clientID string, location geo.Coordinate) error {
	if err := location.Validate(); err != nil {
		return err
	}
	tag, err := r.db.q(ctx).Exec(ctx, `
		UPDATE clients SET latitude = $3, longitude = $4, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, clientID, location.Latitude, location.Longitude)
	if err != nil {
		return fmt.Errorf("failed to update client location: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return loan.ErrClientNotFound
	}
	return nil
}
