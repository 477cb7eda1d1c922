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
	"strings"
	"time"

	"github.com/collectops/collectops/internal/geo"
	"github.com/collectops/collectops/internal/loan"
)

// LoanRepository implements loan.Repository
type LoanRepository struct {
	s *Store
}

var _ loan.Repository = (*LoanRepository)(nil)

// Loans returns the loan repository view of the store.
func (s *Store) Loans() *LoanRepository {
	return &LoanRepository{s: s}
}

// PutLoan inserts or replaces a loan.
func (s *Store) PutLoan(l loan.Loan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loans[l.ID] = l
}

// PutClient inserts or replaces a client.
func (s *Store) PutClient(c loan.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ID] = c
}

func (r *LoanRepository) Get(ctx context.Context, tenantID, loanID string) (*loan.Loan, error) {
	defer r.s.lock(ctx)()
	l, ok := r.s.loans[loanID]
	if !ok || l.TenantID != tenantID {
		return nil, loan.ErrLoanNotFound
	}
	return &l, nil
}

func (r *LoanRepository) GetCandidate(ctx context.Context, tenantID, loanID string) (*loan.Candidate, error) {
	defer r.s.lock(ctx)()
	l, ok := r.s.loans[loanID]
	if !ok || l.TenantID != tenantID {
		return nil, loan.ErrLoanNotFound
	}
	c := r.s.candidate(l)
	return &c, nil
}

func (s *Store) candidate(l loan.Loan) loan.Candidate {
	c := loan.Candidate{Loan: l}
	if client, ok := s.clients[l.ClientID]; ok && client.TenantID == l.TenantID && client.Location != nil {
		loc := *client.Location
		c.Location = &loc
	}
	return c
}

func (r *LoanRepository) ListCandidates(ctx context.Context, tenantID, collectorID string) ([]loan.Candidate, error) {
	defer r.s.lock(ctx)()
	var out []loan.Candidate
	for _, l := range r.s.loans {
		if l.TenantID != tenantID || l.CollectorID != collectorID || !l.IsDelinquent() {
			continue
		}
		out = append(out, r.s.candidate(l))
	}
	slices.SortFunc(out, func(a, b loan.Candidate) int { return strings.Compare(a.Loan.ID, b.Loan.ID) })
	return out, nil
}

func (r *LoanRepository) IncrementBrokenPromises(ctx context.Context, tenantID, loanID string) error {
	return r.update(ctx, "loan.increment_broken_promises", tenantID, loanID, func(l *loan.Loan) {
		l.BrokenPromises++
	})
}

func (r *LoanRepository) ResetBrokenPromises(ctx context.Context, tenantID, loanID string, contactAt time.Time) error {
	return r.update(ctx, "loan.reset_broken_promises", tenantID, loanID, func(l *loan.Loan) {
		l.BrokenPromises = 0
		l.LastContactAt = &contactAt
	})
}

func (r *LoanRepository) TouchContact(ctx context.Context, tenantID, loanID string, contactAt time.Time) error {
	return r.update(ctx, "loan.touch_contact", tenantID, loanID, func(l *loan.Loan) {
		l.LastContactAt = &contactAt
	})
}

func (r *LoanRepository) update(ctx context.Context, op, tenantID, loanID string, mutate func(l *loan.Loan)) error {
	defer r.s.lock(ctx)()
	if err := r.s.fault(op); err != nil {
		return err
	}
	l, ok := r.s.loans[loanID]
	if !ok || l.TenantID != tenantID {
		return loan.ErrLoanNotFound
	}
	mutate(&l)
	l.UpdatedAt = time.Now().UTC()
	r.s.loans[loanID] = l
	return nil
}

func (r *LoanRepository) UpdateClientLocation(ctx context.Context, tenantID, clientID string, location geo.Coordinate) error {
	if err := location.Validate(); err != nil {
		return err
	}
	defer r.s.lock(ctx)()
	c, ok := r.s.clients[clientID]
	if !ok || c.TenantID != tenantID {
		return loan.ErrClientNotFound
	}
	c.Location = &location
	r.s.clients[clientID] = c
	return nil
}
