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

	"github.com/collectops/collectops/internal/promise"
)

// PromiseRepository implements promise.Repository
type PromiseRepository struct {
	s *Store
}

var _ promise.Repository = (*PromiseRepository)(nil)

// Promises returns the promise repository view of the store.
func (s *Store) Promises() *PromiseRepository {
	return &PromiseRepository{s: s}
}

func (r *PromiseRepository) Create(ctx context.Context, p *promise.Promise) error {
	defer r.s.lock(ctx)()
	if err := r.s.fault("promise.create"); err != nil {
		return err
	}
	if p.Status == promise.StatusPending {
		for _, other := range r.s.promises {
			if other.TenantID == p.TenantID && other.LoanID == p.LoanID && other.Status == promise.StatusPending {
				return promise.ErrPendingPromiseExists
			}
		}
	}
	r.s.promises[p.ID] = *p
	return nil
}

func (r *PromiseRepository) Get(ctx context.Context, tenantID, id string) (*promise.Promise, error) {
	defer r.s.lock(ctx)()
	p, ok := r.s.promises[id]
	if !ok || p.TenantID != tenantID {
		return nil, promise.ErrPromiseNotFound
	}
	return &p, nil
}

func (r *PromiseRepository) FindPending(ctx context.Context, tenantID, loanID string) (*promise.Promise, error) {
	defer r.s.lock(ctx)()
	for _, p := range r.s.promises {
		if p.TenantID == tenantID && p.LoanID == loanID && p.Status == promise.StatusPending {
			return &p, nil
		}
	}
	return nil, promise.ErrPromiseNotFound
}

func (r *PromiseRepository) ListByLoan(ctx context.Context, tenantID, loanID string) ([]*promise.Promise, error) {
	defer r.s.lock(ctx)()
	var out []*promise.Promise
	for _, p := range r.s.promises {
		if p.TenantID == tenantID && p.LoanID == loanID {
			out = append(out, &p)
		}
	}
	// v7 ids are time ordered
	slices.SortFunc(out, func(a, b *promise.Promise) int { return strings.Compare(b.ID, a.ID) })
	return out, nil
}

func (r *PromiseRepository) Transition(ctx context.Context, t promise.Transition) error {
	defer r.s.lock(ctx)()
	if err := r.s.fault("promise.transition"); err != nil {
		return err
	}
	p, ok := r.s.promises[t.ID]
	if !ok || p.TenantID != t.TenantID {
		return promise.ErrPromiseNotFound
	}
	if p.Status != t.From {
		return promise.ErrInvalidTransition
	}
	at := t.At
	p.Status = t.To
	p.CancelReason = t.Reason
	p.ResolvedAt = &at
	r.s.promises[t.ID] = p
	return nil
}

func (r *PromiseRepository) ListDue(ctx context.Context, q promise.DueQuery) ([]*promise.Promise, error) {
	defer r.s.lock(ctx)()
	var out []*promise.Promise
	for _, p := range r.s.promises {
		if p.Status != promise.StatusPending || !p.PromisedDate.Before(q.Before) {
			continue
		}
		if q.TenantID != "" && p.TenantID != q.TenantID {
			continue
		}
		if q.AfterID != "" && p.ID <= q.AfterID {
			continue
		}
		out = append(out, &p)
	}
	slices.SortFunc(out, func(a, b *promise.Promise) int { return strings.Compare(a.ID, b.ID) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}
