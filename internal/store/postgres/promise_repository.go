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

	"github.com/collectops/collectops/internal/promise"
	"github.com/jackc/pgx/v5"
)

const pendingPromiseIndex = "promises_one_pending_per_loan"

// PromiseRepository implements promise.Repository
type PromiseRepository struct {
	db *DB
}

var _ promise.Repository = (*PromiseRepository)(nil)

// NewPromiseRepository creates a new promise repository
func NewPromiseRepository(db *DB) *PromiseRepository {
	return &PromiseRepository{db: db}
}

const promiseColumns = `
	id, tenant_id, loan_id, visit_id, amount, promised_date, status,
	cancel_reason, created_by, created_at, resolved_at`

func scanPromise(row pgx.Row) (*promise.Promise, error) {
	var (
		p      promise.Promise
		status string
	)
	err := row.Scan(
		&p.ID, &p.TenantID, &p.LoanID, &p.VisitID, &p.Amount, &p.PromisedDate, &status,
		&p.CancelReason, &p.CreatedBy, &p.CreatedAt, &p.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = promise.Status(status)
	return &p, nil
}

func collectPromises(rows pgx.Rows) ([]*promise.Promise, error) {
	defer rows.Close()
	var out []*promise.Promise
	for rows.Next() {
		p, err := scanPromise(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan promise: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Create inserts a promise. The partial unique index on PENDING promises
// rejects a second open promise for the same loan.
func (r *PromiseRepository) Create(ctx context.Context, p *promise.Promise) error {
	_, err := r.db.q(ctx).Exec(ctx, `
		INSERT INTO promises (
			id, tenant_id, loan_id, visit_id, amount, promised_date, status,
			cancel_reason, created_by, created_at, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		p.ID, p.TenantID, p.LoanID, p.VisitID, p.Amount, p.PromisedDate, string(p.Status),
		p.CancelReason, p.CreatedBy, p.CreatedAt, p.ResolvedAt,
	)
	if err != nil {
		if isUniqueViolation(err, pendingPromiseIndex) {
			return promise.ErrPendingPromiseExists
		}
		return fmt.Errorf("failed to create promise: %w", err)
	}
	return nil
}

// Get retrieves a promise by ID
func (r *PromiseRepository) Get(ctx context.Context, tenantID, id string) (*promise.Promise, error) {
	p, err := scanPromise(r.db.q(ctx).QueryRow(ctx, `
		SELECT `+promiseColumns+`
		FROM promises
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promise.ErrPromiseNotFound
		}
		return nil, fmt.Errorf("failed to get promise: %w", err)
	}
	return p, nil
}

// FindPending retrieves the open promise of a loan. Inside a transaction the
// row is locked so a concurrent supersession waits.
func (r *PromiseRepository) FindPending(ctx context.Context, tenantID, loanID string) (*promise.Promise, error) {
	p, err := scanPromise(r.db.q(ctx).QueryRow(ctx, `
		SELECT `+promiseColumns+`
		FROM promises
		WHERE tenant_id = $1 AND loan_id = $2 AND status = 'PENDING'
		FOR UPDATE
	`, tenantID, loanID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promise.ErrPromiseNotFound
		}
		return nil, fmt.Errorf("failed to find pending promise: %w", err)
	}
	return p, nil
}

// ListByLoan lists a loan's promises, newest first
func (r *PromiseRepository) ListByLoan(ctx context.Context, tenantID, loanID string) ([]*promise.Promise, error) {
	rows, err := r.db.q(ctx).Query(ctx, `
		SELECT `+promiseColumns+`
		FROM promises
		WHERE tenant_id = $1 AND loan_id = $2
		ORDER BY id DESC
	`, tenantID, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to list promises: %w", err)
	}
	out, err := collectPromises(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list promises: %w", err)
	}
	return out, nil
}

// Transition moves a promise from t.From to t.To in a single conditional
// update. A promise that exists but is no longer in t.From yields
// ErrInvalidTransition.
func (r *PromiseRepository) Transition(ctx context.Context, t promise.Transition) error {
	q := r.db.q(ctx)
	tag, err := q.Exec(ctx, `
		UPDATE promises
		SET status = $4, cancel_reason = $5, resolved_at = $6
		WHERE tenant_id = $1 AND id = $2 AND status = $3
	`, t.TenantID, t.ID, string(t.From), string(t.To), t.Reason, t.At)
	if err != nil {
		return fmt.Errorf("failed to transition promise: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := q.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM promises WHERE tenant_id = $1 AND id = $2)
	`, t.TenantID, t.ID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check promise: %w", err)
	}
	if !exists {
		return promise.ErrPromiseNotFound
	}
	return promise.ErrInvalidTransition
}

// ListDue pages PENDING promises due before q.Before in id order
func (r *PromiseRepository) ListDue(ctx context.Context, q promise.DueQuery) ([]*promise.Promise, error) {
	rows, err := r.db.q(ctx).Query(ctx, `
		SELECT `+promiseColumns+`
		FROM promises
		WHERE status = 'PENDING'
		  AND promised_date < $1
		  AND ($2 = '' OR tenant_id = $2)
		  AND id > $3
		ORDER BY id
		LIMIT NULLIF($4, 0)
	`, q.Before, q.TenantID, q.AfterID, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due promises: %w", err)
	}
	out, err := collectPromises(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list due promises: %w", err)
	}
	return out, nil
}
