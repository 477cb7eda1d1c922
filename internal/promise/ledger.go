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

package promise

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/collectops/collectops/internal/audit"
	"github.com/collectops/collectops/internal/clock"
	"github.com/collectops/collectops/internal/events"
	"github.com/collectops/collectops/internal/id"
	"github.com/collectops/collectops/internal/loan"
	"github.com/collectops/collectops/internal/observability/logger"
	"github.com/collectops/collectops/internal/observability/tracing"
	"github.com/collectops/collectops/internal/store"
	"github.com/shopspring/decimal"
)

// CreateInput is a request to record a new promise.
type CreateInput struct {
	TenantID     string
	LoanID       string
	VisitID      *string
	Amount       decimal.Decimal
	PromisedDate time.Time
	CreatedBy    string
}

// Ledger owns the promise state machine. Every mutation runs in a
// transaction; called with a context already inside one, it joins it.
type Ledger struct {
	repo      Repository
	loans     loan.Repository
	tx        store.Transactor
	publisher events.Publisher
	audit     audit.Logger
	settings
}

// NewLedger creates a new promise ledger
func NewLedger(
	repo Repository,
	loans loan.Repository,
	tx store.Transactor,
	publisher events.Publisher,
	auditLogger audit.Logger,
	opts ...Option,
) *Ledger {
	return &Ledger{
		repo:      repo,
		loans:     loans,
		tx:        tx,
		publisher: publisher,
		audit:     auditLogger,
		settings:  newSettings(opts),
	}
}

// Create records a PENDING promise. An existing PENDING promise for the same
// loan is cancelled with reason superseded in the same transaction.
func (l *Ledger) Create(ctx context.Context, in CreateInput) (*Promise, error) {
	if in.PromisedDate.IsZero() {
		return nil, ErrMissingDetails
	}
	if !in.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	ctx, span := tracing.Start(ctx, "promise.create", in.TenantID)
	var created, superseded *Promise

	err := l.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := l.loans.Get(ctx, in.TenantID, in.LoanID); err != nil {
			return err
		}

		now := l.now()
		old, err := l.repo.FindPending(ctx, in.TenantID, in.LoanID)
		switch {
		case err == nil:
			if err := l.repo.Transition(ctx, Transition{
				TenantID: in.TenantID,
				ID:       old.ID,
				From:     StatusPending,
				To:       StatusCancelled,
				Reason:   ReasonSuperseded,
				At:       now,
			}); err != nil {
				return fmt.Errorf("failed to supersede promise %s: %w", old.ID, err)
			}
			old.Status = StatusCancelled
			old.CancelReason = ReasonSuperseded
			old.ResolvedAt = &now
			superseded = old
		case errors.Is(err, ErrPromiseNotFound):
		default:
			return fmt.Errorf("failed to look up pending promise: %w", err)
		}

		p := &Promise{
			ID:           id.NewUUIDv7(),
			TenantID:     in.TenantID,
			LoanID:       in.LoanID,
			VisitID:      in.VisitID,
			Amount:       in.Amount,
			PromisedDate: clock.Date(in.PromisedDate),
			Status:       StatusPending,
			CreatedBy:    in.CreatedBy,
			CreatedAt:    now,
		}
		if err := l.repo.Create(ctx, p); err != nil {
			return err
		}
		created = p

		store.AfterCommit(ctx, func(ctx context.Context) {
			l.afterCreate(ctx, created, superseded)
		})
		return nil
	})
	tracing.End(span, err)
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (l *Ledger) afterCreate(ctx context.Context, p, superseded *Promise) {
	l.metrics.PromiseCreated(ctx, p.TenantID)

	if superseded != nil {
		l.audit.Log(ctx, audit.Event{
			Type:     audit.TypePromiseSuperseded,
			TenantID: p.TenantID,
			ActorID:  p.CreatedBy,
			Resource: superseded.ID,
			Metadata: map[string]any{"loan_id": p.LoanID, "superseded_by": p.ID},
		})
		l.publish(ctx, events.New(events.TypePromiseSuperseded, p.TenantID, map[string]any{
			"promise_id":    superseded.ID,
			"loan_id":       p.LoanID,
			"superseded_by": p.ID,
		}))
	}

	l.audit.Log(ctx, audit.Event{
		Type:     audit.TypePromiseCreated,
		TenantID: p.TenantID,
		ActorID:  p.CreatedBy,
		Resource: p.ID,
		Metadata: map[string]any{
			"loan_id":       p.LoanID,
			"amount":        p.Amount.StringFixed(2),
			"promised_date": p.PromisedDate.Format(time.DateOnly),
		},
	})
	l.publish(ctx, events.New(events.TypePromiseCreated, p.TenantID, promiseData(p)))
}

// MarkFulfilled moves a PENDING promise to FULFILLED and resets the loan's
// broken-promise counter.
func (l *Ledger) MarkFulfilled(ctx context.Context, tenantID, promiseID, actorID string) (*Promise, error) {
	return l.resolve(ctx, tenantID, promiseID, actorID, StatusFulfilled, "", func(ctx context.Context, p *Promise, at time.Time) error {
		if err := l.loans.ResetBrokenPromises(ctx, tenantID, p.LoanID, at); err != nil {
			return fmt.Errorf("failed to reset broken promises for loan %s: %w", p.LoanID, err)
		}
		return nil
	})
}

// Cancel moves a PENDING promise to CANCELLED.
func (l *Ledger) Cancel(ctx context.Context, tenantID, promiseID, actorID string) (*Promise, error) {
	return l.resolve(ctx, tenantID, promiseID, actorID, StatusCancelled, ReasonCancelled, nil)
}

func (l *Ledger) resolve(
	ctx context.Context,
	tenantID, promiseID, actorID string,
	to Status,
	reason string,
	sideEffect func(ctx context.Context, p *Promise, at time.Time) error,
) (*Promise, error) {
	ctx, span := tracing.Start(ctx, "promise.resolve", tenantID)
	var resolved *Promise

	err := l.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := l.repo.Get(ctx, tenantID, promiseID)
		if err != nil {
			return err
		}
		if p.Status != StatusPending {
			return ErrInvalidTransition.WithMessage("promise is %s", p.Status)
		}

		now := l.now()
		if err := l.repo.Transition(ctx, Transition{
			TenantID: tenantID,
			ID:       promiseID,
			From:     StatusPending,
			To:       to,
			Reason:   reason,
			At:       now,
		}); err != nil {
			return err
		}
		if sideEffect != nil {
			if err := sideEffect(ctx, p, now); err != nil {
				return err
			}
		}

		p.Status = to
		p.CancelReason = reason
		p.ResolvedAt = &now
		resolved = p

		store.AfterCommit(ctx, func(ctx context.Context) {
			l.afterResolve(ctx, resolved, actorID)
		})
		return nil
	})
	tracing.End(span, err)
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

func (l *Ledger) afterResolve(ctx context.Context, p *Promise, actorID string) {
	auditType, eventType := audit.TypePromiseCancelled, events.TypePromiseCancelled
	if p.Status == StatusFulfilled {
		auditType, eventType = audit.TypePromiseFulfilled, events.TypePromiseFulfilled
	}

	l.audit.Log(ctx, audit.Event{
		Type:     auditType,
		TenantID: p.TenantID,
		ActorID:  actorID,
		Resource: p.ID,
		Metadata: map[string]any{"loan_id": p.LoanID, "amount": p.Amount.StringFixed(2)},
	})
	l.publish(ctx, events.New(eventType, p.TenantID, promiseData(p)))
}

// Get returns a promise by ID
func (l *Ledger) Get(ctx context.Context, tenantID, promiseID string) (*Promise, error) {
	return l.repo.Get(ctx, tenantID, promiseID)
}

// ListByLoan returns a loan's promises, newest first
func (l *Ledger) ListByLoan(ctx context.Context, tenantID, loanID string) ([]*Promise, error) {
	if _, err := l.loans.Get(ctx, tenantID, loanID); err != nil {
		return nil, err
	}
	return l.repo.ListByLoan(ctx, tenantID, loanID)
}

func (l *Ledger) publish(ctx context.Context, evt events.Event) {
	if err := l.publisher.Publish(ctx, evt); err != nil {
		slog.WarnContext(ctx, "failed to publish promise event",
			logger.TenantID(evt.TenantID),
			slog.String("event_type", evt.Type),
			logger.Error(err),
		)
	}
}

func promiseData(p *Promise) map[string]any {
	data := map[string]any{
		"promise_id":    p.ID,
		"loan_id":       p.LoanID,
		"amount":        p.Amount.String(),
		"promised_date": p.PromisedDate.Format(time.DateOnly),
		"status":        string(p.Status),
	}
	if p.VisitID != nil {
		data["visit_id"] = *p.VisitID
	}
	return data
}
