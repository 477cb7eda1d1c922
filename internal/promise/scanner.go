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
	"github.com/collectops/collectops/internal/loan"
	"github.com/collectops/collectops/internal/observability/logger"
	"github.com/collectops/collectops/internal/observability/tracing"
	"github.com/collectops/collectops/internal/store"
)

// SweepResult summarises one expiry sweep.
// Skipped counts promises another sweep resolved first.
type SweepResult struct {
	Expired    int       `json:"expired"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	ExecutedAt time.Time `json:"executedAt"`
}

// Scanner expires overdue promises and feeds the broken-promise counter.
type Scanner struct {
	repo      Repository
	loans     loan.Repository
	tx        store.Transactor
	publisher events.Publisher
	audit     audit.Logger
	settings
}

func NewScanner(
	repo Repository,
	loans loan.Repository,
	tx store.Transactor,
	publisher events.Publisher,
	auditLogger audit.Logger,
	opts ...Option,
) *Scanner {
	return &Scanner{
		repo:      repo,
		loans:     loans,
		tx:        tx,
		publisher: publisher,
		audit:     auditLogger,
		settings:  newSettings(opts),
	}
}

// CheckExpiredPromises expires every PENDING promise whose promised date is
// before today's business date (UTC), scoped to tenantID or to all tenants
// when it is empty. Each promise is expired in its own transaction guarded by
// a status compare-and-swap, so overlapping sweeps never double count.
// Per-promise failures are logged and counted; only a failed page read or a
// cancelled context stops the sweep early.
func (s *Scanner) CheckExpiredPromises(ctx context.Context, tenantID string) (SweepResult, error) {
	started := time.Now()
	executedAt := s.now()
	result := SweepResult{ExecutedAt: executedAt}

	ctx, span := tracing.Start(ctx, "promise.sweep", tenantID)
	err := s.sweep(ctx, tenantID, clock.Date(executedAt), &result)
	tracing.End(span, err)

	s.metrics.SweepFinished(ctx, result.Expired, result.Failed, time.Since(started).Seconds())
	slog.InfoContext(ctx, "expiry sweep finished",
		logger.TenantID(tenantID),
		logger.Count("expired", result.Expired),
		logger.Count("failed", result.Failed),
		logger.Count("skipped", result.Skipped),
		logger.Duration(time.Since(started).Milliseconds()),
	)
	s.audit.Log(ctx, audit.Event{
		Type:     audit.TypeExpirySweepRun,
		TenantID: tenantID,
		ActorID:  audit.ActorSystem,
		Resource: "promises",
		Metadata: map[string]any{
			"expired": result.Expired,
			"failed":  result.Failed,
			"skipped": result.Skipped,
		},
	})

	return result, err
}

func (s *Scanner) sweep(ctx context.Context, tenantID string, cutoff time.Time, result *SweepResult) error {
	afterID := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := s.repo.ListDue(ctx, DueQuery{
			TenantID: tenantID,
			Before:   cutoff,
			AfterID:  afterID,
			Limit:    s.batchSize,
		})
		if err != nil {
			return fmt.Errorf("failed to list due promises: %w", err)
		}

		for _, p := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			afterID = p.ID

			err := s.expire(ctx, p, result.ExecutedAt)
			switch {
			case err == nil:
				result.Expired++
			case errors.Is(err, ErrInvalidTransition):
				result.Skipped++
			default:
				result.Failed++
				slog.ErrorContext(ctx, "failed to expire promise",
					logger.TenantID(p.TenantID),
					logger.PromiseID(p.ID),
					logger.LoanID(p.LoanID),
					logger.Error(err),
				)
			}
		}

		if len(batch) < s.batchSize {
			return nil
		}
	}
}

func (s *Scanner) expire(ctx context.Context, p *Promise, at time.Time) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Transition(ctx, Transition{
			TenantID: p.TenantID,
			ID:       p.ID,
			From:     StatusPending,
			To:       StatusExpired,
			At:       at,
		}); err != nil {
			return err
		}
		if err := s.loans.IncrementBrokenPromises(ctx, p.TenantID, p.LoanID); err != nil {
			return fmt.Errorf("failed to increment broken promises for loan %s: %w", p.LoanID, err)
		}

		store.AfterCommit(ctx, func(ctx context.Context) {
			s.afterExpire(ctx, p)
		})
		return nil
	})
}

func (s *Scanner) afterExpire(ctx context.Context, p *Promise) {
	s.audit.Log(ctx, audit.Event{
		Type:     audit.TypePromiseExpired,
		TenantID: p.TenantID,
		ActorID:  audit.ActorSystem,
		Resource: p.ID,
		Metadata: map[string]any{"loan_id": p.LoanID, "promised_date": p.PromisedDate.Format(time.DateOnly)},
	})

	expired := events.New(events.TypePromiseExpired, p.TenantID, map[string]any{
		"promise_id":    p.ID,
		"loan_id":       p.LoanID,
		"promised_date": p.PromisedDate.Format(time.DateOnly),
	})
	reprioritized := events.New(events.TypeLoanReprioritized, p.TenantID, map[string]any{
		"loan_id": p.LoanID,
		"reason":  "promise_expired",
	})
	for _, evt := range []events.Event{expired, reprioritized} {
		if err := s.publisher.Publish(ctx, evt); err != nil {
			slog.WarnContext(ctx, "failed to publish expiry event",
				logger.PromiseID(p.ID),
				slog.String("event_type", evt.Type),
				logger.Error(err),
			)
		}
	}
}
