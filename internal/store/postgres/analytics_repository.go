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
	"fmt"

	"github.com/collectops/collectops/internal/analytics"
	"github.com/collectops/collectops/internal/route"
)

// AnalyticsRepository implements analytics.Repository
type AnalyticsRepository struct {
	db *DB
}

var _ analytics.Repository = (*AnalyticsRepository)(nil)

// NewAnalyticsRepository creates a new analytics repository
func NewAnalyticsRepository(db *DB) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

// PromiseStats counts promises created inside the window by status
func (r *AnalyticsRepository) PromiseStats(ctx context.Context, tenantID string, w analytics.Window) (analytics.PromiseStats, error) {
	var s analytics.PromiseStats
	err := r.db.q(ctx).QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE status = 'PENDING'),
			count(*) FILTER (WHERE status = 'FULFILLED'),
			count(*) FILTER (WHERE status = 'CANCELLED'),
			count(*) FILTER (WHERE status = 'CANCELLED' AND cancel_reason = 'superseded'),
			count(*) FILTER (WHERE status = 'EXPIRED'),
			COALESCE(sum(amount), 0),
			COALESCE(sum(amount) FILTER (WHERE status = 'FULFILLED'), 0),
			COALESCE(sum(EXTRACT(EPOCH FROM resolved_at - created_at) / 86400)
				FILTER (WHERE status = 'FULFILLED' AND resolved_at IS NOT NULL), 0)::float8
		FROM promises
		WHERE tenant_id = $1
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at < $3)
	`, tenantID, w.From, w.To).Scan(
		&s.Pending, &s.Fulfilled, &s.Cancelled, &s.Superseded, &s.Expired,
		&s.PromisedAmount, &s.FulfilledAmount, &s.FulfillmentDays,
	)
	if err != nil {
		return analytics.PromiseStats{}, fmt.Errorf("failed to aggregate promises: %w", err)
	}
	return s, nil
}

// VisitOutcomes counts recorded visits inside the window by outcome
func (r *AnalyticsRepository) VisitOutcomes(ctx context.Context, tenantID string, w analytics.Window) (map[route.Outcome]int, error) {
	rows, err := r.db.q(ctx).Query(ctx, `
		SELECT outcome, count(*)
		FROM visits
		WHERE tenant_id = $1
		  AND status = 'VISITED'
		  AND ($2::timestamptz IS NULL OR visited_at >= $2)
		  AND ($3::timestamptz IS NULL OR visited_at < $3)
		GROUP BY outcome
	`, tenantID, w.From, w.To)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate visits: %w", err)
	}
	defer rows.Close()

	out := make(map[route.Outcome]int)
	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("failed to scan visit outcome: %w", err)
		}
		out[route.Outcome(outcome)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to aggregate visits: %w", err)
	}
	return out, nil
}
