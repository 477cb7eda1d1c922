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

	"github.com/collectops/collectops/internal/analytics"
	"github.com/collectops/collectops/internal/promise"
	"github.com/collectops/collectops/internal/route"
	"github.com/shopspring/decimal"
)

// AnalyticsRepository implements analytics.Repository
type AnalyticsRepository struct {
	s *Store
}

var _ analytics.Repository = (*AnalyticsRepository)(nil)

// Analytics returns the analytics view of the store.
func (s *Store) Analytics() *AnalyticsRepository {
	return &AnalyticsRepository{s: s}
}

func (r *AnalyticsRepository) PromiseStats(ctx context.Context, tenantID string, w analytics.Window) (analytics.PromiseStats, error) {
	defer r.s.lock(ctx)()
	stats := analytics.PromiseStats{PromisedAmount: decimal.Zero, FulfilledAmount: decimal.Zero}
	for _, p := range r.s.promises {
		if p.TenantID != tenantID || !w.Contains(p.CreatedAt) {
			continue
		}
		stats.PromisedAmount = stats.PromisedAmount.Add(p.Amount)
		switch p.Status {
		case promise.StatusPending:
			stats.Pending++
		case promise.StatusFulfilled:
			stats.Fulfilled++
			stats.FulfilledAmount = stats.FulfilledAmount.Add(p.Amount)
			if p.ResolvedAt != nil {
				stats.FulfillmentDays += p.ResolvedAt.Sub(p.CreatedAt).Hours() / 24
			}
		case promise.StatusCancelled:
			stats.Cancelled++
			if p.CancelReason == promise.ReasonSuperseded {
				stats.Superseded++
			}
		case promise.StatusExpired:
			stats.Expired++
		}
	}
	return stats, nil
}

func (r *AnalyticsRepository) VisitOutcomes(ctx context.Context, tenantID string, w analytics.Window) (map[route.Outcome]int, error) {
	defer r.s.lock(ctx)()
	out := make(map[route.Outcome]int)
	for _, v := range r.s.visits {
		if v.TenantID != tenantID || v.Status != route.VisitVisited || v.VisitedAt == nil || !w.Contains(*v.VisitedAt) {
			continue
		}
		out[v.Outcome]++
	}
	return out, nil
}
