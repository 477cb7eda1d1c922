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
	"github.com/collectops/collectops/internal/route"
	"github.com/jackc/pgx/v5"
)

const (
	routeCollectorDateKey = "routes_collector_date_key"
	visitRouteLoanKey     = "visits_route_loan_key"
)

// RouteRepository implements route.Repository
type RouteRepository struct {
	db *DB
}

var _ route.Repository = (*RouteRepository)(nil)

// NewRouteRepository creates a new route repository
func NewRouteRepository(db *DB) *RouteRepository {
	return &RouteRepository{db: db}
}

const routeColumns = `
	id, tenant_id, collector_id, business_date, status, capacity,
	start_latitude, start_longitude, version, created_at, updated_at, completed_at`

const visitColumns = `
	id, tenant_id, route_id, loan_id, sequence, status, target_latitude, target_longitude,
	score, outcome, latitude, longitude, notes, photo_url, recorded_by, scheduled_at, visited_at`

func scanRoute(row pgx.Row) (*route.Route, error) {
	var (
		rt     route.Route
		status string
	)
	err := row.Scan(
		&rt.ID, &rt.TenantID, &rt.CollectorID, &rt.BusinessDate, &status, &rt.Capacity,
		&rt.Start.Latitude, &rt.Start.Longitude, &rt.Version, &rt.CreatedAt, &rt.UpdatedAt, &rt.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	rt.Status = route.Status(status)
	return &rt, nil
}

func scanVisit(row pgx.Row) (*route.Visit, error) {
	var (
		v        route.Visit
		status   string
		outcome  *string
		lat, lng *float64
	)
	err := row.Scan(
		&v.ID, &v.TenantID, &v.RouteID, &v.LoanID, &v.Sequence, &status, &v.Target.Latitude, &v.Target.Longitude,
		&v.Score, &outcome, &lat, &lng, &v.Notes, &v.PhotoURL, &v.RecordedBy, &v.ScheduledAt, &v.VisitedAt,
	)
	if err != nil {
		return nil, err
	}
	v.Status = route.VisitStatus(status)
	if outcome != nil {
		v.Outcome = route.Outcome(*outcome)
	}
	if lat != nil && lng != nil {
		v.Location = &geo.Coordinate{Latitude: *lat, Longitude: *lng}
	}
	return &v, nil
}

func nullableOutcome(o route.Outcome) *string {
	if o == "" {
		return nil
	}
	s := string(o)
	return &s
}

func splitLocation(c *geo.Coordinate) (lat, lng *float64) {
	if c == nil {
		return nil, nil
	}
	return &c.Latitude, &c.Longitude
}

// Create stores the route and its visits in one transaction
func (r *RouteRepository) Create(ctx context.Context, rt *route.Route) error {
	return r.db.WithinTx(ctx, func(ctx context.Context) error {
		q := r.db.q(ctx)
		_, err := q.Exec(ctx, `
			INSERT INTO routes (
				id, tenant_id, collector_id, business_date, status, capacity,
				start_latitude, start_longitude, version, created_at, updated_at, completed_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`,
			rt.ID, rt.TenantID, rt.CollectorID, rt.BusinessDate, string(rt.Status), rt.Capacity,
			rt.Start.Latitude, rt.Start.Longitude, rt.Version, rt.CreatedAt, rt.UpdatedAt, rt.CompletedAt,
		)
		if err != nil {
			if isUniqueViolation(err, routeCollectorDateKey) {
				return route.ErrDuplicateRoute
			}
			return fmt.Errorf("failed to create route: %w", err)
		}

		for i := range rt.Visits {
			if err := insertVisit(ctx, q, &rt.Visits[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertVisit(ctx context.Context, q querier, v *route.Visit) error {
	lat, lng := splitLocation(v.Location)
	_, err := q.Exec(ctx, `
		INSERT INTO visits (
			id, tenant_id, route_id, loan_id, sequence, status, target_latitude, target_longitude,
			score, outcome, latitude, longitude, notes, photo_url, recorded_by, scheduled_at, visited_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		v.ID, v.TenantID, v.RouteID, v.LoanID, v.Sequence, string(v.Status), v.Target.Latitude, v.Target.Longitude,
		v.Score, nullableOutcome(v.Outcome), lat, lng, v.Notes, v.PhotoURL, v.RecordedBy, v.ScheduledAt, v.VisitedAt,
	)
	if err != nil {
		if isUniqueViolation(err, visitRouteLoanKey) {
			return route.ErrDuplicateStop
		}
		return fmt.Errorf("failed to create visit: %w", err)
	}
	return nil
}

// Get retrieves a route with its visits in sequence order
func (r *RouteRepository) Get(ctx context.Context, tenantID, routeID string) (*route.Route, error) {
	return r.getOne(ctx, `
		SELECT `+routeColumns+`
		FROM routes
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, routeID)
}

// GetForUpdate retrieves a route and holds its row lock until the
// transaction ends. Visits are read after the lock is granted, so they
// reflect every write committed by the previous holder.
func (r *RouteRepository) GetForUpdate(ctx context.Context, tenantID, routeID string) (*route.Route, error) {
	return r.getOne(ctx, `
		SELECT `+routeColumns+`
		FROM routes
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`, tenantID, routeID)
}

// GetByCollectorDate retrieves a collector's route for one business date
func (r *RouteRepository) GetByCollectorDate(ctx context.Context, tenantID, collectorID string, date time.Time) (*route.Route, error) {
	return r.getOne(ctx, `
		SELECT `+routeColumns+`
		FROM routes
		WHERE tenant_id = $1 AND collector_id = $2 AND business_date = $3
	`, tenantID, collectorID, date)
}

func (r *RouteRepository) getOne(ctx context.Context, sql string, args ...any) (*route.Route, error) {
	q := r.db.q(ctx)
	rt, err := scanRoute(q.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, route.ErrRouteNotFound
		}
		return nil, fmt.Errorf("failed to get route: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT `+visitColumns+`
		FROM visits
		WHERE tenant_id = $1 AND route_id = $2
		ORDER BY sequence
	`, rt.TenantID, rt.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list visits: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan visit: %w", err)
		}
		rt.Visits = append(rt.Visits, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list visits: %w", err)
	}
	return rt, nil
}

// UpdateStatus moves a route from one status to another
func (r *RouteRepository) UpdateStatus(ctx context.Context, tenantID, routeID string, from, to route.Status, at time.Time) error {
	tag, err := r.db.q(ctx).Exec(ctx, `
		UPDATE routes
		SET status = $4,
		    version = version + 1,
		    updated_at = $5,
		    completed_at = CASE WHEN $4 = 'COMPLETED' THEN $5 ELSE completed_at END
		WHERE tenant_id = $1 AND id = $2 AND status = $3
	`, tenantID, routeID, string(from), string(to), at)
	if err != nil {
		return fmt.Errorf("failed to update route status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return r.missOrStale(ctx, tenantID, routeID)
}

func (r *RouteRepository) missOrStale(ctx context.Context, tenantID, routeID string) error {
	var exists bool
	if err := r.db.q(ctx).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM routes WHERE tenant_id = $1 AND id = $2)
	`, tenantID, routeID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check route: %w", err)
	}
	if !exists {
		return route.ErrRouteNotFound
	}
	return route.ErrStaleRoute
}

// Resequence bumps the route version if it still equals in.ExpectedVersion,
// then rewrites pending sequence numbers and inserts new stops. The sequence
// uniqueness constraint is deferred to commit.
func (r *RouteRepository) Resequence(ctx context.Context, in route.ResequenceInput) error {
	return r.db.WithinTx(ctx, func(ctx context.Context) error {
		q := r.db.q(ctx)
		tag, err := q.Exec(ctx, `
			UPDATE routes SET version = version + 1, updated_at = $4
			WHERE tenant_id = $1 AND id = $2 AND version = $3
		`, in.TenantID, in.RouteID, in.ExpectedVersion, in.At)
		if err != nil {
			return fmt.Errorf("failed to lock route version: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return r.missOrStale(ctx, in.TenantID, in.RouteID)
		}

		for _, pl := range in.Placements {
			tag, err := q.Exec(ctx, `
				UPDATE visits SET sequence = $3
				WHERE route_id = $1 AND id = $2 AND status = 'SCHEDULED'
			`, in.RouteID, pl.VisitID, pl.Sequence)
			if err != nil {
				return fmt.Errorf("failed to resequence visit: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return route.ErrStaleRoute
			}
		}

		for i := range in.Insert {
			if err := insertVisit(ctx, q, &in.Insert[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetVisit retrieves a single visit
func (r *RouteRepository) GetVisit(ctx context.Context, tenantID, visitID string) (*route.Visit, error) {
	v, err := scanVisit(r.db.q(ctx).QueryRow(ctx, `
		SELECT `+visitColumns+`
		FROM visits
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, visitID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, route.ErrVisitNotFound
		}
		return nil, fmt.Errorf("failed to get visit: %w", err)
	}
	return v, nil
}

// RecordVisit writes an outcome to a SCHEDULED visit and bumps its route version
func (r *RouteRepository) RecordVisit(ctx context.Context, rec route.VisitRecord) error {
	return r.db.WithinTx(ctx, func(ctx context.Context) error {
		q := r.db.q(ctx)
		lat, lng := splitLocation(rec.Location)

		var routeID string
		err := q.QueryRow(ctx, `
			UPDATE visits
			SET status = 'VISITED', outcome = $3, latitude = $4, longitude = $5,
			    notes = $6, photo_url = $7, recorded_by = $8, visited_at = $9
			WHERE tenant_id = $1 AND id = $2 AND status = 'SCHEDULED'
			RETURNING route_id
		`, rec.TenantID, rec.VisitID, string(rec.Outcome), lat, lng,
			rec.Notes, rec.PhotoURL, rec.RecordedBy, rec.At,
		).Scan(&routeID)
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("failed to record visit: %w", err)
			}
			if _, err := r.GetVisit(ctx, rec.TenantID, rec.VisitID); err != nil {
				return err
			}
			return route.ErrAlreadyRecorded
		}

		if _, err := q.Exec(ctx, `
			UPDATE routes SET version = version + 1, updated_at = $3
			WHERE tenant_id = $1 AND id = $2
		`, rec.TenantID, routeID, rec.At); err != nil {
			return fmt.Errorf("failed to bump route version: %w", err)
		}
		return nil
	})
}

// CloseStale completes every open route dated before the given business date.
// An empty tenantID spans all tenants.
func (r *RouteRepository) CloseStale(ctx context.Context, tenantID string, before, at time.Time) (int, error) {
	tag, err := r.db.q(ctx).Exec(ctx, `
		UPDATE routes
		SET status = 'COMPLETED', completed_at = $3, updated_at = $3, version = version + 1
		WHERE ($1 = '' OR tenant_id = $1)
		  AND status <> 'COMPLETED'
		  AND business_date < $2
	`, tenantID, before, at)
	if err != nil {
		return 0, fmt.Errorf("failed to close stale routes: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
