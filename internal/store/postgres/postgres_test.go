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
	"testing"
	"time"

	"github.com/collectops/collectops/internal/analytics"
	"github.com/collectops/collectops/internal/geo"
	"github.com/collectops/collectops/internal/loan"
	"github.com/collectops/collectops/internal/promise"
	"github.com/collectops/collectops/internal/route"
	"github.com/collectops/collectops/internal/store"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testNow  = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	testDate = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
)

func newMockDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return NewWithPool(mock), mock
}

var promiseCols = []string{
	"id", "tenant_id", "loan_id", "visit_id", "amount", "promised_date", "status",
	"cancel_reason", "created_by", "created_at", "resolved_at",
}

func promiseRow(rows *pgxmock.Rows, id, status string) *pgxmock.Rows {
	return rows.AddRow(
		id, "tenant-a", "loan-1", (*string)(nil), decimal.RequireFromString("150.00"), testDate, status,
		"", "collector-1", testNow, (*time.Time)(nil),
	)
}

// TestPurpose: Validates that the partial unique index on PENDING promises surfaces as a domain conflict.
// Scope: Repository Unit Test
// Expected: A unique violation on promises_one_pending_per_loan maps to ErrPendingPromiseExists.
// Test Case ID: PG-01
func TestPromiseRepository_Create_PendingConflict(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPromiseRepository(db)

	mock.ExpectExec("INSERT INTO promises").
		WillReturnError(&pgconn.PgError{Code: uniqueViolation, ConstraintName: pendingPromiseIndex})

	err := repo.Create(context.Background(), &promise.Promise{
		ID:           "p-2",
		TenantID:     "tenant-a",
		LoanID:       "loan-1",
		Amount:       decimal.NewFromInt(100),
		PromisedDate: testDate,
		Status:       promise.StatusPending,
		CreatedAt:    testNow,
	})
	assert.ErrorIs(t, err, promise.ErrPendingPromiseExists)
}

func TestPromiseRepository_Create_OtherErrorWrapped(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPromiseRepository(db)

	mock.ExpectExec("INSERT INTO promises").WillReturnError(errors.New("connection reset"))

	err := repo.Create(context.Background(), &promise.Promise{ID: "p-1", TenantID: "tenant-a", Status: promise.StatusPending})
	require.Error(t, err)
	assert.NotErrorIs(t, err, promise.ErrPendingPromiseExists)
	assert.Contains(t, err.Error(), "failed to create promise")
}

// TestPurpose: Validates the compare-and-swap contract of promise transitions.
// Scope: Repository Unit Test
// Expected: One affected row succeeds; zero rows is ErrInvalidTransition when the promise exists and ErrPromiseNotFound otherwise.
// Test Case ID: PG-02
func TestPromiseRepository_Transition(t *testing.T) {
	tr := promise.Transition{
		TenantID: "tenant-a",
		ID:       "p-1",
		From:     promise.StatusPending,
		To:       promise.StatusExpired,
		At:       testNow,
	}

	t.Run("applied", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec("UPDATE promises").
			WithArgs("tenant-a", "p-1", "PENDING", "EXPIRED", "", testNow).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, NewPromiseRepository(db).Transition(context.Background(), tr))
	})

	t.Run("already resolved", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec("UPDATE promises").WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("tenant-a", "p-1").
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

		err := NewPromiseRepository(db).Transition(context.Background(), tr)
		assert.ErrorIs(t, err, promise.ErrInvalidTransition)
	})

	t.Run("missing", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec("UPDATE promises").WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery("SELECT EXISTS").
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

		err := NewPromiseRepository(db).Transition(context.Background(), tr)
		assert.ErrorIs(t, err, promise.ErrPromiseNotFound)
	})
}

func TestPromiseRepository_ListDue(t *testing.T) {
	db, mock := newMockDB(t)

	rows := pgxmock.NewRows(promiseCols)
	promiseRow(rows, "p-1", "PENDING")
	promiseRow(rows, "p-2", "PENDING")
	mock.ExpectQuery("FROM promises").
		WithArgs(testDate, "", "p-0", 2).
		WillReturnRows(rows)

	got, err := NewPromiseRepository(db).ListDue(context.Background(), promise.DueQuery{
		Before:  testDate,
		AfterID: "p-0",
		Limit:   2,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "p-1", got[0].ID)
	assert.Equal(t, promise.StatusPending, got[1].Status)
	assert.True(t, got[0].Amount.Equal(decimal.RequireFromString("150")))
	assert.Nil(t, got[0].ResolvedAt)
}

func TestPromiseRepository_Get_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("FROM promises").WillReturnRows(pgxmock.NewRows(promiseCols))

	_, err := NewPromiseRepository(db).Get(context.Background(), "tenant-a", "nope")
	assert.ErrorIs(t, err, promise.ErrPromiseNotFound)
}

var candidateCols = []string{
	"id", "tenant_id", "client_id", "collector_id", "outstanding_balance",
	"days_past_due", "broken_promises", "last_contact_at", "status",
	"created_at", "updated_at", "latitude", "longitude",
}

func TestLoanRepository_ListCandidates(t *testing.T) {
	db, mock := newMockDB(t)

	lat, lng := 14.5995, 120.9842
	rows := pgxmock.NewRows(candidateCols).
		AddRow("loan-1", "tenant-a", "client-1", "collector-1", decimal.NewFromInt(5000),
			30, 1, (*time.Time)(nil), loan.StatusActive, testNow, testNow, &lat, &lng).
		AddRow("loan-2", "tenant-a", "client-2", "collector-1", decimal.NewFromInt(800),
			3, 0, &testNow, loan.StatusActive, testNow, testNow, (*float64)(nil), (*float64)(nil))
	mock.ExpectQuery("FROM loans l").
		WithArgs("tenant-a", "collector-1").
		WillReturnRows(rows)

	got, err := NewLoanRepository(db).ListCandidates(context.Background(), "tenant-a", "collector-1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.True(t, got[0].Routable())
	assert.Equal(t, geo.Coordinate{Latitude: lat, Longitude: lng}, *got[0].Location)
	assert.Nil(t, got[0].Loan.LastContactAt)

	assert.False(t, got[1].Routable())
	require.NotNil(t, got[1].Loan.LastContactAt)
	assert.Equal(t, 3, got[1].Loan.DaysPastDue)
}

func TestLoanRepository_CounterUpdates(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewLoanRepository(db)
	ctx := context.Background()

	mock.ExpectExec("broken_promises = broken_promises \\+ 1").
		WithArgs("tenant-a", "loan-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("broken_promises = 0").
		WithArgs("tenant-a", "loan-1", testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE loans SET last_contact_at").
		WithArgs("tenant-b", "loan-1", testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, repo.IncrementBrokenPromises(ctx, "tenant-a", "loan-1"))
	require.NoError(t, repo.ResetBrokenPromises(ctx, "tenant-a", "loan-1", testNow))
	assert.ErrorIs(t, repo.TouchContact(ctx, "tenant-b", "loan-1", testNow), loan.ErrLoanNotFound)
}

func TestLoanRepository_UpdateClientLocation_Invalid(t *testing.T) {
	db, _ := newMockDB(t)
	err := NewLoanRepository(db).UpdateClientLocation(context.Background(), "tenant-a", "client-1", geo.Coordinate{Latitude: 91})
	assert.ErrorIs(t, err, geo.ErrInvalidCoordinates)
}

// TestPurpose: Validates that repositories share one transaction through the context and that after-commit hooks follow the outcome.
// Scope: Repository Unit Test
// Expected: Nested WithinTx opens a single transaction; hooks run on commit and are discarded on rollback.
// Test Case ID: PG-03
func TestDB_WithinTx(t *testing.T) {
	t.Run("commit runs hooks once", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE loans").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		ran := 0
		err := db.WithinTx(context.Background(), func(ctx context.Context) error {
			return db.WithinTx(ctx, func(ctx context.Context) error {
				store.AfterCommit(ctx, func(context.Context) { ran++ })
				assert.Equal(t, 0, ran)
				return NewLoanRepository(db).IncrementBrokenPromises(ctx, "tenant-a", "loan-1")
			})
		})
		require.NoError(t, err)
		assert.Equal(t, 1, ran)
	})

	t.Run("rollback discards hooks", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := errors.New("boom")
		ran := false
		err := db.WithinTx(context.Background(), func(ctx context.Context) error {
			store.AfterCommit(ctx, func(context.Context) { ran = true })
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.False(t, ran)
	})

	t.Run("begin failure", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

		err := db.WithinTx(context.Background(), func(ctx context.Context) error {
			t.Fatal("fn must not run")
			return nil
		})
		assert.ErrorContains(t, err, "failed to begin transaction")
	})
}

func TestRouteRepository_Create_Duplicate(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO routes").
		WillReturnError(&pgconn.PgError{Code: uniqueViolation, ConstraintName: routeCollectorDateKey})
	mock.ExpectRollback()

	err := NewRouteRepository(db).Create(context.Background(), &route.Route{
		ID:           "r-1",
		TenantID:     "tenant-a",
		CollectorID:  "collector-1",
		BusinessDate: testDate,
		Status:       route.StatusDraft,
		Capacity:     5,
		Version:      1,
	})
	assert.ErrorIs(t, err, route.ErrDuplicateRoute)
}

func TestRouteRepository_Create_WithVisits(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO routes").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO visits").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO visits").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := NewRouteRepository(db).Create(context.Background(), &route.Route{
		ID:       "r-1",
		TenantID: "tenant-a",
		Status:   route.StatusDraft,
		Capacity: 2,
		Version:  1,
		Visits: []route.Visit{
			{ID: "v-1", RouteID: "r-1", LoanID: "loan-1", Sequence: 1, Status: route.VisitScheduled},
			{ID: "v-2", RouteID: "r-1", LoanID: "loan-2", Sequence: 2, Status: route.VisitScheduled},
		},
	})
	require.NoError(t, err)
}

var visitCols = []string{
	"id", "tenant_id", "route_id", "loan_id", "sequence", "status", "target_latitude", "target_longitude",
	"score", "outcome", "latitude", "longitude", "notes", "photo_url", "recorded_by", "scheduled_at", "visited_at",
}

func TestRouteRepository_Get(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("FROM routes").
		WithArgs("tenant-a", "r-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "tenant_id", "collector_id", "business_date", "status", "capacity",
			"start_latitude", "start_longitude", "version", "created_at", "updated_at", "completed_at",
		}).AddRow("r-1", "tenant-a", "collector-1", testDate, "ACTIVE", 3, 14.5, 121.0, 4, testNow, testNow, (*time.Time)(nil)))

	outcome := "PAID"
	lat, lng := 14.51, 121.01
	mock.ExpectQuery("FROM visits").
		WithArgs("tenant-a", "r-1").
		WillReturnRows(pgxmock.NewRows(visitCols).
			AddRow("v-1", "tenant-a", "r-1", "loan-1", 1, "VISITED", 14.5, 121.0,
				0.8, &outcome, &lat, &lng, "paid in cash", "", "collector-1", testNow, &testNow).
			AddRow("v-2", "tenant-a", "r-1", "loan-2", 2, "SCHEDULED", 14.6, 121.1,
				0.5, (*string)(nil), (*float64)(nil), (*float64)(nil), "", "", "", testNow, (*time.Time)(nil)))

	rt, err := NewRouteRepository(db).Get(context.Background(), "tenant-a", "r-1")
	require.NoError(t, err)
	assert.Equal(t, route.StatusActive, rt.Status)
	assert.Equal(t, 4, rt.Version)
	require.Len(t, rt.Visits, 2)
	assert.Equal(t, route.OutcomePaid, rt.Visits[0].Outcome)
	require.NotNil(t, rt.Visits[0].Location)
	assert.Equal(t, lat, rt.Visits[0].Location.Latitude)
	assert.Empty(t, rt.Visits[1].Outcome)
	assert.Nil(t, rt.Visits[1].Location)
	assert.Len(t, rt.Pending(), 1)
}

func TestRouteRepository_GetForUpdate_LocksRouteRow(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`FROM routes\s+WHERE tenant_id = \$1 AND id = \$2\s+FOR UPDATE`).
		WithArgs("tenant-a", "r-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "tenant_id", "collector_id", "business_date", "status", "capacity",
			"start_latitude", "start_longitude", "version", "created_at", "updated_at", "completed_at",
		}).AddRow("r-1", "tenant-a", "collector-1", testDate, "ACTIVE", 3, 14.5, 121.0, 2, testNow, testNow, (*time.Time)(nil)))
	mock.ExpectQuery("FROM visits").
		WithArgs("tenant-a", "r-1").
		WillReturnRows(pgxmock.NewRows(visitCols).
			AddRow("v-2", "tenant-a", "r-1", "loan-2", 2, "SCHEDULED", 14.6, 121.1,
				0.5, (*string)(nil), (*float64)(nil), (*float64)(nil), "", "", "", testNow, (*time.Time)(nil)))

	rt, err := NewRouteRepository(db).GetForUpdate(context.Background(), "tenant-a", "r-1")
	require.NoError(t, err)
	require.NotNil(t, rt.Visit("v-2"))
	assert.Nil(t, rt.Visit("v-9"))
}

func TestRouteRepository_RecordVisit_AlreadyRecorded(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE visits").WillReturnRows(pgxmock.NewRows([]string{"route_id"}))
	outcome := "REFUSED"
	mock.ExpectQuery("FROM visits").
		WithArgs("tenant-a", "v-1").
		WillReturnRows(pgxmock.NewRows(visitCols).
			AddRow("v-1", "tenant-a", "r-1", "loan-1", 1, "VISITED", 14.5, 121.0,
				0.8, &outcome, (*float64)(nil), (*float64)(nil), "", "", "collector-1", testNow, &testNow))
	mock.ExpectRollback()

	err := NewRouteRepository(db).RecordVisit(context.Background(), route.VisitRecord{
		TenantID: "tenant-a",
		VisitID:  "v-1",
		Outcome:  route.OutcomePaid,
		At:       testNow,
	})
	assert.ErrorIs(t, err, route.ErrAlreadyRecorded)
}

func TestRouteRepository_RecordVisit_BumpsVersion(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE visits").
		WillReturnRows(pgxmock.NewRows([]string{"route_id"}).AddRow("r-1"))
	mock.ExpectExec("UPDATE routes SET version = version \\+ 1").
		WithArgs("tenant-a", "r-1", testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := NewRouteRepository(db).RecordVisit(context.Background(), route.VisitRecord{
		TenantID: "tenant-a",
		VisitID:  "v-1",
		Outcome:  route.OutcomeNotHome,
		At:       testNow,
	})
	require.NoError(t, err)
}

func TestRouteRepository_Resequence_Stale(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE routes SET version").
		WithArgs("tenant-a", "r-1", 3, testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err := NewRouteRepository(db).Resequence(context.Background(), route.ResequenceInput{
		TenantID:        "tenant-a",
		RouteID:         "r-1",
		ExpectedVersion: 3,
		Placements:      []route.Placement{{VisitID: "v-2", Sequence: 3}},
		At:              testNow,
	})
	assert.ErrorIs(t, err, route.ErrStaleRoute)
}

func TestRouteRepository_CloseStale(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("SET status = 'COMPLETED'").
		WithArgs("", testDate, testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 4))

	n, err := NewRouteRepository(db).CloseStale(context.Background(), "", testDate, testNow)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestAnalyticsRepository_PromiseStats(t *testing.T) {
	db, mock := newMockDB(t)

	from := testDate.AddDate(0, 0, -7)
	mock.ExpectQuery("FROM promises").
		WillReturnRows(pgxmock.NewRows([]string{
			"pending", "fulfilled", "cancelled", "superseded", "expired",
			"promised", "fulfilled_amount", "fulfillment_days",
		}).AddRow(2, 5, 2, 1, 3, decimal.NewFromInt(1200), decimal.NewFromInt(500), 7.5))

	s, err := NewAnalyticsRepository(db).PromiseStats(context.Background(), "tenant-a", analytics.Window{From: &from})
	require.NoError(t, err)
	assert.Equal(t, 5, s.Fulfilled)
	assert.Equal(t, 1, s.Superseded)
	assert.True(t, s.PromisedAmount.Equal(decimal.NewFromInt(1200)))
	assert.InDelta(t, 7.5, s.FulfillmentDays, 1e-9)
}

func TestAnalyticsRepository_VisitOutcomes(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("FROM visits").
		WillReturnRows(pgxmock.NewRows([]string{"outcome", "count"}).
			AddRow("PAID", 3).
			AddRow("NOT_HOME", 2))

	got, err := NewAnalyticsRepository(db).VisitOutcomes(context.Background(), "tenant-a", analytics.Window{})
	require.NoError(t, err)
	assert.Equal(t, map[route.Outcome]int{route.OutcomePaid: 3, route.OutcomeNotHome: 2}, got)
}

func TestDB_Migrate_RequiresPool(t *testing.T) {
	db, _ := newMockDB(t)
	assert.Error(t, db.Migrate(context.Background()))
}
