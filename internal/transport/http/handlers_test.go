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

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/collectops/collectops/internal/analytics"
	"github.com/collectops/collectops/internal/apperr"
	"github.com/collectops/collectops/internal/audit"
	"github.com/collectops/collectops/internal/auth"
	"github.com/collectops/collectops/internal/clock"
	"github.com/collectops/collectops/internal/events"
	"github.com/collectops/collectops/internal/geo"
	"github.com/collectops/collectops/internal/loan"
	"github.com/collectops/collectops/internal/promise"
	"github.com/collectops/collectops/internal/route"
	"github.com/collectops/collectops/internal/scoring"
	"github.com/collectops/collectops/internal/store/memory"
	"github.com/collectops/collectops/internal/visit"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTenant    = "tenant-1"
	testCollector = "collector-1"
	testSecret    = "test-jwt-secret-at-least-32-bytes-long"
	testCron      = "cron-secret"
)

var (
	testNow   = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	testDepot = geo.Coordinate{Latitude: 14.60, Longitude: 121.00}
)

type recordingAudit struct {
	events []audit.Event
}

func (r *recordingAudit) Log(_ context.Context, e audit.Event) {
	r.events = append(r.events, e)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

type testServer struct {
	t        *testing.T
	store    *memory.Store
	verifier *auth.Verifier
	audit    *recordingAudit
	router   http.Handler
}

func newTestServer(t *testing.T, opts Options, rl *RateLimiter) *testServer {
	t.Helper()
	s := memory.New()
	c := clock.Fixed(testNow)

	scorer, err := scoring.New(scoring.DefaultWeights())
	require.NoError(t, err)
	verifier, err := auth.NewVerifier([]byte(testSecret), "collectops-test", c)
	require.NoError(t, err)

	ledger := promise.NewLedger(s.Promises(), s.Loans(), s, events.Nop{}, audit.Nop{}, promise.WithClock(c))
	svc := Services{
		Planner:    route.NewPlanner(s.Routes(), s.Loans(), scorer, s, events.Nop{}, audit.Nop{}, route.WithClock(c)),
		Tracker:    visit.NewTracker(s.Routes(), s.Loans(), ledger, s, events.Nop{}, audit.Nop{}, visit.WithClock(c)),
		Ledger:     ledger,
		Scanner:    promise.NewScanner(s.Promises(), s.Loans(), s, events.Nop{}, audit.Nop{}, promise.WithClock(c)),
		Aggregator: analytics.NewAggregator(s.Analytics(), c),
		Loans:      s.Loans(),
	}

	rec := &recordingAudit{}
	opts.CronSecret = testCron
	opts.Clock = c
	h := NewHandler(svc, verifier, rec, opts)

	ts := &testServer{t: t, store: s, verifier: verifier, audit: rec, router: NewRouter(h, rl)}
	for i, id := range []string{"loan-1", "loan-2", "loan-3"} {
		ts.addLoan(id, float64(i+1))
	}
	return ts
}

func (ts *testServer) addLoan(id string, northKm float64) {
	ts.store.PutClient(loan.Client{
		ID:       "client-" + id,
		TenantID: testTenant,
		Location: &geo.Coordinate{Latitude: testDepot.Latitude + northKm/111.0, Longitude: testDepot.Longitude},
	})
	ts.store.PutLoan(loan.Loan{
		ID:                 id,
		TenantID:           testTenant,
		ClientID:           "client-" + id,
		CollectorID:        testCollector,
		DaysPastDue:        30,
		OutstandingBalance: decimal.NewFromInt(5000),
		Status:             loan.StatusActive,
	})
}

func (ts *testServer) token(userID, role string) string {
	ts.t.Helper()
	tok, err := ts.verifier.Issue(auth.Principal{TenantID: testTenant, UserID: userID, Role: role}, time.Hour)
	require.NoError(ts.t, err)
	return tok
}

func (ts *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) planRoute() route.Route {
	ts.t.Helper()
	rec := ts.do(http.MethodPost, "/api/v1/routes", ts.token(testCollector, auth.RoleCollector), map[string]any{
		"collectorId":    testCollector,
		"businessDate":   "2026-03-10",
		"startLatitude":  testDepot.Latitude,
		"startLongitude": testDepot.Longitude,
	})
	require.Equal(ts.t, http.StatusCreated, rec.Code, rec.Body.String())
	var r route.Route
	require.NoError(ts.t, json.Unmarshal(rec.Body.Bytes(), &r))
	return r
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// TestPurpose: Validates that API routes reject requests without a valid bearer token.
// Scope: Unit Test
// Security: Authentication boundary
// Expected: 401 with code UNAUTHENTICATED for missing, malformed and forged tokens.
// Test Case ID: HTTP-01
func TestAuthMiddleware_RejectsMissingOrInvalidToken(t *testing.T) {
	ts := newTestServer(t, Options{}, nil)

	forged, err := auth.NewVerifier([]byte("another-secret-that-is-32-bytes-long!!"), "collectops-test", clock.Fixed(testNow))
	require.NoError(t, err)
	forgedToken, err := forged.Issue(auth.Principal{TenantID: testTenant, UserID: testCollector, Role: auth.RoleAdmin}, time.Hour)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"missing": "",
		"garbage": "not-a-jwt",
		"forged":  forgedToken,
	} {
		t.Run(name, func(t *testing.T) {
			rec := ts.do(http.MethodGet, "/api/v1/routes/any", tok, nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, apperr.CodeUnauthenticated, decodeError(t, rec).Code)
		})
	}
}

// TestPurpose: Validates that the tenant header cannot override the token's tenant.
// Scope: Unit Test
// Security: Tenant isolation
// Expected: 400 INVALID_REQUEST when X-Tenant-ID is sent with a valid token.
// Test Case ID: HTTP-02
func TestAuthMiddleware_RejectsTenantHeader(t *testing.T) {
	ts := newTestServer(t, Options{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/loans/loan-1/promises", nil)
	req.Header.Set("Authorization", "Bearer "+ts.token(testCollector, auth.RoleCollector))
	req.Header.Set("X-Tenant-ID", "tenant-2")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestPurpose: Validates the plan, activate and record-visit flow over HTTP.
// Scope: Unit Test
// Expected: Route planned as DRAFT, a PROMISE visit returns 200 and creates a pending promise.
// Test Case ID: HTTP-03
func TestRecordVisit_PromiseOutcome(t *testing.T) {
	ts := newTestServer(t, Options{}, nil)
	r := ts.planRoute()
	require.Len(t, r.Visits, 3)
	assert.Equal(t, route.StatusDraft, r.Status)

	tok := ts.token(testCollector, auth.RoleCollector)
	rec := ts.do(http.MethodPatch, "/api/v1/visits/"+r.Visits[0].ID, tok, map[string]any{
		"outcome":       "PROMISE",
		"latitude":      14.61,
		"longitude":     121.0,
		"promiseDate":   "2026-03-15",
		"promiseAmount": "1500",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var v route.Visit
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, route.VisitVisited, v.Status)
	assert.Equal(t, route.OutcomePromise, v.Outcome)

	rec = ts.do(http.MethodGet, "/api/v1/loans/"+r.Visits[0].LoanID+"/promises", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []promise.Promise
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, promise.StatusPending, list[0].Status)
	assert.True(t, list[0].Amount.Equal(decimal.NewFromInt(1500)))

	rec = ts.do(http.MethodPatch, "/api/v1/visits/"+r.Visits[0].ID, tok, map[string]any{"outcome": "PAID"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperr.CodeAlreadyRecorded, decodeError(t, rec).Code)
}

// TestPurpose: Validates request validation on visit recording.
// Scope: Unit Test
// Expected: 400 with the matching reason code, visit left SCHEDULED.
// Test Case ID: HTTP-04
func TestRecordVisit_Validation(t *testing.T) {
	ts := newTestServer(t, Options{}, nil)
	r := ts.planRoute()
	tok := ts.token(testCollector, auth.RoleCollector)
	path := "/api/v1/visits/" + r.Visits[0].ID

	tests := []struct {
		name string
		body any
		code string
	}{
		{"missing outcome", map[string]any{"notes": "x"}, apperr.CodeInvalidOutcome},
		{"unknown outcome", map[string]any{"outcome": "MAYBE"}, apperr.CodeInvalidOutcome},
		{"promise without details", map[string]any{"outcome": "PROMISE"}, apperr.CodeMissingPromiseDetails},
		{"latitude out of range", map[string]any{"outcome": "PAID", "latitude": 91.0, "longitude": 0.0}, apperr.CodeInvalidRequest},
		{"latitude alone", map[string]any{"outcome": "PAID", "latitude": 10.0}, apperr.CodeInvalidRequest},
		{"unknown field", map[string]any{"outcome": "PAID", "tenantId": "tenant-2"}, apperr.CodeInvalidRequest},
		{"bad promise date", map[string]any{"outcome": "PROMISE", "promiseDate": "next week", "promiseAmount": "10"}, apperr.CodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(http.MethodPatch, path, tok, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}

	rec := ts.do(http.MethodGet, "/api/v1/routes/"+r.ID, tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got route.Route
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, route.VisitScheduled, got.Visits[0].Status)
}

// TestPurpose: Validates that collectors cannot plan or read another collector's route.
// Scope: Unit Test
// Security: Authorization
// Expected: 403 when planning for someone else, 404 when reading another's route; supervisors allowed.
// Test Case ID: HTTP-05
func TestRoutes_CollectorScope(t *testing.T) {
	ts := newTestServer(t, Options{}, nil)
	r := ts.planRoute()

	other := ts.token("collector-2", auth.RoleCollector)
	rec := ts.do(http.MethodPost, "/api/v1/routes", other, map[string]any{
		"collectorId":    testCollector,
		"businessDate":   "2026-03-11",
		"startLatitude":  testDepot.Latitude,
		"startLongitude": testDepot.Longitude,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/routes/"+r.ID, other, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperr.CodeRouteNotFound, decodeError(t, rec).Code)

	rec = ts.do(http.MethodPost, "/api/v1/routes/"+r.ID+"/activate", ts.token("sup-1", auth.RoleSupervisor), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var activated route.Route
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &activated))
	assert.Equal(t, route.StatusActive, activated.Status)
}

// TestPurpose: Validates that collectors cannot record outcomes on another collector's route.
// Scope: Unit Test
// Security: Authorization
// Expected: 404 VISIT_NOT_FOUND for a foreign collector with the stop left SCHEDULED; a supervisor may record it.
// Test Case ID: HTTP-12
func TestRecordVisit_CollectorScope(t *testing.T) {
	ts := newTestServer(t, Options{}, nil)
	r := ts.planRoute()
	path := "/api/v1/visits/" + r.Visits[0].ID

	rec := ts.do(http.MethodPatch, path, ts.token("collector-2", auth.RoleCollector), map[string]any{
		"outcome":       "PROMISE",
		"promiseDate":   "2026-03-14",
		"promiseAmount": "250.00",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperr.CodeVisitNotFound, decodeError(t, rec).Code)

	rec = ts.do(http.MethodGet, "/api/v1/routes/"+r.ID, ts.token(testCollector, auth.RoleCollector), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got route.Route
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, route.VisitScheduled, got.Visits[0].Status)
	assert.Equal(t, route.StatusDraft, got.Status)

	rec = ts.do(http.MethodPatch, path, ts.token("sup-1", auth.RoleSupervisor), map[string]any{"outcome": "NOT_HOME"})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

// TestPurpose: Validates capacity handling when planning.
// Scope: Unit Test
// Expected: Capacity above the configured maximum is rejected with CAPACITY_EXCEEDED.
// Test Case ID: HTTP-06
func TestPlanRoute_CapacityLimit(t *testing.T) {
	ts := newTestServer(t, Options{DefaultCapacity: 2, MaxCapacity: 5}, nil)

	body := map[string]any{
		"collectorId":    testCollector,
		"businessDate":   "2026-03-10",
		"capacity":       6,
		"startLatitude":  testDepot.Latitude,
		"startLongitude": testDepot.Longitude,
	}
	rec := ts.do(http.MethodPost, "/api/v1/routes", ts.token(testCollector, auth.RoleCollector), body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperr.CodeCapacityExceeded, decodeError(t, rec).Code)

	delete(body, "capacity")
	rec = ts.do(http.MethodPost, "/api/v1/routes", ts.token(testCollector, auth.RoleCollector), body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var r route.Route
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r))
	assert.Len(t, r.Visits, 2)
	assert.Equal(t, 2, r.Capacity)
}

// TestPurpose: Validates urgent stop insertion through the API.
// Scope: Unit Test
// Expected: New loan appended to pending stops, duplicates rejected with DUPLICATE_STOP.
// Test Case ID: HTTP-07
func TestAddStop(t *testing.T) {
	ts := newTestServer(t, Options{}, nil)
	r := ts.planRoute()
	ts.addLoan("loan-4", 0.5)
	tok := ts.token("sup-1", auth.RoleSupervisor)

	rec := ts.do(http.MethodPost, "/api/v1/routes/"+r.ID+"/stops", tok, map[string]any{"loanId": "loan-4"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated route.Route
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Len(t, updated.Visits, 4)
	assert.True(t, updated.HasLoan("loan-4"))
	assert.Greater(t, updated.Version, r.Version)

	rec = ts.do(http.MethodPost, "/api/v1/routes/"+r.ID+"/stops", tok, map[string]any{"loanId": "loan-4"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperr.CodeDuplicateStop, decodeError(t, rec).Code)
}

// TestPurpose: Validates promise creation and resolution over HTTP.
// Scope: Unit Test
// Expected: Create returns 201, fulfill returns 200, a second action returns 409 INVALID_TRANSITION.
// Test Case ID: HTTP-08
func TestPromiseLifecycle(t *testing.T) {
	ts := newTestServer(t, Options{}, nil)
	tok := ts.token("sup-1", auth.RoleSupervisor)

	rec := ts.do(http.MethodPost, "/api/v1/promises", tok, map[string]any{
		"loanId":       "loan-1",
		"amount":       "250.50",
		"promisedDate": "2026-03-12",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var p promise.Promise
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, promise.StatusPending, p.Status)

	rec = ts.do(http.MethodPatch, "/api/v1/promises/"+p.ID, tok, map[string]any{"action": "fulfill"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, promise.StatusFulfilled, p.Status)

	rec = ts.do(http.MethodPatch, "/api/v1/promises/"+p.ID, tok, map[string]any{"action": "cancel"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperr.CodeInvalidTransition, decodeError(t, rec).Code)

	rec = ts.do(http.MethodPatch, "/api/v1/promises/"+p.ID, tok, map[string]any{"action": "renegotiate"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/promises/missing", tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodPost, "/api/v1/promises", tok, map[string]any{
		"loanId":       "loan-1",
		"amount":       "0",
		"promisedDate": "2026-03-12",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperr.CodeInvalidAmount, decodeError(t, rec).Code)
}

// TestPurpose: Validates analytics authorization and cross-tenant rejection.
// Scope: Unit Test
// Security: Tenant isolation
// Expected: Collectors get 403; a foreign tenantId gets 403 and an audit event; supervisors get the report.
// Test Case ID: HTTP-09
func TestGetAnalytics(t *testing.T) {
	ts := newTestServer(t, Options{}, nil)
	sup := ts.token("sup-1", auth.RoleSupervisor)

	rec := ts.do(http.MethodPost, "/api/v1/promises", sup, map[string]any{
		"loanId": "loan-1", "amount": "100", "promisedDate": "2026-03-12",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/promises/analytics", ts.token(testCollector, auth.RoleCollector), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/promises/analytics?tenantId=tenant-2", sup, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	require.NotEmpty(t, ts.audit.events)
	assert.Equal(t, audit.TypeCrossTenantAttempt, ts.audit.events[len(ts.audit.events)-1].Type)

	rec = ts.do(http.MethodGet, "/api/v1/promises/analytics?dateFrom=bogus", sup, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/promises/analytics?tenantId="+testTenant+"&dateFrom=2026-03-10&dateTo=2026-03-10", sup, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report analytics.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, testTenant, report.TenantID)
	assert.Equal(t, 1, report.TotalPromises)
	assert.Equal(t, 1, report.Pending)
}

func TestParseWindowBound(t *testing.T) {
	from, err := parseWindowBound("2026-03-10", false)
	require.NoError(t, err)
	assert.True(t, from.Equal(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)))

	to, err := parseWindowBound("2026-03-10", true)
	require.NoError(t, err)
	assert.True(t, to.Equal(time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)))

	exact, err := parseWindowBound("2026-03-10T12:00:00+02:00", true)
	require.NoError(t, err)
	assert.True(t, exact.Equal(time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)))

	none, err := parseWindowBound("", true)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = parseWindowBound("10/03/2026", false)
	assert.Error(t, err)
}

// TestPurpose: Validates the cron endpoint's secret check and sweep response.
// Scope: Unit Test
// Security: Shared-secret authentication
// Expected: 401 and an audit event on a wrong secret; 200 with expiredCount on success.
// Test Case ID: HTTP-10
func TestCheckPromises(t *testing.T) {
	ts := newTestServer(t, Options{}, nil)

	rec := ts.do(http.MethodPost, "/api/v1/promises", ts.token("sup-1", auth.RoleSupervisor), map[string]any{
		"loanId": "loan-1", "amount": "100", "promisedDate": "2026-03-09",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(http.MethodPost, "/cron/check-promises", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotEmpty(t, ts.audit.events)
	assert.Equal(t, audit.TypeCronRejected, ts.audit.events[len(ts.audit.events)-1].Type)

	rec = ts.do(http.MethodPost, "/cron/check-promises", testCron, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp CheckPromisesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.ExpiredCount)
	assert.Equal(t, 0, resp.FailedCount)
	assert.True(t, resp.ExecutedAt.Equal(testNow))

	rec = ts.do(http.MethodPost, "/cron/check-promises", testCron, map[string]any{"tenantId": testTenant})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.ExpiredCount)
}

// TestPurpose: Validates per-IP rate limiting.
// Scope: Unit Test
// Expected: Requests beyond the burst get 429 RATE_LIMITED.
// Test Case ID: HTTP-11
func TestRateLimitMiddleware(t *testing.T) {
	ts := newTestServer(t, Options{}, NewRateLimiter(0.001, 2))

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/health", "", nil).Code)
	}
	rec := ts.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, apperr.CodeRateLimited, decodeError(t, rec).Code)
}

func TestHealthCheck_StoreUnavailable(t *testing.T) {
	ts := newTestServer(t, Options{Health: failingPinger{}}, nil)

	rec := ts.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRespondErr_HidesInternalErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	respondErr(context.Background(), rec, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "internal error", resp.Error)
	assert.NotContains(t, rec.Body.String(), "password")
}

// TestPurpose: Validates client geocode corrections and that new routes target the corrected coordinate.
// Scope: Unit Test
// Security: Authorization
// Expected: 403 for collectors, 400 for out-of-range values, 404 CLIENT_NOT_FOUND for unknown clients; the update is audited and used by the next plan.
// Test Case ID: HTTP-13
func TestUpdateClientLocation(t *testing.T) {
	ts := newTestServer(t, Options{}, nil)
	sup := ts.token("sup-1", auth.RoleSupervisor)
	path := "/api/v1/clients/client-loan-1/location"
	moved := map[string]any{"latitude": 14.70, "longitude": 121.05}

	rec := ts.do(http.MethodPut, path, ts.token(testCollector, auth.RoleCollector), moved)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodPut, path, sup, map[string]any{"latitude": 95.0, "longitude": 121.0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPut, "/api/v1/clients/nobody/location", sup, moved)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperr.CodeClientNotFound, decodeError(t, rec).Code)

	rec = ts.do(http.MethodPut, path, sup, moved)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp ClientLocationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 14.70, resp.Location.Latitude)

	var relocated int
	for _, e := range ts.audit.events {
		if e.Type == audit.TypeClientRelocated && e.Resource == "client-loan-1" {
			relocated++
		}
	}
	assert.Equal(t, 1, relocated)

	r := ts.planRoute()
	var found bool
	for _, v := range r.Visits {
		if v.LoanID == "loan-1" {
			found = true
			assert.Equal(t, geo.Coordinate{Latitude: 14.70, Longitude: 121.05}, v.Target)
		}
	}
	assert.True(t, found)
}
