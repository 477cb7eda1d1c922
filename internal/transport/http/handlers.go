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

// @title CollectOps API
// @version 1.0
// @description Field collection routing, visit outcomes and promise-to-pay tracking.
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/collectops/collectops/internal/analytics"
	"github.com/collectops/collectops/internal/apperr"
	"github.com/collectops/collectops/internal/audit"
	"github.com/collectops/collectops/internal/auth"
	"github.com/collectops/collectops/internal/clock"
	"github.com/collectops/collectops/internal/loan"
	"github.com/collectops/collectops/internal/observability/logger"
	"github.com/collectops/collectops/internal/promise"
	"github.com/collectops/collectops/internal/route"
	"github.com/collectops/collectops/internal/visit"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Pinger reports backing store health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services bundles the domain services exposed over HTTP
type Services struct {
	Planner    *route.Planner
	Tracker    *visit.Tracker
	Ledger     *promise.Ledger
	Scanner    *promise.Scanner
	Aggregator *analytics.Aggregator
	Loans      loan.Repository
}

// Options holds transport settings
type Options struct {
	CronSecret      string
	DefaultCapacity int
	MaxCapacity     int
	RequestTimeout  time.Duration
	Clock           clock.Clock
	Health          Pinger
}

// Handler holds HTTP handlers and dependencies
type Handler struct {
	planner    *route.Planner
	tracker    *visit.Tracker
	ledger     *promise.Ledger
	scanner    *promise.Scanner
	aggregator *analytics.Aggregator
	loans      loan.Repository

	verifier    *auth.Verifier
	auditLogger audit.Logger
	security    *logger.SecurityLogger
	validate    *validator.Validate
	opts        Options
}

// NewHandler creates a new HTTP handler
func NewHandler(svc Services, verifier *auth.Verifier, auditLogger audit.Logger, opts Options) *Handler {
	if opts.Clock == nil {
		opts.Clock = clock.System
	}
	if opts.DefaultCapacity <= 0 {
		opts.DefaultCapacity = 20
	}
	if opts.MaxCapacity < opts.DefaultCapacity {
		opts.MaxCapacity = opts.DefaultCapacity
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	return &Handler{
		planner:     svc.Planner,
		tracker:     svc.Tracker,
		ledger:      svc.Ledger,
		scanner:     svc.Scanner,
		aggregator:  svc.Aggregator,
		loans:       svc.Loans,
		verifier:    verifier,
		auditLogger: auditLogger,
		security:    logger.NewSecurityLogger(slog.Default()),
		validate:    newValidator(),
		opts:        opts,
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(h.opts.RequestTimeout))

	// Health check
	r.Get("/health", h.HealthCheck)

	// Scheduler trigger, authenticated by the shared cron secret
	r.With(h.CronAuthMiddleware).Post("/cron/check-promises", h.CheckPromises)

	// API routes, tenant derived from the bearer token
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.AuthMiddleware)

		r.Patch("/visits/{visitId}", h.RecordVisit)

		r.Route("/promises", func(r chi.Router) {
			r.Post("/", h.CreatePromise)
			r.Get("/analytics", h.GetAnalytics)
			r.Get("/{promiseId}", h.GetPromise)
			r.Patch("/{promiseId}", h.UpdatePromise)
		})
		r.Get("/loans/{loanId}/promises", h.ListLoanPromises)
		r.Put("/clients/{clientId}/location", h.UpdateClientLocation)

		r.Route("/routes", func(r chi.Router) {
			r.Post("/", h.PlanRoute)
			r.Get("/{routeId}", h.GetRoute)
			r.Post("/{routeId}/activate", h.ActivateRoute)
			r.Post("/{routeId}/stops", h.AddStop)
		})
	})

	return r
}

// HealthCheck returns the health status
// @Summary Health Check
// @Description Checks if the service and its store are reachable
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.opts.Health != nil {
		if err := h.opts.Health.Ping(r.Context()); err != nil {
			slog.ErrorContext(r.Context(), "health check failed", logger.Error(err))
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":  "unavailable",
				"service": "collectops",
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "collectops",
	})
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message, code string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// respondErr maps a service error to its status and body. Internal errors
// are logged and reported without detail.
func respondErr(ctx context.Context, w http.ResponseWriter, err error) {
	e, ok := apperr.As(err)
	if !ok || e.Kind == apperr.KindInternal {
		slog.ErrorContext(ctx, "request failed", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error", apperr.CodeInternal)
		return
	}
	if e.Kind == apperr.KindConflict {
		slog.InfoContext(ctx, "request rejected", logger.ErrorCode(e.Code))
	}
	respondError(w, apperr.HTTPStatus(e.Kind), e.Message, e.Code)
}

// decodeJSON decodes the body into dst and runs struct validation. An empty
// body is accepted when allowEmpty is set.
func (h *Handler) decodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	if r.Body != nil && r.ContentLength != 0 {
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(dst); err != nil {
			if allowEmpty && errors.Is(err, io.EOF) {
				return nil
			}
			return apperr.Validation(apperr.CodeInvalidRequest, "invalid request body").Wrap(err)
		}
	} else if !allowEmpty {
		return apperr.Validation(apperr.CodeInvalidRequest, "request body is required")
	}
	if err := h.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return apperr.Validation(apperr.CodeInvalidRequest, "invalid field "+fe.Field()+": "+fe.Tag()).Wrap(err)
	}
	return apperr.Validation(apperr.CodeInvalidRequest, "invalid request").Wrap(err)
}
