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
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/collectops/collectops/internal/apperr"
	"github.com/collectops/collectops/internal/audit"
	"github.com/collectops/collectops/internal/auth"
	"github.com/collectops/collectops/internal/observability/logger"
	"github.com/go-chi/chi/v5/middleware"
)

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Log request start
			slog.InfoContext(r.Context(), "http_request_start",
				logger.RequestID(middleware.GetReqID(r.Context())),
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.RemoteAddr(r.RemoteAddr),
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				slog.InfoContext(r.Context(), "http_request_end",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.RemoteAddr(r.RemoteAddr),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// AuthMiddleware verifies the bearer token and stores the principal in the
// request context. Tenant context is derived exclusively from the token.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			h.security.AuthenticationFailed(r.Context(), r.RemoteAddr, "missing bearer token")
			respondError(w, http.StatusUnauthorized, "not authenticated", apperr.CodeUnauthenticated)
			return
		}

		p, err := h.verifier.Verify(token)
		if err != nil {
			h.security.AuthenticationFailed(r.Context(), r.RemoteAddr, err.Error())
			respondError(w, http.StatusUnauthorized, "invalid or expired token", apperr.CodeUnauthenticated)
			return
		}

		// A tenant header on an authenticated request is a spoofing attempt.
		if r.Header.Get("X-Tenant-ID") != "" {
			slog.WarnContext(r.Context(), "tenant header spoofing attempt detected on authenticated route",
				logger.TenantID(p.TenantID),
				logger.UserID(p.UserID),
			)
			respondError(w, http.StatusBadRequest, "X-Tenant-ID header is not allowed; tenant is derived from the token", apperr.CodeInvalidRequest)
			return
		}

		ctx := auth.WithPrincipal(r.Context(), p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CronAuthMiddleware checks the shared scheduler secret in constant time.
func (h *Handler) CronAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if h.opts.CronSecret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.opts.CronSecret)) != 1 {
			h.security.CronRejected(r.Context(), r.RemoteAddr)
			h.auditLogger.Log(r.Context(), audit.Event{
				Type:      audit.TypeCronRejected,
				ActorID:   audit.ActorSystem,
				Resource:  "check-promises",
				IPAddress: r.RemoteAddr,
				UserAgent: r.UserAgent(),
			})
			respondError(w, http.StatusUnauthorized, "invalid cron secret", apperr.CodeUnauthenticated)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// require writes 403 and returns false unless the caller holds permission.
func (h *Handler) require(w http.ResponseWriter, r *http.Request, permission string) (*auth.Principal, bool) {
	p := GetPrincipal(r.Context())
	if p == nil {
		respondError(w, http.StatusUnauthorized, "not authenticated", apperr.CodeUnauthenticated)
		return nil, false
	}
	if err := p.Require(permission); err != nil {
		h.security.AccessDenied(r.Context(), p.TenantID, p.UserID, r.URL.Path, "missing permission "+permission, r.RemoteAddr)
		respondErr(r.Context(), w, err)
		return nil, false
	}
	return p, true
}
