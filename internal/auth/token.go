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

// Package auth verifies bearer tokens and carries the authenticated principal.
//
// Tokens are HS256 JWTs issued by the surrounding platform. The tenant and
// role come from the claims, never from request headers or bodies.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/collectops/collectops/internal/apperr"
	"github.com/collectops/collectops/internal/clock"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = apperr.Auth(apperr.CodeUnauthenticated, "invalid or expired token")
	ErrForbidden    = apperr.Forbidden(apperr.CodeForbidden, "insufficient permissions")
)

// Principal is the authenticated caller.
type Principal struct {
	TenantID string `json:"tenantId"`
	UserID   string `json:"userId"`
	Role     string `json:"role"`
}

// Can reports whether the principal's role grants permission.
func (p *Principal) Can(permission string) bool {
	return p != nil && HasPermission(p.Role, permission)
}

// Require returns ErrForbidden unless the principal holds permission.
func (p *Principal) Require(permission string) error {
	if !p.Can(permission) {
		return ErrForbidden.WithMessage("missing permission %s", permission)
	}
	return nil
}

// Claims is the JWT payload.
type Claims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 bearer tokens.
type Verifier struct {
	secret []byte
	issuer string
	now    clock.Clock
}

// NewVerifier creates a verifier. An empty issuer disables the iss check.
func NewVerifier(secret []byte, issuer string, now clock.Clock) (*Verifier, error) {
	if len(secret) < 32 {
		return nil, errors.New("jwt secret must be at least 32 bytes")
	}
	if now == nil {
		now = clock.System
	}
	return &Verifier{secret: secret, issuer: issuer, now: now}, nil
}

// Verify parses and validates a token and returns its principal.
func (v *Verifier) Verify(token string) (*Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, ErrInvalidToken.Wrap(err)
	}

	if claims.Subject == "" || claims.TenantID == "" {
		return nil, ErrInvalidToken.WithMessage("token is missing subject or tenant")
	}
	if !ValidRole(claims.Role) {
		return nil, ErrInvalidToken.WithMessage("unknown role %q", claims.Role)
	}

	return &Principal{TenantID: claims.TenantID, UserID: claims.Subject, Role: claims.Role}, nil
}

// Issue signs a token for p valid for ttl. Used by the CLI and tests.
func (v *Verifier) Issue(p Principal, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		TenantID: p.TenantID,
		Role:     p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored in ctx, if any.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
