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

package logger

import (
	"context"
	"log/slog"
)

// SecurityEvent is an access-control decision taken at the transport edge.
// Domain mutations go through the audit package instead.
type SecurityEvent struct {
	EventType string
	TenantID  string
	UserID    string
	IPAddress string
	Action    string
	Resource  string
	Result    string // success, failure, denied
	Reason    string
}

// SecurityLogger logs authentication and authorization decisions
type SecurityLogger struct {
	logger *slog.Logger
}

// NewSecurityLogger creates a new security logger
func NewSecurityLogger(logger *slog.Logger) *SecurityLogger {
	return &SecurityLogger{
		logger: logger.With(Component("security")),
	}
}

// Log logs a security event
func (a *SecurityLogger) Log(ctx context.Context, event SecurityEvent) {
	attrs := []slog.Attr{
		slog.String("event_type", event.EventType),
		slog.String("action", event.Action),
		slog.String("result", event.Result),
	}

	if event.TenantID != "" {
		attrs = append(attrs, TenantID(event.TenantID))
	}
	if event.UserID != "" {
		attrs = append(attrs, UserID(event.UserID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.Resource != "" {
		attrs = append(attrs, slog.String("resource", event.Resource))
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}

	a.logger.LogAttrs(ctx, slog.LevelWarn, "security_event", attrs...)
}

func (a *SecurityLogger) AuthenticationFailed(ctx context.Context, ipAddr, reason string) {
	a.Log(ctx, SecurityEvent{
		EventType: "authentication",
		IPAddress: ipAddr,
		Action:    "verify_token",
		Result:    "failure",
		Reason:    reason,
	})
}

func (a *SecurityLogger) AccessDenied(ctx context.Context, tenantID, userID, resource, reason, ipAddr string) {
	a.Log(ctx, SecurityEvent{
		EventType: "access_control",
		TenantID:  tenantID,
		UserID:    userID,
		IPAddress: ipAddr,
		Action:    "access",
		Resource:  resource,
		Result:    "denied",
		Reason:    reason,
	})
}

func (a *SecurityLogger) CronRejected(ctx context.Context, ipAddr string) {
	a.Log(ctx, SecurityEvent{
		EventType: "authentication",
		IPAddress: ipAddr,
		Action:    "cron_trigger",
		Resource:  "check-promises",
		Result:    "denied",
		Reason:    "invalid shared secret",
	})
}
