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

// Package events publishes domain events after the owning transaction commits.
package events

import (
	"context"
	"time"

	"github.com/collectops/collectops/internal/id"
)

// Event types
const (
	TypeRoutePlanned      = "route.planned"
	TypeVisitRecorded     = "visit.recorded"
	TypePromiseCreated    = "promise.created"
	TypePromiseSuperseded = "promise.superseded"
	TypePromiseFulfilled  = "promise.fulfilled"
	TypePromiseCancelled  = "promise.cancelled"
	TypePromiseExpired    = "promise.expired"
	TypeLoanReprioritized = "loan.reprioritized"
)

// Event is the wire envelope sent to subscribers.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	TenantID   string         `json:"tenant_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

// New builds an event with a fresh id and the current UTC time.
func New(eventType, tenantID string, data map[string]any) Event {
	return Event{
		ID:         id.NewUUIDv7(),
		Type:       eventType,
		TenantID:   tenantID,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

// Publisher delivers events to downstream consumers (notifications,
// commission, reporting). Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
