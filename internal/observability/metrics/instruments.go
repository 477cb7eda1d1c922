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

package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instruments holds the collection engine's counters and histograms.
// A nil *Instruments is valid and records nothing.
type Instruments struct {
	routesPlanned   metric.Int64Counter
	visitsRecorded  metric.Int64Counter
	promisesCreated metric.Int64Counter
	promisesExpired metric.Int64Counter
	sweepFailures   metric.Int64Counter
	sweepDuration   metric.Float64Histogram
	eventsDropped   metric.Int64Counter
}

// NewInstruments registers all instruments on m.
func NewInstruments(m *Meter) (*Instruments, error) {
	var (
		in  Instruments
		err error
	)
	if in.routesPlanned, err = m.CreateCounter("routes.planned", "Routes created by the planner"); err != nil {
		return nil, err
	}
	if in.visitsRecorded, err = m.CreateCounter("visits.recorded", "Visit outcomes recorded"); err != nil {
		return nil, err
	}
	if in.promisesCreated, err = m.CreateCounter("promises.created", "Promises to pay created"); err != nil {
		return nil, err
	}
	if in.promisesExpired, err = m.CreateCounter("promises.expired", "Promises expired by the sweep"); err != nil {
		return nil, err
	}
	if in.sweepFailures, err = m.CreateCounter("sweep.failures", "Promises the sweep failed to expire"); err != nil {
		return nil, err
	}
	if in.sweepDuration, err = m.CreateHistogram("sweep.duration", "Expiry sweep wall time", "s"); err != nil {
		return nil, err
	}
	if in.eventsDropped, err = m.CreateCounter("events.dropped", "Domain events dropped by the dispatcher"); err != nil {
		return nil, err
	}
	return &in, nil
}

func tenant(tenantID string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("tenant_id", tenantID))
}

func (in *Instruments) RoutePlanned(ctx context.Context, tenantID string) {
	if in == nil {
		return
	}
	in.routesPlanned.Add(ctx, 1, tenant(tenantID))
}

func (in *Instruments) VisitRecorded(ctx context.Context, tenantID, outcome string) {
	if in == nil {
		return
	}
	in.visitsRecorded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("outcome", outcome),
	))
}

func (in *Instruments) PromiseCreated(ctx context.Context, tenantID string) {
	if in == nil {
		return
	}
	in.promisesCreated.Add(ctx, 1, tenant(tenantID))
}

// SweepFinished records one expiry sweep.
func (in *Instruments) SweepFinished(ctx context.Context, expired, failed int, seconds float64) {
	if in == nil {
		return
	}
	in.promisesExpired.Add(ctx, int64(expired))
	in.sweepFailures.Add(ctx, int64(failed))
	in.sweepDuration.Record(ctx, seconds)
}

func (in *Instruments) EventDropped(ctx context.Context, eventType string) {
	if in == nil {
		return
	}
	in.eventsDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}
