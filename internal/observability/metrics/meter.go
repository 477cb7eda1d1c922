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
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Namespace prefixes every instrument name.
const Namespace = "collectops"

// Config holds metrics configuration
type Config struct {
	Enabled bool
}

// Meter creates namespaced instruments on one OpenTelemetry meter.
type Meter struct {
	meter     metric.Meter
	namespace string
}

// New returns a meter on the global provider, or a no-op meter when
// metrics are disabled. Exporters are installed on the global provider by
// the host process.
func New(_ context.Context, cfg Config, serviceName string) (*Meter, error) {
	var mp metric.MeterProvider = noop.NewMeterProvider()
	if cfg.Enabled {
		mp = otel.GetMeterProvider()
	}
	return NewWithProvider(mp, serviceName), nil
}

// NewWithProvider binds a meter to an explicit provider.
func NewWithProvider(mp metric.MeterProvider, scope string) *Meter {
	return &Meter{meter: mp.Meter(scope), namespace: Namespace}
}

func (m *Meter) qualified(name string) string {
	if m.namespace == "" {
		return name
	}
	return m.namespace + "." + name
}

// CreateCounter creates a new counter metric
func (m *Meter) CreateCounter(name, description string) (metric.Int64Counter, error) {
	counter, err := m.meter.Int64Counter(m.qualified(name), metric.WithDescription(description))
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	return counter, nil
}

// CreateHistogram creates a new histogram metric
func (m *Meter) CreateHistogram(name, description, unit string) (metric.Float64Histogram, error) {
	histogram, err := m.meter.Float64Histogram(
		m.qualified(name),
		metric.WithDescription(description),
		metric.WithUnit(unit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", name, err)
	}
	return histogram, nil
}
