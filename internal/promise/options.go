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

package promise

import (
	"github.com/collectops/collectops/internal/clock"
	"github.com/collectops/collectops/internal/observability/metrics"
)

const defaultBatchSize = 500

type settings struct {
	now       clock.Clock
	metrics   *metrics.Instruments
	batchSize int
}

// Option configures a Ledger or Scanner.
type Option func(*settings)

func WithClock(c clock.Clock) Option {
	return func(s *settings) { s.now = c }
}

func WithMetrics(m *metrics.Instruments) Option {
	return func(s *settings) { s.metrics = m }
}

// WithBatchSize sets how many due promises the scanner reads per page.
func WithBatchSize(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{now: clock.System, batchSize: defaultBatchSize}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}
