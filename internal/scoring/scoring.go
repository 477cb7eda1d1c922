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

// Package scoring ranks delinquent loans for field visits.
package scoring

import (
	"fmt"
	"strings"
	"time"

	"github.com/collectops/collectops/internal/loan"
)

// Weights are the configurable coefficients of the priority score.
// Each factor x contributes Weight * x/(x+Half), so the score is bounded and
// non-decreasing in every factor as long as weights are non-negative.
type Weights struct {
	DaysPastDue    float64
	Balance        float64
	BrokenPromises float64
	Recency        float64

	DaysPastDueHalf    float64
	BalanceHalf        float64
	BrokenPromisesHalf float64
	RecencyHalfDays    float64
}

// DefaultWeights returns the weights used when none are configured.
func DefaultWeights() Weights {
	return Weights{
		DaysPastDue:    0.40,
		Balance:        0.25,
		BrokenPromises: 0.25,
		Recency:        0.10,

		DaysPastDueHalf:    30,
		BalanceHalf:        5000,
		BrokenPromisesHalf: 1,
		RecencyHalfDays:    14,
	}
}

// Validate checks weights are non-negative and half-points positive.
func (w Weights) Validate() error {
	var errs []string

	for name, v := range map[string]float64{
		"days_past_due":   w.DaysPastDue,
		"balance":         w.Balance,
		"broken_promises": w.BrokenPromises,
		"recency":         w.Recency,
	} {
		if v < 0 {
			errs = append(errs, fmt.Sprintf("%s weight must be >= 0", name))
		}
	}
	for name, v := range map[string]float64{
		"days_past_due_half":   w.DaysPastDueHalf,
		"balance_half":         w.BalanceHalf,
		"broken_promises_half": w.BrokenPromisesHalf,
		"recency_half_days":    w.RecencyHalfDays,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be > 0", name))
		}
	}
	if w.DaysPastDue+w.Balance+w.BrokenPromises+w.Recency <= 0 {
		errs = append(errs, "weights must sum to a positive number")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid scoring weights: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Factors are the raw inputs of a score. NeverContacted takes the full
// recency weight and RecencyDays is ignored.
type Factors struct {
	DaysPastDue    float64
	Balance        float64
	BrokenPromises float64
	RecencyDays    float64
	NeverContacted bool
}

// FactorsOf extracts scoring factors from a loan as of now.
func FactorsOf(l *loan.Loan, now time.Time) Factors {
	f := Factors{
		DaysPastDue:    float64(l.DaysPastDue),
		Balance:        l.OutstandingBalance.InexactFloat64(),
		BrokenPromises: float64(l.BrokenPromises),
		NeverContacted: l.LastContactAt == nil,
	}
	// A contact stamped ahead of now (clock skew) counts as just now.
	if l.LastContactAt != nil {
		f.RecencyDays = max(now.Sub(*l.LastContactAt).Hours()/24, 0)
	}
	return f
}

// Scorer computes priority scores. The zero value is not usable; use New.
type Scorer struct {
	weights Weights
}

func New(w Weights) (*Scorer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{weights: w}, nil
}

// Weights returns the scorer's configuration.
func (s *Scorer) Weights() Weights {
	return s.weights
}

// Score returns the priority score of l as of now. Higher is more urgent.
func (s *Scorer) Score(l *loan.Loan, now time.Time) float64 {
	return s.ScoreFactors(FactorsOf(l, now))
}

// ScoreFactors is the pure scoring function.
func (s *Scorer) ScoreFactors(f Factors) float64 {
	w := s.weights

	recency := 1.0
	if !f.NeverContacted {
		recency = saturate(f.RecencyDays, w.RecencyHalfDays)
	}

	return w.DaysPastDue*saturate(f.DaysPastDue, w.DaysPastDueHalf) +
		w.Balance*saturate(f.Balance, w.BalanceHalf) +
		w.BrokenPromises*saturate(f.BrokenPromises, w.BrokenPromisesHalf) +
		w.Recency*recency
}

// saturate maps [0, inf) onto [0, 1) monotonically; negatives clamp to 0.
func saturate(x, half float64) float64 {
	if x <= 0 {
		return 0
	}
	return x / (x + half)
}
