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

package route

import (
	"cmp"
	"slices"

	"github.com/collectops/collectops/internal/geo"
	"github.com/shopspring/decimal"
)

// DefaultEpsilon is the distance, in metres, under which two stops count as
// equidistant during sequencing.
const DefaultEpsilon = 1.0

// Stop is a routable candidate with its priority score.
type Stop struct {
	LoanID   string
	VisitID  string
	Location geo.Coordinate
	Score    float64
	Balance  decimal.Decimal
}

// Rank orders stops by score desc, balance desc, loan id asc.
func Rank(stops []Stop) {
	slices.SortStableFunc(stops, compareStops)
}

func compareStops(a, b Stop) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := b.Balance.Cmp(a.Balance); c != 0 {
		return c
	}
	return cmp.Compare(a.LoanID, b.LoanID)
}

// SelectTop ranks stops and keeps the first capacity of them.
func SelectTop(stops []Stop, capacity int) []Stop {
	ranked := slices.Clone(stops)
	Rank(ranked)
	if len(ranked) > capacity {
		ranked = ranked[:capacity]
	}
	return ranked
}

// NearestNeighbor orders stops greedily from start, always moving to the
// closest unvisited stop. Distances within epsilon metres of each other tie
// and the tie goes to the higher-ranked stop. The result is deterministic
// but not globally optimal.
func NearestNeighbor(start geo.Coordinate, stops []Stop, epsilon float64) ([]Stop, error) {
	remaining := slices.Clone(stops)
	Rank(remaining)

	ordered := make([]Stop, 0, len(remaining))
	cur := start
	for len(remaining) > 0 {
		best, bestDist := -1, 0.0
		for i, s := range remaining {
			d, err := geo.Distance(cur, s.Location)
			if err != nil {
				return nil, err
			}
			// remaining is ranked, so on a tie the earlier index wins
			if best < 0 || d < bestDist-epsilon {
				best, bestDist = i, d
			}
		}
		next := remaining[best]
		ordered = append(ordered, next)
		cur = next.Location
		remaining = slices.Delete(remaining, best, best+1)
	}
	return ordered, nil
}
