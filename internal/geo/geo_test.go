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

package geo

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistance_KnownPairs(t *testing.T) {
	austin := Coordinate{Latitude: 30.2672, Longitude: -97.7431}
	dallas := Coordinate{Latitude: 32.7767, Longitude: -96.7970}

	d, err := Distance(austin, dallas)
	require.NoError(t, err)
	assert.InDelta(t, 293_000, d, 5_000)

	zero, err := Distance(austin, austin)
	require.NoError(t, err)
	assert.InDelta(t, 0, zero, 0.001)

	back, err := Distance(dallas, austin)
	require.NoError(t, err)
	assert.InDelta(t, d, back, 1e-6)
}

func TestDistance_Antimeridian(t *testing.T) {
	a := Coordinate{Latitude: 0, Longitude: 179.9}
	b := Coordinate{Latitude: 0, Longitude: -179.9}

	d, err := Distance(a, b)
	require.NoError(t, err)
	assert.Less(t, d, 25_000.0)
}

func TestDistance_InvalidCoordinates(t *testing.T) {
	valid := Coordinate{Latitude: 14.5995, Longitude: 120.9842}
	tests := []Coordinate{
		{Latitude: 91, Longitude: 0},
		{Latitude: -90.0001, Longitude: 0},
		{Latitude: 0, Longitude: 180.5},
		{Latitude: 0, Longitude: -181},
		{Latitude: math.NaN(), Longitude: 0},
		{Latitude: 0, Longitude: math.Inf(1)},
	}

	for _, c := range tests {
		_, err := Distance(valid, c)
		assert.True(t, errors.Is(err, ErrInvalidCoordinates), "%+v", c)
		_, err = Distance(c, valid)
		assert.True(t, errors.Is(err, ErrInvalidCoordinates), "%+v", c)
		assert.False(t, c.Valid())
	}

	assert.True(t, Coordinate{Latitude: 90, Longitude: -180}.Valid())
}
