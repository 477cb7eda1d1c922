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

// Package geo holds coordinate validation and straight-line distance.
package geo

import (
	"math"

	"github.com/collectops/collectops/internal/apperr"
)

const earthRadiusMeters = 6371008.8

// ErrInvalidCoordinates is returned for points outside the valid lat/lng range.
var ErrInvalidCoordinates = apperr.Validation(apperr.CodeInvalidCoordinates, "invalid coordinates")

// Coordinate is a WGS84 latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate checks the coordinate is finite and within range.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) ||
		math.IsInf(c.Latitude, 0) || math.IsInf(c.Longitude, 0) {
		return ErrInvalidCoordinates
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return ErrInvalidCoordinates.WithMessage("latitude %v out of range", c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return ErrInvalidCoordinates.WithMessage("longitude %v out of range", c.Longitude)
	}
	return nil
}

// Valid is Validate as a predicate.
func (c Coordinate) Valid() bool {
	return c.Validate() == nil
}

// Distance returns the great-circle distance between a and b in metres.
func Distance(a, b Coordinate) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}
	return haversine(a, b), nil
}

func haversine(a, b Coordinate) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}
