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

// Package clock supplies the current time and business-date arithmetic.
package clock

import "time"

// Clock returns the current instant. Services take one so tests can pin time.
type Clock func() time.Time

// System is the wall clock in UTC.
func System() time.Time {
	return time.Now().UTC()
}

// Fixed returns a clock frozen at t.
func Fixed(t time.Time) Clock {
	return func() time.Time { return t }
}

// Date truncates t to midnight UTC of its UTC calendar day.
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate accepts a calendar date (2006-01-02) or an RFC 3339 timestamp and
// returns its UTC business date.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return Date(t), nil
}

// DaysBetween returns whole calendar days from a to b (negative if b is earlier).
func DaysBetween(a, b time.Time) int {
	return int(Date(b).Sub(Date(a)).Hours() / 24)
}
