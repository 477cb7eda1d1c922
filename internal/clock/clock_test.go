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

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDate_UsesUTCDay(t *testing.T) {
	manila := time.FixedZone("PHT", 8*3600)
	local := time.Date(2026, 5, 2, 3, 0, 0, 0, manila) // 2026-05-01 19:00 UTC
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), Date(local))
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2026-03-15")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), d)

	d, err = ParseDate("2026-03-15T23:30:00-02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC), d)

	_, err = ParseDate("15/03/2026")
	assert.Error(t, err)
}

func TestDaysBetween(t *testing.T) {
	a := time.Date(2026, 1, 30, 22, 0, 0, 0, time.UTC)
	b := time.Date(2026, 2, 2, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, 3, DaysBetween(a, b))
	assert.Equal(t, -3, DaysBetween(b, a))
}
