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

package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/collectops/collectops/internal/loan"
)

// Seed is the JSON document accepted by LoadSeed.
type Seed struct {
	Clients []loan.Client `json:"clients"`
	Loans   []loan.Loan   `json:"loans"`
}

// LoadSeedFile loads a seed document from path.
func (s *Store) LoadSeedFile(path string) (clients, loans int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()
	return s.LoadSeed(f)
}

// LoadSeed validates the whole document, then inserts or replaces every
// client and loan. Nothing is stored if any entry is invalid. A loan
// without a status is ACTIVE.
func (s *Store) LoadSeed(r io.Reader) (clients, loans int, err error) {
	var seed Seed
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&seed); err != nil {
		return 0, 0, fmt.Errorf("failed to decode seed: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	known := make(map[string]string, len(s.clients)+len(seed.Clients))
	for id, c := range s.clients {
		known[id] = c.TenantID
	}

	var errs []error
	for i, c := range seed.Clients {
		if c.ID == "" || c.TenantID == "" {
			errs = append(errs, fmt.Errorf("clients[%d]: id and tenantId are required", i))
			continue
		}
		if c.Location != nil {
			if err := c.Location.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("clients[%d]: %w", i, err))
			}
		}
		known[c.ID] = c.TenantID
	}

	now := time.Now().UTC()
	for i := range seed.Loans {
		l := &seed.Loans[i]
		if l.ID == "" || l.TenantID == "" || l.CollectorID == "" {
			errs = append(errs, fmt.Errorf("loans[%d]: id, tenantId and collectorId are required", i))
			continue
		}
		if tenant, ok := known[l.ClientID]; !ok || tenant != l.TenantID {
			errs = append(errs, fmt.Errorf("loans[%d]: client %q not found in tenant %s", i, l.ClientID, l.TenantID))
		}
		switch l.Status {
		case "":
			l.Status = loan.StatusActive
		case loan.StatusActive, loan.StatusSettled, loan.StatusWrittenOff:
		default:
			errs = append(errs, fmt.Errorf("loans[%d]: unknown status %q", i, l.Status))
		}
		if l.DaysPastDue < 0 || l.BrokenPromises < 0 || l.OutstandingBalance.IsNegative() {
			errs = append(errs, fmt.Errorf("loans[%d]: counters and balance must not be negative", i))
		}
		if l.CreatedAt.IsZero() {
			l.CreatedAt = now
		}
		if l.UpdatedAt.IsZero() {
			l.UpdatedAt = now
		}
	}
	if err := errors.Join(errs...); err != nil {
		return 0, 0, fmt.Errorf("invalid seed: %w", err)
	}

	for _, c := range seed.Clients {
		s.clients[c.ID] = c
	}
	for _, l := range seed.Loans {
		s.loans[l.ID] = l
	}
	return len(seed.Clients), len(seed.Loans), nil
}
