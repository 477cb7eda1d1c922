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

// Package memory is an in-process implementation of every repository,
// used by tests and by the server when no database is configured.
//
// All state sits behind one mutex. WithinTx holds the mutex for the whole
// unit and restores a snapshot if fn fails, which gives serializable
// transactions with real rollback.
package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/collectops/collectops/internal/loan"
	"github.com/collectops/collectops/internal/promise"
	"github.com/collectops/collectops/internal/route"
	"github.com/collectops/collectops/internal/store"
)

type txKey struct{}

// Store holds all entities keyed by id.
type Store struct {
	mu sync.Mutex

	loans    map[string]loan.Loan
	clients  map[string]loan.Client
	promises map[string]promise.Promise
	routes   map[string]route.Route
	visits   map[string]route.Visit

	faults map[string]error
}

type snapshot struct {
	loans    map[string]loan.Loan
	clients  map[string]loan.Client
	promises map[string]promise.Promise
	routes   map[string]route.Route
	visits   map[string]route.Visit
}

// New creates an empty store
func New() *Store {
	return &Store{
		loans:    make(map[string]loan.Loan),
		clients:  make(map[string]loan.Client),
		promises: make(map[string]promise.Promise),
		routes:   make(map[string]route.Route),
		visits:   make(map[string]route.Visit),
		faults:   make(map[string]error),
	}
}

var _ store.Transactor = (*Store)(nil)

// WithinTx runs fn atomically. Nested calls join the outer transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	snap := s.snapshot()
	txCtx, hooks := store.WithHooks(context.WithValue(ctx, txKey{}, true))

	err := fn(txCtx)
	if err != nil {
		s.restore(snap)
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	hooks.Run(ctx)
	return nil
}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

// lock acquires the store mutex unless ctx already owns it through WithinTx.
func (s *Store) lock(ctx context.Context) func() {
	if inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) snapshot() snapshot {
	return snapshot{
		loans:    maps.Clone(s.loans),
		clients:  maps.Clone(s.clients),
		promises: maps.Clone(s.promises),
		routes:   maps.Clone(s.routes),
		visits:   maps.Clone(s.visits),
	}
}

func (s *Store) restore(snap snapshot) {
	s.loans = snap.loans
	s.clients = snap.clients
	s.promises = snap.promises
	s.routes = snap.routes
	s.visits = snap.visits
}

// InjectFault makes the next call of op fail with err. Operation names are
// "<entity>.<method>", e.g. "promise.create" or "loan.touch_contact".
func (s *Store) InjectFault(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = err
}

// fault must be called with the mutex held.
func (s *Store) fault(op string) error {
	err, ok := s.faults[op]
	if !ok {
		return nil
	}
	delete(s.faults, op)
	return err
}
