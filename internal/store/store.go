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

// Package store defines the transaction boundary shared by every repository.
//
// A transaction is carried in the context: repositories called with a context
// returned by WithinTx participate in that transaction, and nested WithinTx
// calls join the outermost one instead of opening a new unit.
package store

import (
	"context"
	"log/slog"
	"sync"
)

// Transactor runs fn as one atomic unit.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type hooksKey struct{}

// Hooks collects callbacks to run once the outermost transaction commits.
type Hooks struct {
	mu  sync.Mutex
	fns []func(context.Context)
}

// WithHooks attaches a fresh hook list to ctx. Transactor implementations
// call it when opening the outermost transaction.
func WithHooks(ctx context.Context) (context.Context, *Hooks) {
	h := &Hooks{}
	return context.WithValue(ctx, hooksKey{}, h), h
}

// Run executes the collected hooks in registration order. A panicking hook
// is logged and does not prevent the rest from running.
func (h *Hooks) Run(ctx context.Context) {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()

	for _, fn := range fns {
		runHook(ctx, fn)
	}
}

func runHook(ctx context.Context, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "after-commit hook panicked", slog.Any("panic", r))
		}
	}()
	fn(ctx)
}

// AfterCommit defers fn until the surrounding transaction commits. Outside a
// transaction fn runs immediately. Hooks of a rolled back transaction are
// discarded.
func AfterCommit(ctx context.Context, fn func(context.Context)) {
	h, ok := ctx.Value(hooksKey{}).(*Hooks)
	if !ok {
		runHook(ctx, fn)
		return
	}
	h.mu.Lock()
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
}
