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

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAfterCommit_OutsideTxRunsImmediately(t *testing.T) {
	ran := false
	AfterCommit(context.Background(), func(context.Context) { ran = true })
	assert.True(t, ran)
}

func TestAfterCommit_DeferredUntilRun(t *testing.T) {
	ctx, hooks := WithHooks(context.Background())

	var order []int
	AfterCommit(ctx, func(context.Context) { order = append(order, 1) })
	AfterCommit(ctx, func(context.Context) { panic("publisher down") })
	AfterCommit(ctx, func(context.Context) { order = append(order, 3) })
	assert.Empty(t, order)

	hooks.Run(context.Background())
	assert.Equal(t, []int{1, 3}, order)

	// hooks run once
	hooks.Run(context.Background())
	assert.Equal(t, []int{1, 3}, order)
}
