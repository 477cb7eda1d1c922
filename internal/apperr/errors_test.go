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

package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errSample = Conflict(CodeRouteCompleted, "route is completed")

func TestError_IsSurvivesWrapping(t *testing.T) {
	wrapped := fmt.Errorf("reoptimize: %w", errSample.Wrap(errors.New("boom")))

	assert.True(t, errors.Is(wrapped, errSample))
	assert.False(t, errors.Is(wrapped, Conflict(CodeDuplicateRoute, "dup")))

	e, ok := As(wrapped)
	assert.True(t, ok)
	assert.Equal(t, CodeRouteCompleted, e.Code)
	assert.EqualError(t, errors.Unwrap(e), "boom")
}

func TestError_WithMessageKeepsCode(t *testing.T) {
	e := errSample.WithMessage("route %s is completed", "r-1")
	assert.Equal(t, "route r-1 is completed", e.Message)
	assert.True(t, errors.Is(e, errSample))
	assert.Equal(t, "route is completed", errSample.Message)
}

func TestKindOf_HTTPStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{Validation(CodeInvalidOutcome, "x"), http.StatusBadRequest},
		{Auth(CodeUnauthenticated, "x"), http.StatusUnauthorized},
		{Forbidden(CodeForbidden, "x"), http.StatusForbidden},
		{NotFound(CodeVisitNotFound, "x"), http.StatusNotFound},
		{Conflict(CodeAlreadyRecorded, "x"), http.StatusConflict},
		{Internal(errors.New("db down")), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.status, HTTPStatus(KindOf(tt.err)), tt.err.Error())
	}
}
