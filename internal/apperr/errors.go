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
)

// Kind classifies an error for transport mapping.
type Kind string

const (
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindForbidden  Kind = "forbidden"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindInternal   Kind = "internal"
)

// Machine-readable reason codes
const (
	CodeInvalidRequest        = "INVALID_REQUEST"
	CodeInvalidCoordinates    = "INVALID_COORDINATES"
	CodeInvalidOutcome        = "INVALID_OUTCOME"
	CodeInvalidAmount         = "INVALID_AMOUNT"
	CodeMissingPromiseDetails = "MISSING_PROMISE_DETAILS"
	CodeUnauthenticated       = "UNAUTHENTICATED"
	CodeForbidden             = "FORBIDDEN"
	CodeLoanNotFound          = "LOAN_NOT_FOUND"
	CodeClientNotFound        = "CLIENT_NOT_FOUND"
	CodeRouteNotFound         = "ROUTE_NOT_FOUND"
	CodeVisitNotFound         = "VISIT_NOT_FOUND"
	CodePromiseNotFound       = "PROMISE_NOT_FOUND"
	CodeNoEligibleLoans       = "NO_ELIGIBLE_LOANS"
	CodeCapacityExceeded      = "CAPACITY_EXCEEDED"
	CodeDuplicateRoute        = "DUPLICATE_ROUTE"
	CodeDuplicateStop         = "DUPLICATE_STOP"
	CodeRouteCompleted        = "ROUTE_COMPLETED"
	CodeStaleRoute            = "STALE_ROUTE"
	CodeAlreadyRecorded       = "ALREADY_RECORDED"
	CodeInvalidTransition     = "INVALID_TRANSITION"
	CodePendingPromiseExists  = "PENDING_PROMISE_EXISTS"
	CodeRateLimited           = "RATE_LIMITED"
	CodeInternal              = "INTERNAL"
)

// Error is a classified application error carrying a reason code.
type Error struct {
	Kind    Kind   `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors of the same kind and code so that sentinels survive Wrap.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// Wrap returns a copy of e with cause attached.
func (e *Error) Wrap(cause error) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: e.Message, Err: cause}
}

// WithMessage returns a copy of e with a more specific message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...), Err: e.Err}
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Validation(code, message string) *Error { return New(KindValidation, code, message) }
func Auth(code, message string) *Error       { return New(KindAuth, code, message) }
func Forbidden(code, message string) *Error  { return New(KindForbidden, code, message) }
func NotFound(code, message string) *Error   { return New(KindNotFound, code, message) }
func Conflict(code, message string) *Error   { return New(KindConflict, code, message) }

// Internal wraps an unexpected failure.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: "internal error", Err: err}
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf reports the kind of err; unclassified errors are internal.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps a kind to its HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
