// SPDX-License-Identifier: MIT

// Package apierr defines the typed error kinds every component surfaces.
// The pipeline orchestrator and internal/problem are the only places that
// know how to turn one of these into an HTTP response; every other
// component returns (or wraps) a *Error and nothing else.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a stable machine-readable error classification.
type Kind string

const (
	KindUnauthorized         Kind = "UNAUTHORIZED"
	KindForbidden            Kind = "FORBIDDEN"
	KindNotFound             Kind = "NOT_FOUND"
	KindValidation           Kind = "VALIDATION"
	KindQuotaExceeded        Kind = "SUBSCRIPTION_LIMIT_EXCEEDED"
	KindRateLimited          Kind = "RATE_LIMITED"
	KindUpstreamUnavailable  Kind = "UPSTREAM_UNAVAILABLE"
	KindConflict             Kind = "CONFLICT"
	KindTimeout              Kind = "TIMEOUT"
	KindInternal             Kind = "INTERNAL"
)

// httpStatus maps each Kind to its default HTTP status.
var httpStatus = map[Kind]int{
	KindUnauthorized:        http.StatusUnauthorized,
	KindForbidden:           http.StatusForbidden,
	KindNotFound:            http.StatusNotFound,
	KindValidation:          http.StatusBadRequest,
	KindQuotaExceeded:       http.StatusForbidden,
	KindRateLimited:         http.StatusTooManyRequests,
	KindUpstreamUnavailable: http.StatusServiceUnavailable,
	KindConflict:            http.StatusBadRequest,
	KindTimeout:             http.StatusGatewayTimeout,
	KindInternal:            http.StatusInternalServerError,
}

// Error is the typed error every component returns. Details carries
// kind-specific structured data (QuotaExceeded's {limit,used,tier},
// RateLimited's retryAfter, Conflict's referencing IDs, Validation's
// field errors).
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// Status returns the HTTP status associated with e's Kind.
func (e *Error) Status() int {
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New builds an *Error with no details.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error that unwraps to cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithDetails returns a copy of e with Details set.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

func Unauthorized(message string) *Error { return New(KindUnauthorized, message) }
func Forbidden(message string) *Error    { return New(KindForbidden, message) }
func NotFound(message string) *Error     { return New(KindNotFound, message) }

// Validation builds a field-scoped validation error.
func Validation(message string, fields map[string]any) *Error {
	return New(KindValidation, message).WithDetails(fields)
}

// QuotaExceeded builds the §4.8/§7 quota rejection with its required
// structured fields.
func QuotaExceeded(limit, used int, tier string) *Error {
	return New(KindQuotaExceeded, "monthly custom session limit reached").WithDetails(map[string]any{
		"limit": limit,
		"used":  used,
		"tier":  tier,
	})
}

// RateLimited builds the §4.2/§7 rejection with its retry hint.
func RateLimited(retryAfterSec int64) *Error {
	return New(KindRateLimited, "rate limit exceeded").WithDetails(map[string]any{
		"retryAfter": retryAfterSec,
	})
}

// UpstreamUnavailable wraps a transient provider/KV/DB failure after
// retries have been exhausted.
func UpstreamUnavailable(message string, cause error) *Error {
	return Wrap(KindUpstreamUnavailable, message, cause)
}

// Conflict builds the §4.3 deletion-blocked error with the referencing IDs.
func Conflict(message string, referencingIDs []string) *Error {
	return New(KindConflict, message).WithDetails(map[string]any{
		"references": referencingIDs,
	})
}

func Timeout(retryAfterSec int64) *Error {
	return New(KindTimeout, "request deadline exceeded").WithDetails(map[string]any{
		"retryAfter": retryAfterSec,
	})
}

func Internal(message string, cause error) *Error {
	return Wrap(KindInternal, message, cause)
}

// As is a convenience wrapper over errors.As for the common
// "is this an *Error of kind K" check.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
