// Package apperr defines the closed set of error kinds surfaced to callers of
// the auth and admin operations, and their mapping to HTTP status codes.
package apperr

import (
	"errors"
	"net/http"
)

type Kind int

const (
	KindUnexpected Kind = iota
	KindAuthentication
	KindAuthorization
	KindTenantState
	KindConflict
	KindValidation
	KindUnprocessable
	KindNotFound
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindTenantState:
		return "tenant_state"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindUnprocessable:
		return "unprocessable"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "unexpected"
	}
}

// HTTPStatus maps a kind to its status class.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization, KindTenantState:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	case KindUnprocessable:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

const genericMessage = "internal error"

// Error is a typed failure. Message is safe to show to the caller; Err is the
// internal cause and is never rendered.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Authentication(msg string) *Error { return newError(KindAuthentication, msg) }
func Authorization(msg string) *Error  { return newError(KindAuthorization, msg) }
func TenantState(msg string) *Error    { return newError(KindTenantState, msg) }
func Conflict(msg string) *Error       { return newError(KindConflict, msg) }
func Validation(msg string) *Error     { return newError(KindValidation, msg) }
func Unprocessable(msg string) *Error  { return newError(KindUnprocessable, msg) }
func NotFound(msg string) *Error       { return newError(KindNotFound, msg) }
func RateLimited(msg string) *Error    { return newError(KindRateLimited, msg) }

// Unexpected wraps an internal failure behind the generic message.
func Unexpected(err error) *Error {
	return &Error{Kind: KindUnexpected, Message: genericMessage, Err: err}
}

// KindOf returns the kind of err, or KindUnexpected for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpected
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func HTTPStatus(err error) int {
	return KindOf(err).HTTPStatus()
}

// PublicMessage returns the caller-facing text for err. Untyped and unexpected
// errors never leak their cause.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindUnexpected {
		return e.Message
	}
	return genericMessage
}
