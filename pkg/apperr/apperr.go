// Package apperr carries the error taxonomy shared by every handler.
// The HTTP layer maps a Kind to a status code in one place.
package apperr

import (
	"net/http"

	"github.com/pkg/errors"
)

type Kind int

const (
	KindInternal Kind = iota
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindConflict
	KindValidation
)

func (k Kind) Status() int {
	switch k {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (k Kind) Code() string {
	switch k {
	case KindAuthentication:
		return "UNAUTHORIZED"
	case KindAuthorization:
		return "FORBIDDEN"
	case KindNotFound:
		return "NOT_FOUND"
	case KindConflict:
		return "CONFLICT"
	case KindValidation:
		return "BAD_REQUEST"
	}
	return "INTERNAL_SERVER_ERROR"
}

// Error is a classified failure with a client-safe message.
// Fields is set only for field-level validation failures.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string][]string
}

func (e *Error) Error() string { return e.Message }

func newErr(k Kind, msg string) *Error { return &Error{Kind: k, Message: msg} }

func Unauthenticated(msg string) error { return newErr(KindAuthentication, msg) }
func Forbidden(msg string) error       { return newErr(KindAuthorization, msg) }
func NotFound(msg string) error        { return newErr(KindNotFound, msg) }
func Conflict(msg string) error        { return newErr(KindConflict, msg) }
func Validation(msg string) error      { return newErr(KindValidation, msg) }

// Invalid reports field-level validation errors (Laravel-style map).
func Invalid(fields map[string][]string) error {
	return &Error{Kind: KindValidation, Message: "Validation failed", Fields: fields}
}

// Field builds a single-field validation error.
func Field(name, msg string) error {
	return Invalid(map[string][]string{name: {msg}})
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, k Kind) bool { return err != nil && KindOf(err) == k }
