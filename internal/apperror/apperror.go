// Package apperror defines the error taxonomy returned by the ledger services.
// Every rejected command carries a stable dotted code that the presentation
// layer maps to field-level feedback.
package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies an error
type Kind string

const (
	KindValidationRequired Kind = "validation_required"
	KindValidationInvalid  Kind = "validation_invalid"
	KindNotFound           Kind = "not_found"
	KindBusinessRule       Kind = "business_rule"
	KindConflict           Kind = "conflict"
	KindUnauthorized       Kind = "unauthorized"
	KindStorage            Kind = "storage"
	KindUnavailable        Kind = "unavailable"
	KindInternal           Kind = "internal"
)

// CodeInternal is reported for failures with no specific code
const CodeInternal = "internal.error"

// Error is a classified application error
type Error struct {
	Kind  Kind
	Code  string
	Field string
	Err   error
}

func (e *Error) Error() string {
	msg := string(e.Kind) + ": " + e.Code
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Required reports a missing mandatory field
func Required(field string) *Error {
	return &Error{Kind: KindValidationRequired, Code: field + ".required", Field: field}
}

// Invalid reports a malformed field value
func Invalid(field, code string, cause error) *Error {
	return &Error{Kind: KindValidationInvalid, Code: code, Field: field, Err: cause}
}

// NotFound reports a missing or foreign document
func NotFound(field, code string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Field: field}
}

// Rule reports a business rule violation
func Rule(field, code string) *Error {
	return &Error{Kind: KindBusinessRule, Code: code, Field: field}
}

// Conflict reports a lost optimistic-concurrency race
func Conflict(code string, cause error) *Error {
	return &Error{Kind: KindConflict, Code: code, Err: cause}
}

// Unauthorized reports failed authentication
func Unauthorized(code string) *Error {
	return &Error{Kind: KindUnauthorized, Code: code}
}

// Storage wraps a persistence failure
func Storage(cause error) *Error {
	return &Error{Kind: KindStorage, Code: "storage.failure", Err: cause}
}

// Unavailable reports a failing external dependency
func Unavailable(code string, cause error) *Error {
	return &Error{Kind: KindUnavailable, Code: code, Err: cause}
}

// Internal wraps an unexpected failure
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Err: cause}
}

// Internalf builds an internal error from a format string
func Internalf(format string, args ...interface{}) *Error {
	return Internal(fmt.Errorf(format, args...))
}

// As extracts the application error from err
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the kind of err, KindInternal for unclassified errors
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindInternal
}

// CodeOf returns the stable code of err
func CodeOf(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return CodeInternal
}
