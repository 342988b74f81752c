// Package errors defines the typed error codes shared by every service and
// the HTTP behavior attached to each code.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	CodeInvalidStateTransition Code = "INVALID_STATE_TRANSITION"
	CodeInsufficientStock      Code = "INSUFFICIENT_STOCK"
	CodeAllocationInvariant    Code = "ALLOCATION_INVARIANT_VIOLATION"
	CodeConnector              Code = "CONNECTOR_ERROR"
	CodeCredential             Code = "CREDENTIAL_ERROR"
	CodeConflictUnresolvable   Code = "CONFLICT_UNRESOLVABLE"
)

// Metadata is how a code surfaces to API callers.
type Metadata struct {
	HTTPStatus    int
	PublicMessage string
	// Retryable codes describe transient failures; callers may try again.
	Retryable bool
	// DetailsAllowed lets WithDetails payloads reach the response body.
	DetailsAllowed bool
	// ExposeMessage replaces PublicMessage with the error's own message.
	ExposeMessage bool
}

type trait uint8

const (
	retryable trait = 1 << iota
	withDetails
	exposed
)

func meta(status int, public string, traits trait) Metadata {
	return Metadata{
		HTTPStatus:     status,
		PublicMessage:  public,
		Retryable:      traits&retryable != 0,
		DetailsAllowed: traits&withDetails != 0,
		ExposeMessage:  traits&exposed != 0,
	}
}

var registry = map[Code]Metadata{
	CodeValidation:    meta(http.StatusBadRequest, "validation failed", withDetails|exposed),
	CodeUnauthorized:  meta(http.StatusUnauthorized, "authentication required", exposed),
	CodeForbidden:     meta(http.StatusForbidden, "access denied", exposed),
	CodeNotFound:      meta(http.StatusNotFound, "resource not found", exposed),
	CodeConflict:      meta(http.StatusConflict, "conflict detected", exposed),
	CodeStateConflict: meta(http.StatusUnprocessableEntity, "state transition disallowed", withDetails|exposed),
	CodeRateLimit:     meta(http.StatusTooManyRequests, "rate limit exceeded", exposed),
	CodeInternal:      meta(http.StatusInternalServerError, "internal server error", retryable),
	CodeDependency:    meta(http.StatusServiceUnavailable, "dependency unavailable", retryable|withDetails),

	CodeInvalidStateTransition: meta(http.StatusConflict, "invalid state transition", withDetails|exposed),
	CodeInsufficientStock:      meta(http.StatusConflict, "insufficient stock", withDetails|exposed),
	CodeAllocationInvariant:    meta(http.StatusUnprocessableEntity, "allocation rejected", withDetails),
	CodeConnector:              meta(http.StatusBadGateway, "channel connector failed", retryable|withDetails),
	CodeCredential:             meta(http.StatusUnprocessableEntity, "channel credentials invalid", exposed),
	CodeConflictUnresolvable:   meta(http.StatusUnprocessableEntity, "conflict requires manual review", withDetails|exposed),
}

// MetadataFor treats unknown codes as internal errors.
func MetadataFor(code Code) Metadata {
	if m, ok := registry[code]; ok {
		return m
	}
	return registry[CodeInternal]
}

// Error is a coded error. The message is internal unless the code's
// metadata exposes it.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches code and message to err. A nil err yields a plain New.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails sets details in place and returns e for chaining.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause == nil {
		return string(e.code) + ": " + e.message
	}
	return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf reports the outermost code, CodeInternal for untyped errors.
func CodeOf(err error) Code {
	if typed := As(err); typed != nil {
		return typed.code
	}
	return CodeInternal
}

// Is reports whether any *Error in err's chain carries code.
func Is(err error, code Code) bool {
	for typed := As(err); typed != nil; typed = As(typed.cause) {
		if typed.code == code {
			return true
		}
	}
	return false
}

// Retryable reports whether err's outermost code describes a transient
// failure.
func Retryable(err error) bool {
	return MetadataFor(CodeOf(err)).Retryable
}
