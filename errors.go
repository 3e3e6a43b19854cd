package tokenauth

import (
	"encoding/json"
	"errors"
	"net/http"
)

// ErrorKind classifies public-facing errors
type ErrorKind string

const (
	// KindNotAllowed covers authentication and authorization failures
	KindNotAllowed ErrorKind = "NotAllowedError"

	// KindNotFound covers missing tokens or accounts
	KindNotFound ErrorKind = "NotFoundError"

	// KindInvalidState covers session state conflicts (e.g. an account
	// switch mid-session)
	KindInvalidState ErrorKind = "InvalidStateError"
)

// Error is the public-facing error type returned by handlers. The Message is
// safe to serialize to clients; Cause is attached for logging and wrapping
// but never serialized.
type Error struct {
	Kind    ErrorKind
	Message string
	Status  int
	Cause   error
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithCause attaches an internal cause and returns the error for chaining
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// NewNotAllowedError creates an authz/authn failure (HTTP 400)
func NewNotAllowedError(message string) *Error {
	return &Error{Kind: KindNotAllowed, Message: message, Status: http.StatusBadRequest}
}

// NewNotFoundError creates a missing token/account error (HTTP 404)
func NewNotFoundError(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message, Status: http.StatusNotFound}
}

// NewInvalidStateError creates a session state-conflict error (HTTP 400)
func NewInvalidStateError(message string) *Error {
	return &Error{Kind: KindInvalidState, Message: message, Status: http.StatusBadRequest}
}

// IsKind reports whether err (or anything it wraps) is an *Error of the
// given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// WriteError serializes an error to the response. *Error values keep their
// status and public message; anything else becomes a generic 500 so internal
// causes never leak to the client.
func WriteError(w http.ResponseWriter, err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = &Error{Kind: "InternalError", Message: "An internal server error occurred.", Status: http.StatusInternalServerError, Cause: err}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": e.Message,
		"type":  string(e.Kind),
	})
}
