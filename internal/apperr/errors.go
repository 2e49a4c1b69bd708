// Package apperr defines the error taxonomy shared by invokers, the webhook
// reconciler and the sandbox checkout, and maps each kind onto an HTTP status.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthorized
	KindForbidden
	KindValidation
	KindNotFound
	KindConflict
	KindUpstream
	KindStore
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUpstream:
		return "upstream"
	case KindStore:
		return "store"
	}
	return "internal"
}

// Error is a classified error. Msg is what callers see; Err is the cause and
// is only logged.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func Unauthorized() *Error { return &Error{Kind: KindUnauthorized, Msg: "Unauthorized"} }

func Forbidden() *Error { return &Error{Kind: KindForbidden, Msg: "Forbidden"} }

// Required reports a missing payload field.
func Required(field string) *Error {
	return &Error{Kind: KindValidation, Msg: field + " is required"}
}

func Validation(msg string) *Error { return &Error{Kind: KindValidation, Msg: msg} }

func NotFound(msg string) *Error { return &Error{Kind: KindNotFound, Msg: msg} }

func Conflict(msg string) *Error { return &Error{Kind: KindConflict, Msg: msg} }

// Upstream wraps an ERP processing failure; msg is passed through to the caller.
func Upstream(msg string) *Error { return &Error{Kind: KindUpstream, Msg: msg} }

// Store wraps a persistence failure behind a generic message.
func Store(err error) *Error { return &Error{Kind: KindStore, Msg: "store error", Err: err} }

// KindOf returns the kind of err, KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the caller-facing message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "internal error"
}

// HTTPStatus maps err onto a response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUpstream:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
