// Package apperr holds the error taxonomy shared by the desk services and
// its mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"net/http"
)

type Kind string

const (
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindGatewayAuth     Kind = "gateway_auth"
	KindGatewayRejected Kind = "gateway_rejected"
	KindStore           Kind = "store"
	KindUnavailable     Kind = "unavailable"
)

// Error is a classified failure. Code is a stable machine-readable name,
// Message is safe to show to the desk operator.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func Store(err error) *Error {
	return Wrap(KindStore, "store_error", "database operation failed", err)
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same kind and code, so sentinels keep
// matching after being copied with a more specific message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Code == e.Code
}

// WithMessage returns a copy of e carrying a more specific message.
func (e *Error) WithMessage(message string) *Error {
	c := *e
	c.Message = message
	return &c
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindGatewayAuth, KindGatewayRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
