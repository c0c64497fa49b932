// Package apperr classifies failures so the transport layers can map them
// to HTTP status codes and WebSocket status events without inspecting
// message text.
package apperr

import (
	"errors"
	"net/http"
)

// Kind is the category of a failure.
type Kind int

const (
	// KindInternal is anything not otherwise classified.
	KindInternal Kind = iota
	// KindValidation is bad or missing caller input.
	KindValidation
	// KindUpstream is a transport failure, non-2xx, or malformed payload
	// from a third-party API.
	KindUpstream
	// KindAuth is a missing, invalid, or expired credential.
	KindAuth
	// KindNotFound is a lookup of something that does not exist or
	// belongs to another identity.
	KindNotFound
	// KindPersistence is a storage failure.
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUpstream:
		return "upstream"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindPersistence:
		return "persistence"
	default:
		return "internal"
	}
}

// Error is a classified failure. Msg is safe to show to the caller; Err
// carries the underlying cause for logs and errors.Is.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String() + " error"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Validation returns a caller-input error.
func Validation(op, msg string) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: msg}
}

// Upstream wraps a third-party failure. The message shown to callers is
// "Provider call failed: <cause>".
func Upstream(op string, err error) *Error {
	return &Error{Kind: KindUpstream, Op: op, Msg: "Provider call failed: " + err.Error(), Err: err}
}

// UpstreamMsg is an upstream failure with a caller-facing message of its
// own, such as an empty search result.
func UpstreamMsg(op, msg string) *Error {
	return &Error{Kind: KindUpstream, Op: op, Msg: msg}
}

// Auth returns a credential error.
func Auth(op, msg string) *Error {
	return &Error{Kind: KindAuth, Op: op, Msg: msg}
}

// NotFound returns a missing-resource error.
func NotFound(op, msg string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Msg: msg}
}

// Persistence wraps a storage failure.
func Persistence(op string, err error) *Error {
	return &Error{Kind: KindPersistence, Op: op, Err: err}
}

// KindOf reports the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err's chain carries an *Error of kind k.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// HTTPStatus maps err to the status code the HTTP surface returns.
// Upstream failures are reported as 400, matching the provider routes.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindUpstream:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
