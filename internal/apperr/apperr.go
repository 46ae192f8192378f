// Package apperr defines the error kinds shared by adapters, the batch writer,
// the sync orchestrator and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation and HTTP mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindBadRequest
	KindUpstream
	KindParse
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindBadRequest:
		return "bad_request"
	case KindUpstream:
		return "upstream_error"
	case KindParse:
		return "parse_error"
	case KindStorage:
		return "storage_error"
	default:
		return "internal"
	}
}

// Error carries a Kind, the failing operation and, for upstream failures, the HTTP status.
type Error struct {
	Kind   Kind
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("HTTP %d: %s", e.Status, msg)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an error of kind k with a plain message.
func New(k Kind, msg string) *Error {
	return &Error{Kind: k, Err: errors.New(msg)}
}

// NotFound reports an unknown source or id.
func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Err: fmt.Errorf(format, args...)}
}

// BadRequest reports a missing or invalid parameter.
func BadRequest(format string, args ...any) error {
	return &Error{Kind: KindBadRequest, Err: fmt.Errorf(format, args...)}
}

// Upstream reports a network failure (status 0) or non-2xx provider response.
func Upstream(op string, status int, err error) error {
	return &Error{Kind: KindUpstream, Op: op, Status: status, Err: err}
}

// Parse reports malformed feed content.
func Parse(op string, err error) error {
	return &Error{Kind: KindParse, Op: op, Err: err}
}

// Storage reports a persistence failure.
func Storage(op string, err error) error {
	return &Error{Kind: KindStorage, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries kind k.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// HTTPStatus maps err to the status the API responds with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUpstream, KindParse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
