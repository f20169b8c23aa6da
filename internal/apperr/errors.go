package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies pipeline failures
type Kind string

const (
	KindUnauthorized        Kind = "unauthorized"
	KindForbidden           Kind = "forbidden"
	KindBadRequest          Kind = "bad_request"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindTransientStream     Kind = "transient_stream"
	KindInputUnavailable    Kind = "reconciliation_input_unavailable"
	KindExecutionPartial    Kind = "execution_partial_failure"
	KindNotTradeable        Kind = "not_tradeable"
)

// Error carries a Kind plus an optional upstream status and cause
type Error struct {
	Kind    Kind
	Message string
	Status  int // upstream HTTP status, when one was observed
	Cause   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error of the same Kind, so callers can use errors.Is with the
// sentinel values below.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Status == 0 && t.Cause == nil
}

// Sentinels for errors.Is
var (
	ErrUnauthorized        = &Error{Kind: KindUnauthorized}
	ErrForbidden           = &Error{Kind: KindForbidden}
	ErrBadRequest          = &Error{Kind: KindBadRequest}
	ErrUpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable}
	ErrTransientStream     = &Error{Kind: KindTransientStream}
	ErrInputUnavailable    = &Error{Kind: KindInputUnavailable}
	ErrExecutionPartial    = &Error{Kind: KindExecutionPartial}
	ErrNotTradeable        = &Error{Kind: KindNotTradeable}
)

func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

func BadRequest(message string) *Error {
	return &Error{Kind: KindBadRequest, Message: message}
}

func UpstreamUnavailable(message string, status int, cause error) *Error {
	return &Error{Kind: KindUpstreamUnavailable, Message: message, Status: status, Cause: cause}
}

func TransientStream(message string, cause error) *Error {
	return &Error{Kind: KindTransientStream, Message: message, Cause: cause}
}

func InputUnavailable(input string, cause error) *Error {
	return &Error{Kind: KindInputUnavailable, Message: input, Cause: cause}
}

func ExecutionPartial(message string) *Error {
	return &Error{Kind: KindExecutionPartial, Message: message}
}

func NotTradeable(accountID, status string) *Error {
	return &Error{Kind: KindNotTradeable, Message: fmt.Sprintf("account %s is %s", accountID, status)}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HTTPStatus maps an error to the status the gateway answers with
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
