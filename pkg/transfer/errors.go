package transfer

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies the operation a transfer belongs to.
type Kind int

const (
	KindPublish Kind = iota + 1
	KindSubscribe
	KindHistory
	KindHereNow
	KindTime
	KindLeave
)

// Kinds lists every operation kind.
var Kinds = []Kind{KindPublish, KindSubscribe, KindHistory, KindHereNow, KindTime, KindLeave}

// String returns the kind name used in logs and metric labels.
func (k Kind) String() string {
	switch k {
	case KindPublish:
		return "publish"
	case KindSubscribe:
		return "subscribe"
	case KindHistory:
		return "history"
	case KindHereNow:
		return "here_now"
	case KindTime:
		return "time"
	case KindLeave:
		return "leave"
	default:
		return "unknown"
	}
}

// ErrorKind classifies a failed transfer.
type ErrorKind int

const (
	// EngineRejected means the transfer could not be created or queued.
	EngineRejected ErrorKind = iota + 1
	// TransportFailure covers DNS, connect, TLS, read errors and timeouts.
	TransportFailure
	// HTTPStatus means the service answered with a status >= 400.
	HTTPStatus
	// MalformedResponse means the body was not the expected JSON shape.
	MalformedResponse
)

// String returns the error kind name used in logs and metric labels.
func (k ErrorKind) String() string {
	switch k {
	case EngineRejected:
		return "engine_rejected"
	case TransportFailure:
		return "transport_failure"
	case HTTPStatus:
		return "http_status"
	case MalformedResponse:
		return "malformed_response"
	default:
		return "unknown"
	}
}

// Error is the error type delivered for every failed transfer.
// Callers can use errors.As to extract it:
//
//	var transferErr *transfer.Error
//	if errors.As(err, &transferErr) && transferErr.Kind == transfer.HTTPStatus {
//	    ... transferErr.Status ...
//	}
type Error struct {
	Kind ErrorKind
	// Op is the operation the transfer belonged to.
	Op Kind
	// Status is the HTTP status code for HTTPStatus errors.
	Status int
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == HTTPStatus && e.Err != nil:
		return fmt.Sprintf("%s: %s (%d): %v", e.Op, e.Kind, e.Status, e.Err)
	case e.Kind == HTTPStatus:
		return fmt.Sprintf("%s: %s (%d)", e.Op, e.Kind, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var transferErr *Error
	if errors.As(err, &transferErr) {
		return transferErr.Kind == kind
	}
	return false
}

// Retryable reports whether a subscribe poll that failed with err should be
// re-issued: transport failures, 5xx and rate-limit statuses.
func Retryable(err error) bool {
	var transferErr *Error
	if !errors.As(err, &transferErr) {
		return false
	}
	switch transferErr.Kind {
	case TransportFailure:
		return true
	case HTTPStatus:
		return transferErr.Status >= 500 || transferErr.Status == http.StatusTooManyRequests
	default:
		return false
	}
}

// Malformed wraps a body parse failure for op.
func Malformed(op Kind, err error) *Error {
	return &Error{Kind: MalformedResponse, Op: op, Err: err}
}
