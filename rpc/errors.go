package rpc

import "fmt"

// ErrorCode is the catalog of wire-level call failures, grounded on the
// original source's rpc_errno enum (original_source/src/rpc_connection.c)
// and replacing juicemud's ad-hoc string errors with a fixed, wire-stable
// set a caller can switch on.
type ErrorCode int

const (
	ErrorNone ErrorCode = iota
	ErrorInvalidRequest
	ErrorMethodNotFound
	ErrorInvalidArguments
	ErrorTimedOut
	ErrorAborted
	ErrorResourceExhausted
	ErrorPermissionDenied
	ErrorInternal
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorNone:
		return "none"
	case ErrorInvalidRequest:
		return "invalid_request"
	case ErrorMethodNotFound:
		return "method_not_found"
	case ErrorInvalidArguments:
		return "invalid_arguments"
	case ErrorTimedOut:
		return "timed_out"
	case ErrorAborted:
		return "aborted"
	case ErrorResourceExhausted:
		return "resource_exhausted"
	case ErrorPermissionDenied:
		return "permission_denied"
	case ErrorInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the error type returned by a failed Call: it carries the
// wire ErrorCode so a caller can branch on failure kind instead of
// parsing Message.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc: %s: %s", e.Code, e.Message)
}

// NewError builds an *Error, the standard way handlers report failure
// through an InboundCall.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the ErrorCode from err, defaulting to ErrorInternal
// for any error that isn't an *Error (e.g. one the handler forgot to
// wrap, or a lower-layer transport/codec failure from librpc.WithStack).
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrorNone
	}
	if rpcErr, ok := err.(*Error); ok {
		return rpcErr.Code
	}
	return ErrorInternal
}
