package common

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Error Code Definition
// --------------------------------------------------------------------------

// ErrCode classifies client errors so callers can react to specific failure
// modes instead of matching on message strings.
type ErrCode uint8

const (
	ErrCUnknown ErrCode = iota

	// ErrCInvalidArgument is a local validation failure. Requests failing
	// validation never reach the network and are reported synchronously.
	ErrCInvalidArgument

	// ErrCRequestTimeout means no response arrived within the configured
	// deadline. The request may or may not have been processed server-side.
	ErrCRequestTimeout

	// ErrCConnection means the transport closed or failed while the request
	// was outstanding, or no connection was available for submission.
	ErrCConnection

	// ErrCProtocol means the server returned a decodable error outcome.
	ErrCProtocol

	// ErrCWrite is a local write failure, e.g. a broken pipe.
	ErrCWrite
)

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is the error type returned by all client operations. It wraps an
// ErrCode, the raw server error kind (protocol errors only) and a message.
type Error struct {
	Code ErrCode
	Kind string // server error kind for ErrCProtocol, empty otherwise
	Msg  string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Msg
}

// --------------------------------------------------------------------------
// Error Factory Functions
// --------------------------------------------------------------------------

// NewInvalidArgumentError creates a local validation error
func NewInvalidArgumentError(format string, args ...interface{}) *Error {
	return &Error{Code: ErrCInvalidArgument, Msg: fmt.Sprintf(format, args...)}
}

// NewTimeoutError creates the error a request is resolved with when its
// deadline passes. The message names the operation that timed out.
func NewTimeoutError(method Method) *Error {
	return &Error{Code: ErrCRequestTimeout, Msg: fmt.Sprintf("%s timeout", method)}
}

// NewConnectionError creates a connection-level error
func NewConnectionError(format string, args ...interface{}) *Error {
	return &Error{Code: ErrCConnection, Msg: fmt.Sprintf(format, args...)}
}

// NewWriteError wraps a local write failure, preserving the underlying message
func NewWriteError(err error) *Error {
	return &Error{Code: ErrCWrite, Msg: err.Error()}
}

// NewProtocolError translates a server error kind into a client error.
// Known kinds map to human-readable messages, unknown kinds are passed
// through with their raw kind.
func NewProtocolError(kind string) *Error {
	msg := fmt.Sprintf("server error: %s", kind)
	if kind == ErrKindUnknownBucketType {
		msg = "Invalid bucket type"
	}
	return &Error{Code: ErrCProtocol, Kind: kind, Msg: msg}
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// ErrorCode extracts the ErrCode from an error, ErrCUnknown if the error is
// not a *Error.
func ErrorCode(err error) ErrCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCUnknown
}

// IsTimeout reports whether an error is a request timeout.
func IsTimeout(err error) bool {
	return ErrorCode(err) == ErrCRequestTimeout
}
