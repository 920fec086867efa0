package vpnc

import (
	"errors"
	"fmt"
)

// Code classifies a tunnel failure for the caller.
type Code int

const (
	CodeNone Code = iota
	CodeTCPConnect
	CodeTLSHandshake
	CodeProtocolVersion
	CodeAuthentication
	CodeSession
	CodeDataTransmission
	CodeTimeout
	CodeNotConfigured
	CodeUnknown
)

func (c Code) String() string {
	switch c {
	case CodeNone:
		return "none"
	case CodeTCPConnect:
		return "tcp_connect"
	case CodeTLSHandshake:
		return "tls_handshake"
	case CodeProtocolVersion:
		return "protocol_version"
	case CodeAuthentication:
		return "authentication"
	case CodeSession:
		return "session"
	case CodeDataTransmission:
		return "data_transmission"
	case CodeTimeout:
		return "timeout"
	case CodeNotConfigured:
		return "not_configured"
	default:
		return "unknown"
	}
}

// Error carries the failure code alongside the underlying cause.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf extracts the failure code from err, or CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

var (
	// ErrNotDisconnected rejects Connect on a connection that is not
	// idle.
	ErrNotDisconnected = errors.New("connection is not disconnected")

	// ErrUnexpectedCommand reports a protocol exchange answered with
	// the wrong frame type.
	ErrUnexpectedCommand = errors.New("unexpected command")

	errUnnegotiatedCompression = errors.New("compressed frame but compression was not negotiated")

	// errPollIdle reports that a receive poll expired before the first
	// byte of a frame arrived. Nothing was consumed off the stream.
	errPollIdle = errors.New("receive poll idle")
)
