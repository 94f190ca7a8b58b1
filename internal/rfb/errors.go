package rfb

import (
	"errors"
	"fmt"
)

// ErrClosed reports the expected end of a connection: the remote side
// closed the stream or Close was called locally. It is not a protocol
// failure and callers should not log it as one.
var ErrClosed = errors.New("connection closed")

// ProtocolError reports remote-display data that cannot be parsed or an
// unsupported message/encoding. The stream is unparseable past this
// point, so the error is fatal to the session; no resynchronization is
// attempted.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

// AuthError reports a failed security negotiation: a bad credential, a
// server-side rejection, or mismatched expectations (password supplied
// where none is wanted).
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Reason
}

// NetworkError reports an I/O failure on the remote-display socket,
// including timeouts at the connect stage.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func protoErrf(format string, args ...any) error {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

func authErrf(format string, args ...any) error {
	return &AuthError{Reason: fmt.Sprintf(format, args...)}
}

func netErr(op string, err error) error {
	return &NetworkError{Op: op, Err: err}
}
