package gateway

import (
	"errors"
	"fmt"
	"net"

	"github.com/avaropoint/viewport/internal/rfb"
)

// Status codes carried as the second argument of a terminal error
// instruction, in decimal. The values follow the numeric taxonomy
// remote-desktop web clients already understand.
const (
	StatusServerError         = 0x0200
	StatusUpstreamError       = 0x0203
	StatusNotFound            = 0x0205
	StatusUpstreamUnavailable = 0x0207
	StatusUpstreamTimeout     = 0x0208
	StatusForbidden           = 0x0303
)

// statusError is a gateway-originated failure with a consumer-facing
// reason, raised during connect negotiation before a session exists.
type statusError struct {
	code   int
	reason string
}

func (e *statusError) Error() string { return e.reason }

func statusErrf(code int, format string, args ...any) error {
	return &statusError{code: code, reason: fmt.Sprintf(format, args...)}
}

// statusFor maps an error to the reason and code reported to the
// consumer in a terminal error instruction.
func statusFor(err error) (string, int) {
	var serr *statusError
	if errors.As(err, &serr) {
		return serr.reason, serr.code
	}
	var aerr *rfb.AuthError
	if errors.As(err, &aerr) {
		return aerr.Error(), StatusForbidden
	}
	var perr *rfb.ProtocolError
	if errors.As(err, &perr) {
		return perr.Error(), StatusUpstreamError
	}
	var nerr *rfb.NetworkError
	if errors.As(err, &nerr) {
		var ne net.Error
		if errors.As(nerr.Err, &ne) && ne.Timeout() {
			return "remote display timed out", StatusUpstreamTimeout
		}
		return "remote display unreachable: " + nerr.Error(), StatusUpstreamUnavailable
	}
	return err.Error(), StatusServerError
}
