// Package rfb implements the client side of the RFB (VNC) remote
// framebuffer protocol: version and security handshake, DES challenge
// authentication, pixel-format negotiation, and decoding of framebuffer
// updates across the raw, copy-rect, RRE, hextile, ZRLE, and cursor
// encodings into abstract display events. Outbound key and pointer
// events are queued with time-based coalescing and written to the
// server on demand.
package rfb

import "time"

// Protocol version exchanged during the handshake. The server banner
// must carry the "RFB " prefix; the client always answers 003.003.
const (
	versionPrefix = "RFB "
	clientVersion = "RFB 003.003\n"
)

// Security types (protocol 3.3: the server picks exactly one).
const (
	secInvalid = 0
	secNone    = 1
	secVNCAuth = 2
)

// Security handshake results.
const authOK = 0

// Server to client message types.
const (
	msgFramebufferUpdate   = 0
	msgSetColourMapEntries = 1
	msgBell                = 2
	msgServerCutText       = 3
)

// Client to server message types.
const (
	msgSetPixelFormat           = 0
	msgSetEncodings             = 2
	msgFramebufferUpdateRequest = 3
	msgKeyEvent                 = 4
	msgPointerEvent             = 5
	msgClientCutText            = 6
)

// Rectangle encodings, in the order offered to the server. Servers pick
// the first mutually supported encoding per rectangle, so copy-rect and
// ZRLE lead.
const (
	encRaw      = 0
	encCopyRect = 1
	encRRE      = 2
	encHextile  = 5
	encZRLE     = 16
	encCursor   = -239
)

// Pointer button bits for the PointerEvent mask.
const (
	ButtonLeft       = 1 << 0
	ButtonMiddle     = 1 << 1
	ButtonRight      = 1 << 2
	ButtonScrollUp   = 1 << 3
	ButtonScrollDown = 1 << 4
)

// Defaults for Config fields left zero.
const (
	defaultColorDepth     = 24
	defaultDialTimeout    = 10 * time.Second
	defaultPollTimeout    = 2 * time.Second
	defaultCoalesceWindow = 500 * time.Millisecond
)

// Config describes how to reach and negotiate with one remote display.
type Config struct {
	Host     string
	Port     int
	Password string // used when the server demands VNC authentication

	// ColorDepth selects the requested pixel format: 8, 16, or 24.
	ColorDepth int

	// ReadOnly suppresses all outbound key and pointer events.
	ReadOnly bool

	// SwapRedBlue swaps the red and blue channels of decoded pixels,
	// for servers that report an inverted channel order.
	SwapRedBlue bool

	// DialTimeout bounds the TCP connect.
	DialTimeout time.Duration

	// PollTimeout bounds one blocking Poll so the caller regains
	// control periodically even on an idle connection.
	PollTimeout time.Duration

	// CoalesceWindow is the deadline window for pointer-event
	// coalescing; intermediate positions inside the window are
	// dropped in favor of the most recent one.
	CoalesceWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.ColorDepth == 0 {
		c.ColorDepth = defaultColorDepth
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.PollTimeout == 0 {
		c.PollTimeout = defaultPollTimeout
	}
	if c.CoalesceWindow == 0 {
		c.CoalesceWindow = defaultCoalesceWindow
	}
	return c
}

// State is the client lifecycle position.
type State int32

// Client states. Connected is the only state in which Poll and the
// event queues operate.
const (
	StateDisconnected State = iota
	StateHandshaking
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}
