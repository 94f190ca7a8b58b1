package rfb

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
)

// Client speaks the remote framebuffer protocol to one server. Create
// one with Dial (or Connect over an existing stream), consume display
// events with Poll, queue input with SendKey/SendPointer, and drain the
// queues with FlushEvents. All methods are safe for use by one reading
// goroutine plus one writing goroutine.
type Client struct {
	cfg  Config
	conn net.Conn
	br   *bufio.Reader

	readMu  sync.Mutex // guards conn reads and decoder state
	writeMu sync.Mutex // guards conn writes

	state     atomic.Int32
	closeOnce sync.Once
	closeErr  error

	format PixelFormat
	dec    *pixelDecoder
	width  int
	height int
	name   string

	z       zrleStream
	keys    keyQueue
	pointer *pointerQueue

	pending []Event // handshake events, delivered by the first Poll
}

// Dial opens a TCP connection to cfg.Host:cfg.Port and performs the
// full handshake. On error the socket is already closed.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	d := net.Dialer{Timeout: cfg.DialTimeout}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, netErr("connect "+addr, err)
	}
	return Connect(conn, cfg)
}

// Connect performs the handshake over an established connection. On
// error the connection is closed before returning.
func Connect(conn net.Conn, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:     cfg,
		conn:    conn,
		br:      bufio.NewReader(conn),
		pointer: newPointerQueue(cfg.CoalesceWindow),
	}
	c.state.Store(int32(StateHandshaking))

	if err := c.handshake(); err != nil {
		_ = conn.Close()
		c.state.Store(int32(StateDisconnected))
		return nil, err
	}

	c.state.Store(int32(StateConnected))
	return c, nil
}

// State returns the lifecycle position.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Name returns the desktop name announced by the server.
func (c *Client) Name() string { return c.name }

// Width returns the negotiated framebuffer width.
func (c *Client) Width() int { return c.width }

// Height returns the negotiated framebuffer height.
func (c *Client) Height() int { return c.height }

// Format returns the pixel format in effect for decoded updates.
func (c *Client) Format() PixelFormat { return c.format }

// Close shuts the connection down. It is idempotent: the socket is
// closed exactly once and later calls return the first result.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateDisconnecting))
		c.closeErr = c.conn.Close()
		c.state.Store(int32(StateDisconnected))
	})
	return c.closeErr
}

// handshake runs the version/security/init sequence and sends the
// client's pixel format and encoding preferences.
func (c *Client) handshake() error {
	banner := make([]byte, 12)
	if err := c.readFull(banner); err != nil {
		return err
	}
	if string(banner[:4]) != versionPrefix {
		return protoErrf("not a recognized remote-display service (banner %q)", banner)
	}
	if err := c.writeRaw([]byte(clientVersion)); err != nil {
		return err
	}

	if err := c.authenticate(); err != nil {
		return err
	}

	// ClientInit: request a shared desktop.
	if err := c.writeRaw([]byte{1}); err != nil {
		return err
	}

	// ServerInit: dimensions, the server's native pixel format
	// (superseded by our SetPixelFormat below), and the desktop name.
	init := make([]byte, 2+2+pixelFormatLen+4)
	if err := c.readFull(init); err != nil {
		return err
	}
	c.width = int(binary.BigEndian.Uint16(init[0:2]))
	c.height = int(binary.BigEndian.Uint16(init[2:4]))
	nameLen := binary.BigEndian.Uint32(init[4+pixelFormatLen:])
	if nameLen > 1<<16 {
		return protoErrf("implausible desktop name length %d", nameLen)
	}
	nameBuf := make([]byte, nameLen)
	if err := c.readFull(nameBuf); err != nil {
		return err
	}
	c.name = string(nameBuf)

	c.pending = append(c.pending,
		NameEvent{Name: c.name},
		ResizeEvent{Width: c.width, Height: c.height},
	)

	c.format = formatForDepth(c.cfg.ColorDepth)
	dec, err := newPixelDecoder(c.format, c.cfg.SwapRedBlue)
	if err != nil {
		return err
	}
	c.dec = dec

	if err := c.writeSetPixelFormat(c.format); err != nil {
		return err
	}
	return c.writeSetEncodings(encCopyRect, encZRLE, encHextile, encRRE, encRaw, encCursor)
}

// authenticate handles the 4-byte security selector and the chosen
// scheme. Protocol 3.3 gives the client no choice: the server decides.
func (c *Client) authenticate() error {
	sec, err := c.readUint32()
	if err != nil {
		return err
	}

	switch sec {
	case secInvalid:
		reasonLen, err := c.readUint32()
		if err != nil {
			return err
		}
		if reasonLen > 1<<16 {
			return protoErrf("implausible failure reason length %d", reasonLen)
		}
		reason := make([]byte, reasonLen)
		if err := c.readFull(reason); err != nil {
			return err
		}
		return authErrf("server refused the connection: %s", reason)

	case secNone:
		if c.cfg.Password != "" {
			return authErrf("a password was supplied but the server offers no authentication")
		}
		return nil

	case secVNCAuth:
		challenge := make([]byte, 16)
		if err := c.readFull(challenge); err != nil {
			return err
		}
		response, err := encryptChallenge(c.cfg.Password, challenge)
		if err != nil {
			return err
		}
		if err := c.writeRaw(response); err != nil {
			return err
		}
		result, err := c.readUint32()
		if err != nil {
			return err
		}
		if result != authOK {
			return authErrf("server rejected the credential")
		}
		return nil

	default:
		return protoErrf("unknown security type %d", sec)
	}
}

// takePending returns and clears handshake events.
func (c *Client) takePending() []Event {
	out := c.pending
	c.pending = nil
	return out
}

// readFull fills b from the stream, mapping end-of-stream to ErrClosed
// at a message boundary and to a network error inside one.
func (c *Client) readFull(b []byte) error {
	_, err := io.ReadFull(c.br, b)
	switch {
	case err == nil:
		return nil
	case err == io.EOF:
		return ErrClosed
	default:
		return netErr("read", err)
	}
}

func (c *Client) readUint32() (uint32, error) {
	var b [4]byte
	if err := c.readFull(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func (c *Client) readUint16() (uint16, error) {
	var b [2]byte
	if err := c.readFull(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

// writeRaw sends bytes under the write lock.
func (c *Client) writeRaw(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(b); err != nil {
		return netErr("write", err)
	}
	return nil
}
