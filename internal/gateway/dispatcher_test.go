package gateway

import (
	"bytes"
	"context"
	"crypto/des"
	"encoding/base64"
	"encoding/binary"
	"image"
	"image/png"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/avaropoint/viewport/internal/config"
	"github.com/avaropoint/viewport/internal/security"
	"github.com/avaropoint/viewport/internal/store"
	"github.com/avaropoint/viewport/internal/tunnel"
	"github.com/avaropoint/viewport/internal/wire"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, store.Store) {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "gateway.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	box, err := security.NewBox(bytes.Repeat([]byte{0x5A}, security.KeySize))
	require.NoError(t, err)

	reg := tunnel.NewRegistry(0, 0)
	t.Cleanup(reg.Close)

	cfg := config.Default()
	cfg.Upstream.PollTimeout = "100ms"
	cfg.Upstream.DialTimeout = "2s"
	cfg.Upstream.DialRetries = 1
	cfg.Events.CoalesceWindow = "20ms"

	return &Dispatcher{Store: st, Registry: reg, Box: box, Config: cfg}, st
}

// startDisplay runs a scripted remote display on a loopback listener
// serving exactly one connection.
func startDisplay(t *testing.T, handler func(net.Conn)) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() }) //nolint:errcheck
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close() //nolint:errcheck
		handler(conn)
	}()
	return "127.0.0.1", ln.Addr().(*net.TCPAddr).Port
}

// displayScript drives the server end of a remote-display connection.
// Assertions use t.Errorf so a mismatch fails the test without killing
// the exchange.
type displayScript struct {
	t *testing.T
	c net.Conn
}

func (s *displayScript) write(b []byte) {
	if _, err := s.c.Write(b); err != nil {
		s.t.Errorf("display write: %v", err)
	}
}

func (s *displayScript) writeUint32(v uint32) {
	s.write(binary.BigEndian.AppendUint32(nil, v))
}

func (s *displayScript) read(n int) []byte {
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.c, buf); err != nil {
		s.t.Errorf("display read: %v", err)
	}
	return buf
}

// serverFormat is the native format announced in the server init; the
// client replaces it with its own request immediately after.
var serverFormat = []byte{32, 24, 0, 1, 0, 255, 0, 255, 0, 255, 16, 8, 0, 0, 0, 0}

// finishHandshake runs everything after security: client init, server
// init, and the client's SetPixelFormat and SetEncodings messages.
func (s *displayScript) finishHandshake(name string, w, h int) {
	s.read(1) // shared flag

	init := make([]byte, 0, 24+len(name))
	init = binary.BigEndian.AppendUint16(init, uint16(w))
	init = binary.BigEndian.AppendUint16(init, uint16(h))
	init = append(init, serverFormat...)
	init = binary.BigEndian.AppendUint32(init, uint32(len(name)))
	init = append(init, name...)
	s.write(init)

	s.read(20) // SetPixelFormat
	s.read(28) // SetEncodings, six entries
}

// redDisplay serves a no-auth display that answers the first update
// request with one full-frame raw rectangle of solid red, then absorbs
// whatever else the client sends until it hangs up.
func redDisplay(t *testing.T, name string, w, h int) func(net.Conn) {
	return func(c net.Conn) {
		s := &displayScript{t: t, c: c}
		s.write([]byte("RFB 003.008\n"))
		s.read(12)
		s.writeUint32(1) // security: none
		s.finishHandshake(name, w, h)

		req := s.read(10)
		if req[0] != 3 {
			t.Errorf("first post-init message = %d, want FramebufferUpdateRequest", req[0])
		}
		if req[1] != 0 {
			t.Errorf("first update request incremental = %d, want 0", req[1])
		}

		update := make([]byte, 0, 16+w*h*4)
		update = append(update, 0, 0, 0, 1)                   // FramebufferUpdate, one rect
		update = binary.BigEndian.AppendUint16(update, 0)     // x
		update = binary.BigEndian.AppendUint16(update, 0)     // y
		update = binary.BigEndian.AppendUint16(update, uint16(w))
		update = binary.BigEndian.AppendUint16(update, uint16(h))
		update = binary.BigEndian.AppendUint32(update, 0) // raw encoding
		update = append(update, bytes.Repeat([]byte{0x00, 0x00, 0xFF, 0x00}, w*h)...)
		s.write(update)

		io.Copy(io.Discard, c) //nolint:errcheck
	}
}

// consumer drives the client end of a tunnel at the wire level.
type consumer struct {
	t    *testing.T
	conn net.Conn
	r    *wire.Reader
	w    *wire.Writer
}

func newConsumer(t *testing.T, conn net.Conn) *consumer {
	t.Helper()
	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))
	return &consumer{t: t, conn: conn, r: wire.NewReader(conn), w: wire.NewWriter(conn)}
}

func (c *consumer) send(opcode string, args ...string) {
	c.t.Helper()
	require.NoError(c.t, c.w.WriteInstruction(wire.New(opcode, args...)))
	require.NoError(c.t, c.w.Flush())
}

func (c *consumer) expect(opcode string) wire.Instruction {
	c.t.Helper()
	in, err := c.r.ReadInstruction()
	require.NoError(c.t, err)
	require.Equal(c.t, opcode, in.Opcode)
	return in
}

func (c *consumer) expectError(code string) wire.Instruction {
	c.t.Helper()
	in := c.expect(wire.OpError)
	require.Equal(c.t, code, in.Arg(1), "status code, reason %q", in.Arg(0))
	return in
}

func TestSessionEndToEnd(t *testing.T) {
	host, port := startDisplay(t, redDisplay(t, "Test", 800, 600))

	d, st := newTestDispatcher(t)
	ctx := context.Background()
	require.NoError(t, st.SaveProfile(ctx, &store.Profile{
		Name: "lab", Protocol: "vnc", Host: host, Port: port,
	}))

	gwEnd, consumerEnd := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.HandleConn(ctx, gwEnd)
	}()

	c := newConsumer(t, consumerEnd)
	c.send(wire.OpSelect, "lab")

	args := c.expect(wire.OpArgs)
	require.Equal(t, connectParams, args.Args)
	c.send(wire.OpConnect, "", "", "", "", "", "")

	ready := c.expect(wire.OpReady)
	id, err := uuid.Parse(ready.Arg(0))
	require.NoError(t, err)
	require.Equal(t, 1, d.Registry.Len())
	require.NotNil(t, d.Registry.Get(id))

	require.Equal(t, "Test", c.expect(wire.OpName).Arg(0))
	require.Equal(t, []string{"800", "600"}, c.expect(wire.OpSize).Args)

	img := c.expectImage(0, 0)
	require.Equal(t, 800, img.Bounds().Dx())
	require.Equal(t, 600, img.Bounds().Dy())
	for _, pt := range []image.Point{{0, 0}, {799, 0}, {0, 599}, {799, 599}, {400, 300}} {
		r, g, b, _ := img.At(pt.X, pt.Y).RGBA()
		require.Equal(t, []uint32{255, 0, 0}, []uint32{r >> 8, g >> 8, b >> 8},
			"pixel at %v", pt)
	}

	c.send(wire.OpDisconnect)
	<-done

	require.Equal(t, 0, d.Registry.Len())
	sessions, err := st.RecentSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, id.String(), sessions[0].ID)
	require.Equal(t, "lab", sessions[0].ProfileName)
	require.NotNil(t, sessions[0].EndedAt)
	require.Equal(t, "consumer disconnected", sessions[0].CloseReason)
}

// expectImage reads a png instruction at the given origin and decodes
// its blob.
func (c *consumer) expectImage(x, y int) image.Image {
	c.t.Helper()
	in := c.expect(wire.OpPNG)
	require.Equal(c.t, []string{strconv.Itoa(x), strconv.Itoa(y)}, in.Args[:2])
	raw, err := base64.StdEncoding.DecodeString(in.Arg(2))
	require.NoError(c.t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(c.t, err)
	return img
}

func TestSessionVNCAuthSealedPassword(t *testing.T) {
	challenge := bytes.Repeat([]byte{0xC3, 0x3C}, 8)

	host, port := startDisplay(t, func(conn net.Conn) {
		s := &displayScript{t: t, c: conn}
		s.write([]byte("RFB 003.008\n"))
		s.read(12)
		s.writeUint32(2) // vnc authentication
		s.write(challenge)

		response := s.read(16)
		block, err := des.NewCipher(vncChallengeKey("secret12"))
		if err != nil {
			t.Errorf("building reference cipher: %v", err)
			return
		}
		want := make([]byte, 16)
		block.Encrypt(want[:8], challenge[:8])
		block.Encrypt(want[8:], challenge[8:])
		if !bytes.Equal(response, want) {
			t.Errorf("challenge response = %x, want %x", response, want)
		}
		s.writeUint32(0) // auth OK

		s.finishHandshake("Secure", 64, 48)
		io.Copy(io.Discard, conn) //nolint:errcheck
	})

	d, st := newTestDispatcher(t)
	ctx := context.Background()
	sealed, err := d.Box.Seal("secret12")
	require.NoError(t, err)
	require.NoError(t, st.SaveProfile(ctx, &store.Profile{
		Name: "secure", Protocol: "vnc", Host: host, Port: port, Password: sealed,
	}))

	gwEnd, consumerEnd := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.HandleConn(ctx, gwEnd)
	}()

	c := newConsumer(t, consumerEnd)
	c.send(wire.OpSelect, "secure")
	c.expect(wire.OpArgs)
	c.send(wire.OpConnect)

	c.expect(wire.OpReady)
	require.Equal(t, "Secure", c.expect(wire.OpName).Arg(0))

	c.send(wire.OpDisconnect)
	<-done
}

// vncChallengeKey derives the legacy challenge cipher key: the password
// truncated or null-padded to 8 bytes with the bits of each byte
// reversed.
func vncChallengeKey(password string) []byte {
	key := make([]byte, 8)
	copy(key, password)
	for i, b := range key {
		var rev byte
		for bit := 0; bit < 8; bit++ {
			rev = rev<<1 | (b>>bit)&1
		}
		key[i] = rev
	}
	return key
}

func TestConnectUnknownProfile(t *testing.T) {
	d, _ := newTestDispatcher(t)

	gwEnd, consumerEnd := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.HandleConn(context.Background(), gwEnd)
	}()

	c := newConsumer(t, consumerEnd)
	c.send(wire.OpSelect, "ghost")
	c.expectError("517") // 0x0205 not found
	<-done
}

func TestConnectRejectsUnsupportedProtocol(t *testing.T) {
	d, st := newTestDispatcher(t)
	ctx := context.Background()
	require.NoError(t, st.SaveProfile(ctx, &store.Profile{
		Name: "terminal", Protocol: "rdp", Host: "127.0.0.1", Port: 3389,
	}))

	gwEnd, consumerEnd := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.HandleConn(ctx, gwEnd)
	}()

	c := newConsumer(t, consumerEnd)
	c.send(wire.OpSelect, "terminal")
	in := c.expectError("512")
	require.Contains(t, in.Arg(0), "rdp")
	<-done
}

func TestConnectRejectsWrongOpcode(t *testing.T) {
	d, _ := newTestDispatcher(t)

	gwEnd, consumerEnd := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.HandleConn(context.Background(), gwEnd)
	}()

	c := newConsumer(t, consumerEnd)
	c.send(wire.OpMouse, "10", "20", "1")
	c.expectError("512") // 0x0200 generic
	<-done
}

func TestConnectRejectsBadOverride(t *testing.T) {
	d, st := newTestDispatcher(t)
	ctx := context.Background()
	require.NoError(t, st.SaveProfile(ctx, &store.Profile{
		Name: "lab", Protocol: "vnc", Host: "127.0.0.1", Port: 5900,
	}))

	gwEnd, consumerEnd := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.HandleConn(ctx, gwEnd)
	}()

	c := newConsumer(t, consumerEnd)
	c.send(wire.OpSelect, "lab")
	c.expect(wire.OpArgs)
	c.send(wire.OpConnect, "", "nope")
	c.expectError("512")
	<-done
}

func TestConnectUpstreamUnavailable(t *testing.T) {
	// Grab a port that nothing listens on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	d, st := newTestDispatcher(t)
	ctx := context.Background()
	require.NoError(t, st.SaveProfile(ctx, &store.Profile{
		Name: "gone", Protocol: "vnc", Host: "127.0.0.1", Port: port,
	}))

	gwEnd, consumerEnd := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.HandleConn(ctx, gwEnd)
	}()

	c := newConsumer(t, consumerEnd)
	c.send(wire.OpSelect, "gone")
	c.expect(wire.OpArgs)
	c.send(wire.OpConnect)
	c.expectError("519") // 0x0207 upstream unavailable
	<-done
}

func TestConnectAuthRejected(t *testing.T) {
	host, port := startDisplay(t, func(conn net.Conn) {
		s := &displayScript{t: t, c: conn}
		s.write([]byte("RFB 003.008\n"))
		s.read(12)
		s.writeUint32(0) // invalid security type: rejection with reason
		reason := "too many authentication failures"
		s.writeUint32(uint32(len(reason)))
		s.write([]byte(reason))
	})

	d, st := newTestDispatcher(t)
	ctx := context.Background()
	require.NoError(t, st.SaveProfile(ctx, &store.Profile{
		Name: "locked", Protocol: "vnc", Host: host, Port: port,
	}))

	gwEnd, consumerEnd := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.HandleConn(ctx, gwEnd)
	}()

	c := newConsumer(t, consumerEnd)
	c.send(wire.OpSelect, "locked")
	c.expect(wire.OpArgs)
	c.send(wire.OpConnect)
	in := c.expectError("771") // 0x0303 forbidden
	require.Contains(t, in.Arg(0), "too many authentication failures")
	<-done
}

func TestMalformedConsumerInstructionEndsSession(t *testing.T) {
	host, port := startDisplay(t, redDisplay(t, "Test", 8, 6))

	d, st := newTestDispatcher(t)
	ctx := context.Background()
	require.NoError(t, st.SaveProfile(ctx, &store.Profile{
		Name: "lab", Protocol: "vnc", Host: host, Port: port,
	}))

	gwEnd, consumerEnd := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.HandleConn(ctx, gwEnd)
	}()

	c := newConsumer(t, consumerEnd)
	c.send(wire.OpSelect, "lab")
	c.expect(wire.OpArgs)
	c.send(wire.OpConnect)
	c.expect(wire.OpReady)
	c.expect(wire.OpName)
	c.expect(wire.OpSize)
	c.expect(wire.OpPNG)

	_, err := consumerEnd.Write([]byte("garbage;"))
	require.NoError(t, err)

	c.expectError("512")
	<-done

	sessions, err := st.RecentSessions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.NotNil(t, sessions[0].EndedAt)
}
