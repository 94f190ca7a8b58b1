// Package gateway wires consumer tunnels to remote displays.
//
// A Dispatcher serves one consumer stream per HandleConn call: it runs
// the connect negotiation (select, args, connect, ready), dials the
// remote display named by the chosen profile, then relays translated
// display updates and input events until either side ends. Each session
// is two pumps with matched lifetimes; when one direction dies the
// other is torn down with it, and the consumer always sees either a
// clean stream end or one terminal error instruction.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"

	"github.com/avaropoint/viewport/internal/config"
	"github.com/avaropoint/viewport/internal/frame"
	"github.com/avaropoint/viewport/internal/rfb"
	"github.com/avaropoint/viewport/internal/security"
	"github.com/avaropoint/viewport/internal/store"
	"github.com/avaropoint/viewport/internal/tunnel"
	"github.com/avaropoint/viewport/internal/wire"
)

// connectParams are the profile fields a consumer may override in its
// connect instruction, in args-instruction order. An empty value keeps
// the stored profile value.
var connectParams = []string{
	"hostname", "port", "password", "color-depth", "read-only", "swap-red-blue",
}

// Dispatcher turns accepted consumer streams into live sessions. All
// fields must be set.
type Dispatcher struct {
	Store    store.Store
	Registry *tunnel.Registry
	Box      *security.Box
	Config   *config.Config
}

// HandleConn serves one consumer connection end to end and returns when
// the session is finished. The stream is closed on return.
func (d *Dispatcher) HandleConn(ctx context.Context, rwc io.ReadWriteCloser) {
	tun := tunnel.NewStreamTunnel(rwc)
	short := shortID(tun.UUID())

	if addr := remoteAddr(rwc); addr != "" {
		log.Printf("[%s] Consumer connected from %s", short, addr)
	} else {
		log.Printf("[%s] Consumer connected", short)
	}

	client, prof, err := d.negotiate(ctx, tun, short)
	if err != nil {
		reason, code := statusFor(err)
		log.Printf("[%s] Connect failed: %v", short, err)
		_ = tun.WriteInstruction(frame.Error(reason, code))
		_ = tun.Flush()
		_ = tun.Close()
		return
	}

	log.Printf("[%s] Session open: profile %q, display %q %dx%d",
		short, prof.Name, client.Name(), client.Width(), client.Height())

	rec := &store.SessionRecord{
		ID:          tun.UUID().String(),
		ProfileName: prof.Name,
		RemoteAddr:  remoteAddr(rwc),
		StartedAt:   time.Now().UTC(),
	}
	if err := d.Store.RecordSession(ctx, rec); err != nil {
		log.Printf("[%s] Recording session: %v", short, err)
	}
	d.Registry.Add(tun)

	s := &session{
		short:   short,
		client:  client,
		tun:     tun,
		surface: frame.NewSurface(client.Width(), client.Height()),
	}
	cause := s.run(ctx)

	d.Registry.Remove(tun.UUID())
	reason := closeReason(cause)
	// The parent context may already be canceled during shutdown; the
	// session record still gets its end time.
	if err := d.Store.CloseSession(context.Background(), rec.ID, time.Now().UTC(), reason); err != nil {
		log.Printf("[%s] Closing session record: %v", short, err)
	}
	log.Printf("[%s] Session closed: %s", short, reason)
}

// negotiate runs the connect-time handshake on the consumer's wire
// stream and dials the remote display. On success the caller owns the
// returned client.
func (d *Dispatcher) negotiate(ctx context.Context, tun tunnel.Tunnel, short string) (*rfb.Client, *store.Profile, error) {
	in, err := tun.ReadInstruction()
	if err != nil {
		return nil, nil, fmt.Errorf("read select: %w", err)
	}
	if in.Opcode != wire.OpSelect {
		return nil, nil, statusErrf(StatusServerError, "expected select, got %q", in.Opcode)
	}
	name := in.Arg(0)

	prof, err := d.Store.Profile(ctx, name)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve profile: %w", err)
	}
	if prof == nil {
		return nil, nil, statusErrf(StatusNotFound, "no connection profile named %q", name)
	}
	// The store defaults the protocol column to vnc; anything else has
	// no handler here.
	if prof.Protocol != "" && prof.Protocol != "vnc" {
		return nil, nil, statusErrf(StatusServerError, "profile %q uses unsupported protocol %q", name, prof.Protocol)
	}

	if err := tun.WriteInstruction(wire.New(wire.OpArgs, connectParams...)); err != nil {
		return nil, nil, err
	}
	if err := tun.Flush(); err != nil {
		return nil, nil, err
	}

	in, err = tun.ReadInstruction()
	if err != nil {
		return nil, nil, fmt.Errorf("read connect: %w", err)
	}
	if in.Opcode != wire.OpConnect {
		return nil, nil, statusErrf(StatusServerError, "expected connect, got %q", in.Opcode)
	}

	cfg, err := d.displayConfig(prof, in.Args)
	if err != nil {
		return nil, nil, err
	}

	log.Printf("[%s] Connecting to %s:%d for profile %q", short, cfg.Host, cfg.Port, prof.Name)
	client, err := d.dial(ctx, cfg, short)
	if err != nil {
		return nil, nil, err
	}
	return client, prof, nil
}

// displayConfig resolves the stored profile plus connect-time overrides
// into a remote-display client configuration.
func (d *Dispatcher) displayConfig(prof *store.Profile, overrides []string) (rfb.Config, error) {
	cfg := rfb.Config{
		Host:           prof.Host,
		Port:           prof.Port,
		ColorDepth:     prof.ColorDepth,
		ReadOnly:       prof.ReadOnly,
		SwapRedBlue:    prof.SwapRedBlue,
		DialTimeout:    d.Config.UpstreamDialTimeout(),
		PollTimeout:    d.Config.UpstreamPollTimeout(),
		CoalesceWindow: d.Config.CoalesceWindow(),
	}

	if prof.Password != "" {
		pw, err := d.Box.Open(prof.Password)
		if err != nil {
			log.Printf("Unsealing credential for profile %q: %v", prof.Name, err)
			return rfb.Config{}, statusErrf(StatusServerError, "stored credential cannot be read")
		}
		cfg.Password = pw
	}

	for i, v := range overrides {
		if v == "" || i >= len(connectParams) {
			continue
		}
		var err error
		switch connectParams[i] {
		case "hostname":
			cfg.Host = v
		case "port":
			cfg.Port, err = strconv.Atoi(v)
		case "password":
			cfg.Password = v
		case "color-depth":
			cfg.ColorDepth, err = strconv.Atoi(v)
		case "read-only":
			cfg.ReadOnly, err = strconv.ParseBool(v)
		case "swap-red-blue":
			cfg.SwapRedBlue, err = strconv.ParseBool(v)
		}
		if err != nil {
			return rfb.Config{}, statusErrf(StatusServerError, "bad %s value %q", connectParams[i], v)
		}
	}

	if cfg.Host == "" {
		return rfb.Config{}, statusErrf(StatusServerError, "profile has no hostname")
	}
	switch cfg.ColorDepth {
	case 0, 8, 16, 24:
	default:
		return rfb.Config{}, statusErrf(StatusServerError, "unsupported color depth %d", cfg.ColorDepth)
	}
	return cfg, nil
}

// dial connects to the remote display, retrying network failures with
// backoff. Authentication and protocol failures are never retried.
func (d *Dispatcher) dial(ctx context.Context, cfg rfb.Config, short string) (*rfb.Client, error) {
	b := &backoff.Backoff{Max: 2 * time.Second}
	for {
		client, err := rfb.Dial(ctx, cfg)
		if err == nil {
			return client, nil
		}
		var nerr *rfb.NetworkError
		if !errors.As(err, &nerr) {
			return nil, err
		}
		if int(b.Attempt()) >= d.Config.Upstream.DialRetries {
			return nil, err
		}
		wait := b.Duration()
		log.Printf("[%s] Connect to %s:%d failed: %v; retrying in %s", short, cfg.Host, cfg.Port, err, wait)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}

func remoteAddr(rwc io.ReadWriteCloser) string {
	if conn, ok := rwc.(interface{ RemoteAddr() net.Addr }); ok {
		return conn.RemoteAddr().String()
	}
	return ""
}
