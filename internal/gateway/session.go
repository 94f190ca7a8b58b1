package gateway

import (
	"context"
	"errors"
	"io"
	"log"
	"strconv"

	"github.com/avaropoint/viewport/internal/frame"
	"github.com/avaropoint/viewport/internal/rfb"
	"github.com/avaropoint/viewport/internal/tunnel"
	"github.com/avaropoint/viewport/internal/wire"
)

// session is one live consumer-to-display relay. The display pump owns
// the surface; the relay pump never touches it. The pumps share only
// the client's internally synchronized queues and the tunnel's
// serialized read/write paths.
type session struct {
	short   string
	client  *rfb.Client
	tun     tunnel.Tunnel
	surface *frame.Surface
}

// run announces readiness, drives both pumps until one ends, and tears
// the session down. It returns the cause of the end; nil means the
// consumer disconnected on purpose.
func (s *session) run(ctx context.Context) error {
	err := s.tun.WriteInstruction(wire.New(wire.OpReady, s.tun.UUID().String()))
	if err == nil {
		err = s.tun.Flush()
	}
	if err != nil {
		s.close()
		return err
	}

	errc := make(chan error, 2)
	go func() { errc <- s.displayPump() }()
	go func() { errc <- s.relayPump() }()

	received := 0
	var cause error
	select {
	case cause = <-errc:
		received++
	case <-ctx.Done():
		cause = ctx.Err()
	}

	// Report the failure while the consumer can still hear it; clean
	// ends close silently.
	if reason, code, report := terminalStatus(cause); report {
		_ = s.tun.WriteInstruction(frame.Error(reason, code))
		_ = s.tun.Flush()
	}

	// Closing both ends unblocks whichever pump is still waiting on
	// I/O; collect the remaining results so no goroutine leaks.
	s.close()
	for ; received < 2; received++ {
		<-errc
	}
	return cause
}

func (s *session) close() {
	_ = s.client.Close()
	_ = s.tun.Close()
}

// displayPump translates remote-display events into wire instructions.
// Each pass re-requests a framebuffer update, waits out one bounded
// poll, forwards whatever arrived, and flushes before blocking again so
// the consumer never waits on a partially written batch.
func (s *session) displayPump() error {
	for {
		if err := s.client.RequestUpdate(!s.surface.NeedRefresh()); err != nil {
			return err
		}
		events, err := s.client.Poll(true)
		if err != nil {
			return err
		}
		for _, ev := range events {
			if err := s.forward(ev); err != nil {
				return err
			}
		}
		if err := s.tun.Flush(); err != nil {
			return err
		}
		// The bounded poll doubles as the coalescing clock: a pointer
		// state still queued past its window goes out on this pass.
		if err := s.client.FlushEvents(false); err != nil {
			return err
		}
	}
}

// forward applies one decoded event to the surface and writes its wire
// translation.
func (s *session) forward(ev rfb.Event) error {
	switch ev := ev.(type) {
	case rfb.NameEvent:
		return s.tun.WriteInstruction(frame.Name(ev.Name))
	case rfb.ResizeEvent:
		s.surface.Resize(ev.Width, ev.Height)
		return s.tun.WriteInstruction(frame.Size(ev.Width, ev.Height))
	case rfb.ImageEvent:
		s.surface.Blit(ev.X, ev.Y, ev.Img)
		in, err := frame.PNG(ev.X, ev.Y, ev.Img)
		if err != nil {
			return err
		}
		return s.tun.WriteInstruction(in)
	case rfb.CopyEvent:
		s.surface.Copy(ev.SrcX, ev.SrcY, ev.Width, ev.Height, ev.DstX, ev.DstY)
		return s.tun.WriteInstruction(frame.CopyInstruction(
			ev.SrcX, ev.SrcY, ev.Width, ev.Height, ev.DstX, ev.DstY))
	case rfb.CursorEvent:
		in, err := frame.CursorInstruction(ev.HotX, ev.HotY, ev.Img)
		if err != nil {
			return err
		}
		return s.tun.WriteInstruction(in)
	case rfb.ClipboardEvent:
		return s.tun.WriteInstruction(frame.Clipboard(ev.Text))
	case rfb.BellEvent:
		return s.tun.WriteInstruction(frame.Bell())
	}
	return nil
}

// relayPump turns consumer instructions into remote-display input.
// Returning nil means the consumer ended the session on purpose.
func (s *session) relayPump() error {
	for {
		in, err := s.tun.ReadInstruction()
		if err != nil {
			return err
		}
		switch in.Opcode {
		case wire.OpMouse:
			x, _ := strconv.Atoi(in.Arg(0))
			y, _ := strconv.Atoi(in.Arg(1))
			mask, _ := strconv.Atoi(in.Arg(2))
			s.client.SendPointer(x, y, byte(mask))
		case wire.OpKey:
			keysym, _ := strconv.ParseUint(in.Arg(0), 10, 32)
			s.client.SendKey(uint32(keysym), in.Arg(1) != "0")
		case wire.OpClipboard:
			if err := s.client.SendClipboard(in.Arg(0)); err != nil {
				return err
			}
		case wire.OpDisconnect:
			return nil
		case wire.OpReject:
			// No consumer-facing resource pipes are open during a
			// live display session; nothing to cancel.
		default:
			log.Printf("[%s] Ignoring unknown instruction %q from consumer", s.short, in.Opcode)
		}
		if err := s.client.FlushEvents(false); err != nil {
			return err
		}
	}
}

// terminalStatus decides whether an end cause is reported to the
// consumer as a terminal error instruction, and with what reason and
// status code.
func terminalStatus(err error) (string, int, bool) {
	switch {
	case err == nil,
		errors.Is(err, io.EOF),
		errors.Is(err, tunnel.ErrClosed),
		errors.Is(err, rfb.ErrClosed):
		return "", 0, false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "gateway shutting down", StatusServerError, true
	}
	reason, code := statusFor(err)
	return reason, code, true
}

// closeReason renders an end cause for the session record.
func closeReason(err error) string {
	switch {
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, tunnel.ErrClosed):
		return "consumer disconnected"
	case errors.Is(err, rfb.ErrClosed):
		return "remote display closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "gateway shutdown"
	default:
		return err.Error()
	}
}
