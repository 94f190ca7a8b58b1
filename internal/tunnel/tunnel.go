// Package tunnel wraps one live instruction-protocol connection and
// tracks the set of open tunnels for a gateway process.
package tunnel

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/avaropoint/viewport/internal/wire"
)

// ErrClosed is returned for operations on a tunnel that has been
// closed. It marks expected end-of-life, not a fault.
var ErrClosed = errors.New("tunnel closed")

// Tunnel is one consumer connection speaking the instruction protocol.
// Reads and writes are independently serialized, so one goroutine may
// pump instructions out while another drains input.
type Tunnel interface {
	// UUID identifies the tunnel for its whole lifetime.
	UUID() uuid.UUID

	// ReadInstruction blocks until one instruction is available, the
	// stream ends (io.EOF), or the tunnel is closed (ErrClosed).
	ReadInstruction() (wire.Instruction, error)

	// WriteInstruction buffers one instruction for the peer. Callers
	// must Flush before blocking so the peer sees complete
	// instructions promptly.
	WriteInstruction(in wire.Instruction) error

	// Flush forces buffered instructions onto the connection.
	Flush() error

	// Close tears the tunnel down. Closing twice is a no-op returning
	// the first result.
	Close() error
}

// StreamTunnel is a Tunnel over a raw byte stream (TCP connection,
// WebSocket adapter, or an in-memory pipe in tests).
type StreamTunnel struct {
	id  uuid.UUID
	rwc io.ReadWriteCloser

	readMu sync.Mutex
	reader *wire.Reader

	writeMu sync.Mutex
	writer  *wire.Writer

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewStreamTunnel wraps rwc in a tunnel with a fresh UUID.
func NewStreamTunnel(rwc io.ReadWriteCloser) *StreamTunnel {
	return &StreamTunnel{
		id:     uuid.New(),
		rwc:    rwc,
		reader: wire.NewReader(rwc),
		writer: wire.NewWriter(rwc),
	}
}

// UUID identifies the tunnel.
func (t *StreamTunnel) UUID() uuid.UUID { return t.id }

// ReadInstruction returns the next instruction from the peer.
func (t *StreamTunnel) ReadInstruction() (wire.Instruction, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()
	if t.closed.Load() {
		return wire.Instruction{}, ErrClosed
	}
	in, err := t.reader.ReadInstruction()
	if err != nil && t.closed.Load() {
		// The read failed because Close tore the stream down under us.
		return wire.Instruction{}, ErrClosed
	}
	return in, err
}

// WriteInstruction buffers one instruction for the peer.
func (t *StreamTunnel) WriteInstruction(in wire.Instruction) error {
	if t.closed.Load() {
		return ErrClosed
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.writer.WriteInstruction(in)
}

// Flush forces buffered instructions onto the stream.
func (t *StreamTunnel) Flush() error {
	if t.closed.Load() {
		return ErrClosed
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.writer.Flush()
}

// Close closes the underlying stream exactly once. A reader blocked in
// ReadInstruction unblocks with ErrClosed.
func (t *StreamTunnel) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.closeErr = t.rwc.Close()
	})
	return t.closeErr
}
