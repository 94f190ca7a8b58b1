package tunnel

import (
	"encoding/base64"
	"io"
	"strconv"
	"sync"

	"github.com/avaropoint/viewport/internal/wire"
)

// pipeChunkBacklog bounds how many undelivered blob payloads a pipe
// holds before the interceptor's read loop blocks. Backpressure then
// propagates to the stream itself.
const pipeChunkBacklog = 16

// Pipe receives the payload of one resource stream embedded in the
// instruction flow. It implements io.ReadCloser: Read blocks until
// data arrives or the stream ends, and Close cancels the transfer by
// detaching the pipe from its tunnel.
type Pipe struct {
	id   int
	name string

	data chan []byte
	done chan struct{}
	once sync.Once
	err  error

	buf    []byte
	detach func()
}

func newPipe(id int, name string) *Pipe {
	return &Pipe{
		id:   id,
		name: name,
		data: make(chan []byte, pipeChunkBacklog),
		done: make(chan struct{}),
	}
}

// ID returns the stream id the pipe was opened with.
func (p *Pipe) ID() int { return p.id }

// Name returns the stream name announced at open, if any.
func (p *Pipe) Name() string { return p.name }

// feed hands one decoded payload to the reader. Blocks when the
// backlog is full; returns immediately once the pipe is finished.
func (p *Pipe) feed(b []byte) {
	select {
	case p.data <- b:
	case <-p.done:
	}
}

// finish ends the pipe. Pending payloads remain readable; err is
// reported after they drain (io.EOF for a clean end).
func (p *Pipe) finish(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Read returns payload bytes in arrival order.
func (p *Pipe) Read(b []byte) (int, error) {
	for len(p.buf) == 0 {
		select {
		case p.buf = <-p.data:
		case <-p.done:
			select {
			case p.buf = <-p.data:
			default:
				return 0, p.err
			}
		}
	}
	n := copy(b, p.buf)
	p.buf = p.buf[n:]
	return n, nil
}

// Close cancels the transfer, telling the peer to stop sending.
func (p *Pipe) Close() error {
	if p.detach != nil {
		p.detach()
	}
	p.finish(io.ErrClosedPipe)
	return nil
}

// InterceptingTunnel filters a tunnel's inbound instructions,
// diverting resource streams (pipe, blob, end opcodes) into Pipe
// objects so large binary transfers ride the instruction stream
// without the consumer parsing them.
type InterceptingTunnel struct {
	Tunnel

	mu    sync.Mutex
	pipes map[int]*Pipe
}

// Intercept wraps t with resource-stream handling.
func Intercept(t Tunnel) *InterceptingTunnel {
	return &InterceptingTunnel{Tunnel: t, pipes: make(map[int]*Pipe)}
}

// ReadInstruction returns the next non-resource instruction, consuming
// any interleaved resource traffic along the way. A read error fails
// every open pipe before being returned: the stream that fed them is
// gone.
func (t *InterceptingTunnel) ReadInstruction() (wire.Instruction, error) {
	for {
		in, err := t.Tunnel.ReadInstruction()
		if err != nil {
			t.failPipes(err)
			return in, err
		}
		switch in.Opcode {
		case wire.OpPipe:
			t.openPipe(in)
		case wire.OpBlob:
			t.feedPipe(in)
		case wire.OpEnd:
			t.endPipe(in)
		default:
			return in, nil
		}
	}
}

// AttachPipe returns the pipe for id, allocating it when the consumer
// attaches before the peer's open instruction arrives.
func (t *InterceptingTunnel) AttachPipe(id int) *Pipe {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pipes[id]
	if !ok {
		p = newPipe(id, "")
		p.detach = func() { t.DetachPipe(id) }
		t.pipes[id] = p
	}
	return p
}

// DetachPipe cancels the pipe for id, sending a reject so the peer
// stops transferring. The tunnel itself stays up; further blobs for
// the id are dropped.
func (t *InterceptingTunnel) DetachPipe(id int) {
	t.mu.Lock()
	p, ok := t.pipes[id]
	delete(t.pipes, id)
	t.mu.Unlock()
	if !ok {
		return
	}
	p.finish(io.ErrClosedPipe)
	if err := t.WriteInstruction(wire.New(wire.OpReject, strconv.Itoa(id))); err == nil {
		_ = t.Flush()
	}
}

// Close forces open pipes closed first, then closes the tunnel.
func (t *InterceptingTunnel) Close() error {
	t.failPipes(ErrClosed)
	return t.Tunnel.Close()
}

func (t *InterceptingTunnel) openPipe(in wire.Instruction) {
	id, err := strconv.Atoi(in.Arg(0))
	if err != nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.pipes[id]; ok {
		if p.name == "" {
			p.name = in.Arg(1)
		}
		return
	}
	p := newPipe(id, in.Arg(1))
	p.detach = func() { t.DetachPipe(id) }
	t.pipes[id] = p
}

func (t *InterceptingTunnel) feedPipe(in wire.Instruction) {
	id, err := strconv.Atoi(in.Arg(0))
	if err != nil {
		return
	}
	t.mu.Lock()
	p, ok := t.pipes[id]
	t.mu.Unlock()
	if !ok {
		return // unknown or detached stream
	}
	payload, err := base64.StdEncoding.DecodeString(in.Arg(1))
	if err != nil || len(payload) == 0 {
		return
	}
	p.feed(payload)
}

func (t *InterceptingTunnel) endPipe(in wire.Instruction) {
	id, err := strconv.Atoi(in.Arg(0))
	if err != nil {
		return
	}
	t.mu.Lock()
	p, ok := t.pipes[id]
	delete(t.pipes, id)
	t.mu.Unlock()
	if ok {
		p.finish(io.EOF)
	}
}

func (t *InterceptingTunnel) failPipes(err error) {
	t.mu.Lock()
	pipes := t.pipes
	t.pipes = make(map[int]*Pipe)
	t.mu.Unlock()
	for _, p := range pipes {
		p.finish(err)
	}
}
