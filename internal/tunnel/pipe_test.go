package tunnel

import (
	"encoding/base64"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/avaropoint/viewport/internal/wire"
)

// scriptTunnel feeds a fixed instruction sequence and records writes.
type scriptTunnel struct {
	id  uuid.UUID
	in  []wire.Instruction
	pos int

	mu     sync.Mutex
	sent   []wire.Instruction
	closed bool
}

func newScriptTunnel(in ...wire.Instruction) *scriptTunnel {
	return &scriptTunnel{id: uuid.New(), in: in}
}

func (s *scriptTunnel) UUID() uuid.UUID { return s.id }

func (s *scriptTunnel) ReadInstruction() (wire.Instruction, error) {
	if s.pos >= len(s.in) {
		return wire.Instruction{}, io.EOF
	}
	in := s.in[s.pos]
	s.pos++
	return in, nil
}

func (s *scriptTunnel) WriteInstruction(in wire.Instruction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, in)
	return nil
}

func (s *scriptTunnel) Flush() error { return nil }

func (s *scriptTunnel) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *scriptTunnel) sentInstructions() []wire.Instruction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wire.Instruction(nil), s.sent...)
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestInterceptDivertsResourceStream(t *testing.T) {
	st := newScriptTunnel(
		wire.New(wire.OpPipe, "7", "download"),
		wire.New(wire.OpBlob, "7", b64("hello ")),
		wire.New(wire.OpMouse, "1", "2", "0"),
		wire.New(wire.OpBlob, "7", b64("world")),
		wire.New(wire.OpEnd, "7"),
		wire.New(wire.OpKey, "65", "1"),
	)
	tun := Intercept(st)

	in, err := tun.ReadInstruction()
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	if in.Opcode != wire.OpMouse {
		t.Fatalf("first instruction = %q, want the mouse event", in.Opcode)
	}

	p := tun.AttachPipe(7)
	if p.Name() != "download" {
		t.Errorf("pipe name = %q, want download", p.Name())
	}

	in, err = tun.ReadInstruction()
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if in.Opcode != wire.OpKey {
		t.Fatalf("second instruction = %q, want the key event", in.Opcode)
	}

	data, err := io.ReadAll(p)
	if err != nil {
		t.Fatalf("pipe read: %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("pipe payload = %q, want %q", data, "hello world")
	}
}

func TestDetachPipeSendsReject(t *testing.T) {
	st := newScriptTunnel(
		wire.New(wire.OpPipe, "3", "log"),
		wire.New(wire.OpBlob, "3", b64("aaaa")),
		wire.New(wire.OpMouse, "0", "0", "0"),
		wire.New(wire.OpBlob, "3", b64("bbbb")),
		wire.New(wire.OpKey, "65", "0"),
	)
	tun := Intercept(st)

	if _, err := tun.ReadInstruction(); err != nil {
		t.Fatalf("first read: %v", err)
	}
	tun.DetachPipe(3)

	sent := st.sentInstructions()
	if len(sent) != 1 || sent[0].Opcode != wire.OpReject || sent[0].Arg(0) != "3" {
		t.Fatalf("sent = %v, want a single reject for stream 3", sent)
	}

	// Later blobs for the detached stream must be dropped, not revive it.
	in, err := tun.ReadInstruction()
	if err != nil {
		t.Fatalf("read after detach: %v", err)
	}
	if in.Opcode != wire.OpKey {
		t.Errorf("instruction after detach = %q, want the key event", in.Opcode)
	}

	tun.DetachPipe(3)
	if got := len(st.sentInstructions()); got != 1 {
		t.Errorf("instructions sent after repeat detach = %d, want still 1", got)
	}
}

func TestPipeCloseDetaches(t *testing.T) {
	st := newScriptTunnel()
	tun := Intercept(st)

	p := tun.AttachPipe(5)
	if err := p.Close(); err != nil {
		t.Fatalf("pipe Close: %v", err)
	}

	sent := st.sentInstructions()
	if len(sent) != 1 || sent[0].Opcode != wire.OpReject || sent[0].Arg(0) != "5" {
		t.Fatalf("sent = %v, want a reject for stream 5", sent)
	}
	if _, err := p.Read(make([]byte, 4)); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("read from closed pipe = %v, want io.ErrClosedPipe", err)
	}
}

func TestTunnelCloseForcesPipes(t *testing.T) {
	st := newScriptTunnel()
	tun := Intercept(st)
	p := tun.AttachPipe(1)

	if err := tun.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !st.closed {
		t.Error("inner tunnel not closed")
	}
	if _, err := p.Read(make([]byte, 4)); !errors.Is(err, ErrClosed) {
		t.Errorf("pipe read after tunnel close = %v, want ErrClosed", err)
	}
}

func TestReadErrorFailsPipes(t *testing.T) {
	st := newScriptTunnel(
		wire.New(wire.OpPipe, "1", "x"),
		wire.New(wire.OpBlob, "1", b64("tail")),
	)
	tun := Intercept(st)
	p := tun.AttachPipe(1)

	if _, err := tun.ReadInstruction(); !errors.Is(err, io.EOF) {
		t.Fatalf("read = %v, want io.EOF once the script is exhausted", err)
	}

	data, err := io.ReadAll(p)
	if err != nil {
		t.Fatalf("pipe drain: %v", err)
	}
	if string(data) != "tail" {
		t.Errorf("pipe payload = %q, want the data delivered before the failure", data)
	}
}

func TestBlobForUnknownStreamDropped(t *testing.T) {
	st := newScriptTunnel(
		wire.New(wire.OpBlob, "9", b64("stray")),
		wire.New(wire.OpMouse, "4", "5", "0"),
	)
	tun := Intercept(st)

	in, err := tun.ReadInstruction()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if in.Opcode != wire.OpMouse {
		t.Errorf("instruction = %q, want the mouse event", in.Opcode)
	}
}
