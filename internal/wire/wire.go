// Package wire implements the gateway's text instruction protocol.
// An instruction is an opcode followed by zero or more arguments, each
// framed as <length>.<value> with elements separated by commas and the
// instruction terminated by a semicolon, e.g. "5.mouse,2.10,2.20,1.1;".
// Lengths count UTF-8 bytes, so argument content never needs escaping.
package wire

import (
	"errors"
	"strconv"
	"strings"
)

// Protocol limits. An instruction exceeding any of these is malformed
// and fatal to the stream that carried it.
const (
	// MaxInstructionLength is the maximum total size of a single
	// instruction in bytes, including all framing.
	MaxInstructionLength = 8192

	// maxLengthDigits caps the digit run of a length prefix.
	maxLengthDigits = 5

	// maxElements caps the element count (opcode plus arguments).
	maxElements = 128
)

// Opcodes produced by the gateway.
const (
	OpName      = "name"
	OpSize      = "size"
	OpPNG       = "png"
	OpCursor    = "cursor"
	OpCopy      = "copy"
	OpBell      = "bell"
	OpClipboard = "clipboard"
	OpError     = "error"
	OpArgs      = "args"
	OpReady     = "ready"
	OpPipe      = "pipe"
	OpBlob      = "blob"
	OpEnd       = "end"
)

// Opcodes consumed from the client side of a tunnel.
const (
	OpSelect     = "select"
	OpConnect    = "connect"
	OpMouse      = "mouse"
	OpKey        = "key"
	OpReject     = "reject"
	OpDisconnect = "disconnect"
)

// ErrMalformed reports instruction data that violates the framing rules:
// a non-digit in a length prefix, a length that does not line up with its
// delimiter, or an exceeded protocol limit.
var ErrMalformed = errors.New("malformed instruction")

// Instruction is the unit of exchange on the wire: an opcode and its
// ordered arguments. Instructions are immutable once constructed.
type Instruction struct {
	Opcode string
	Args   []string
}

// New constructs an instruction from an opcode and its arguments.
func New(opcode string, args ...string) Instruction {
	return Instruction{Opcode: opcode, Args: args}
}

// Arg returns the i-th argument, or the empty string when the
// instruction has fewer arguments. Keeps dispatch sites free of
// bounds checks for optional trailing arguments.
func (in Instruction) Arg(i int) string {
	if i < 0 || i >= len(in.Args) {
		return ""
	}
	return in.Args[i]
}

// String renders the instruction in wire form.
func (in Instruction) String() string {
	var b strings.Builder
	appendElement(&b, in.Opcode)
	for _, arg := range in.Args {
		b.WriteByte(',')
		appendElement(&b, arg)
	}
	b.WriteByte(';')
	return b.String()
}

// Encode renders an instruction directly from its parts.
func Encode(opcode string, args ...string) []byte {
	return []byte(New(opcode, args...).String())
}

func appendElement(b *strings.Builder, s string) {
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteByte('.')
	b.WriteString(s)
}
