package wire

import (
	"fmt"
	"io"
)

// Reader assembles instructions from a byte stream. ReadInstruction
// blocks until a full instruction arrives, the stream ends, or the
// framing breaks; the three outcomes are distinguishable for callers
// that must treat "come back later" differently from "fatal".
type Reader struct {
	src     io.Reader
	parser  Parser
	buf     []byte
	pending []byte // bytes read but not yet consumed by the parser
}

// NewReader returns a Reader drawing from src.
func NewReader(src io.Reader) *Reader {
	return &Reader{src: src, buf: make([]byte, 4096)}
}

// Available reports whether ReadInstruction can make progress without
// blocking on the underlying stream: either a parsed instruction is
// waiting or unconsumed bytes are buffered.
func (r *Reader) Available() bool {
	return r.parser.HasNext() || len(r.pending) > 0
}

// ReadInstruction returns the next instruction from the stream. It
// returns io.EOF when the stream ends cleanly on an instruction
// boundary, and an error wrapping ErrMalformed when the stream ends
// mid-instruction or violates the framing rules.
func (r *Reader) ReadInstruction() (Instruction, error) {
	for {
		for len(r.pending) > 0 {
			n, err := r.parser.Append(r.pending)
			if err != nil {
				return Instruction{}, err
			}
			r.pending = r.pending[n:]
			if n == 0 {
				break
			}
		}
		if in := r.parser.Next(); in != nil {
			return *in, nil
		}

		n, err := r.src.Read(r.buf)
		if n > 0 {
			r.pending = append(r.pending, r.buf[:n]...)
			continue
		}
		if err == nil {
			continue
		}
		if err == io.EOF {
			if r.parser.InProgress() {
				return Instruction{}, fmt.Errorf("%w: stream ended mid-instruction", ErrMalformed)
			}
			return Instruction{}, io.EOF
		}
		return Instruction{}, err
	}
}
