package wire

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"io"
	"sync"
)

// writerBufferSize is the internal batching buffer. Writes are
// accumulated until the buffer fills or Flush is called; callers must
// flush before blocking on a read so the peer sees complete
// instructions promptly.
const writerBufferSize = 8192

// Writer serializes instructions onto a byte stream. Writes from
// multiple goroutines are serialized by an internal mutex; buffered
// output is sent when the buffer fills or on Flush.
type Writer struct {
	mu sync.Mutex
	bw *bufio.Writer
}

// NewWriter returns a Writer targeting w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{bw: bufio.NewWriterSize(w, writerBufferSize)}
}

// WriteInstruction appends one instruction to the output buffer.
func (w *Writer) WriteInstruction(in Instruction) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.bw.WriteString(in.String())
	return err
}

// Flush forces buffered instructions onto the underlying stream.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bw.Flush()
}

// Blob accumulates binary payload as base64 for use as a single
// instruction argument (image tiles, pipe data). Write streams bytes
// through the encoder; String finalizes the encoding and returns the
// argument value.
type Blob struct {
	buf    bytes.Buffer
	enc    io.WriteCloser
	closed bool
}

// NewBlob returns an empty Blob.
func NewBlob() *Blob {
	b := &Blob{}
	b.enc = base64.NewEncoder(base64.StdEncoding, &b.buf)
	return b
}

// Write encodes p into the blob.
func (b *Blob) Write(p []byte) (int, error) {
	if b.closed {
		return 0, io.ErrClosedPipe
	}
	return b.enc.Write(p)
}

// String closes the encoder and returns the base64 argument value.
// Further writes fail.
func (b *Blob) String() string {
	if !b.closed {
		b.closed = true
		_ = b.enc.Close()
	}
	return b.buf.String()
}
