package wire

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"
)

func TestWriterBuffersUntilFlush(t *testing.T) {
	var out bytes.Buffer
	w := NewWriter(&out)

	if err := w.WriteInstruction(New("size", "800", "600")); err != nil {
		t.Fatalf("WriteInstruction: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("wrote %d bytes before Flush, want 0", out.Len())
	}

	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got, want := out.String(), "4.size,3.800,3.600;"; got != want {
		t.Errorf("flushed %q, want %q", got, want)
	}
}

func TestWriterAutoFlushWhenFull(t *testing.T) {
	var out bytes.Buffer
	w := NewWriter(&out)

	big := New("blob", "0", strings.Repeat("A", writerBufferSize))
	if err := w.WriteInstruction(big); err != nil {
		t.Fatalf("WriteInstruction: %v", err)
	}
	if out.Len() == 0 {
		t.Error("no bytes written after exceeding the buffer size")
	}
}

func TestBlob(t *testing.T) {
	payload := []byte{0x00, 0x01, 0xFE, 0xFF, 0x80}
	b := NewBlob()
	if _, err := b.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got := b.String()
	want := base64.StdEncoding.EncodeToString(payload)
	if got != want {
		t.Errorf("Blob = %q, want %q", got, want)
	}

	// String is stable and the blob rejects further writes.
	if again := b.String(); again != got {
		t.Errorf("second String = %q, want %q", again, got)
	}
	if _, err := b.Write([]byte{1}); err == nil {
		t.Error("Write after String succeeded, want error")
	}
}

func TestBlobAsInstructionArgument(t *testing.T) {
	b := NewBlob()
	b.Write([]byte("pixels"))

	encoded := Encode("png", "0", "0", b.String())
	r := NewReader(bytes.NewReader(encoded))
	in, err := r.ReadInstruction()
	if err != nil {
		t.Fatalf("ReadInstruction: %v", err)
	}
	data, err := base64.StdEncoding.DecodeString(in.Arg(2))
	if err != nil {
		t.Fatalf("decode blob arg: %v", err)
	}
	if string(data) != "pixels" {
		t.Errorf("blob payload = %q, want %q", data, "pixels")
	}
}
