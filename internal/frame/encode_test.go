package frame

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/avaropoint/viewport/internal/wire"
)

func TestPNGInstruction(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.SetRGBA(1, 0, color.RGBA{R: 255, A: 255})

	in, err := PNG(30, 40, img)
	if err != nil {
		t.Fatalf("PNG: %v", err)
	}
	if in.Opcode != wire.OpPNG {
		t.Fatalf("opcode = %q, want png", in.Opcode)
	}
	if in.Arg(0) != "30" || in.Arg(1) != "40" {
		t.Errorf("position args = %q,%q, want 30,40", in.Arg(0), in.Arg(1))
	}

	raw, err := base64.StdEncoding.DecodeString(in.Arg(2))
	if err != nil {
		t.Fatalf("blob is not base64: %v", err)
	}
	decoded, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("blob is not a PNG: %v", err)
	}
	r, _, _, _ := decoded.At(1, 0).RGBA()
	if r>>8 != 255 {
		t.Errorf("decoded red channel = %d, want 255", r>>8)
	}
}

func TestCursorInstruction(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))

	in, err := CursorInstruction(1, 2, img)
	if err != nil {
		t.Fatalf("CursorInstruction: %v", err)
	}
	if in.Opcode != wire.OpCursor {
		t.Fatalf("opcode = %q, want cursor", in.Opcode)
	}
	if in.Arg(0) != "1" || in.Arg(1) != "2" {
		t.Errorf("hotspot args = %q,%q, want 1,2", in.Arg(0), in.Arg(1))
	}
	if _, err := base64.StdEncoding.DecodeString(in.Arg(2)); err != nil {
		t.Errorf("cursor blob is not base64: %v", err)
	}
}

func TestCopyInstructionWireForm(t *testing.T) {
	in := CopyInstruction(10, 20, 30, 40, 50, 60)
	want := "4.copy,2.10,2.20,2.30,2.40,2.50,2.60;"
	if got := in.String(); got != want {
		t.Errorf("encoded = %q, want %q", got, want)
	}
}

func TestSizeNameClipboardBell(t *testing.T) {
	var buf bytes.Buffer
	w := wire.NewWriter(&buf)
	for _, in := range []wire.Instruction{
		Size(800, 600),
		Name("Test"),
		Clipboard("copied text"),
		Bell(),
	} {
		if err := w.WriteInstruction(in); err != nil {
			t.Fatalf("WriteInstruction: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	want := "4.size,3.800,3.600;4.name,4.Test;9.clipboard,11.copied text;4.bell;"
	if got := buf.String(); got != want {
		t.Errorf("encoded = %q, want %q", got, want)
	}
}

func TestErrorInstruction(t *testing.T) {
	in := Error("upstream refused the connection", 0x0207)
	if in.Opcode != wire.OpError {
		t.Fatalf("opcode = %q, want error", in.Opcode)
	}
	if in.Arg(0) != "upstream refused the connection" {
		t.Errorf("reason = %q", in.Arg(0))
	}
	if in.Arg(1) != "519" {
		t.Errorf("code = %q, want 519 (0x0207)", in.Arg(1))
	}
}
