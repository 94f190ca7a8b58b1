package frame

import (
	"fmt"
	"image"
	"image/png"
	"strconv"

	"github.com/avaropoint/viewport/internal/wire"
)

// PNG builds an update-rectangle instruction: the destination x and y
// followed by the image as a base64 PNG blob.
func PNG(x, y int, img image.Image) (wire.Instruction, error) {
	blob := wire.NewBlob()
	if err := png.Encode(blob, img); err != nil {
		return wire.Instruction{}, fmt.Errorf("encode update rect: %w", err)
	}
	return wire.New(wire.OpPNG,
		strconv.Itoa(x), strconv.Itoa(y), blob.String()), nil
}

// CursorInstruction builds a cursor instruction: hotspot x and y
// followed by the pointer image as a base64 PNG blob.
func CursorInstruction(hotX, hotY int, img image.Image) (wire.Instruction, error) {
	blob := wire.NewBlob()
	if err := png.Encode(blob, img); err != nil {
		return wire.Instruction{}, fmt.Errorf("encode cursor: %w", err)
	}
	return wire.New(wire.OpCursor,
		strconv.Itoa(hotX), strconv.Itoa(hotY), blob.String()), nil
}

// CopyInstruction builds a copy instruction moving a region already
// present on the consumer's display.
func CopyInstruction(srcX, srcY, width, height, dstX, dstY int) wire.Instruction {
	return wire.New(wire.OpCopy,
		strconv.Itoa(srcX), strconv.Itoa(srcY),
		strconv.Itoa(width), strconv.Itoa(height),
		strconv.Itoa(dstX), strconv.Itoa(dstY))
}

// Size announces the display dimensions.
func Size(width, height int) wire.Instruction {
	return wire.New(wire.OpSize, strconv.Itoa(width), strconv.Itoa(height))
}

// Name announces the remote desktop name.
func Name(name string) wire.Instruction {
	return wire.New(wire.OpName, name)
}

// Clipboard forwards remote clipboard content to the consumer.
func Clipboard(text string) wire.Instruction {
	return wire.New(wire.OpClipboard, text)
}

// Bell forwards an audible bell request.
func Bell() wire.Instruction {
	return wire.New(wire.OpBell)
}

// Error builds a terminal error instruction carrying a human-readable
// reason and a numeric status code.
func Error(reason string, code int) wire.Instruction {
	return wire.New(wire.OpError, reason, strconv.Itoa(code))
}
