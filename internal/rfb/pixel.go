package rfb

import (
	"encoding/binary"
	"image/color"
)

// PixelFormat is the fixed-layout pixel format record exchanged during
// the handshake: how many bits one pixel occupies and where each color
// channel sits inside it.
type PixelFormat struct {
	BitsPerPixel uint8
	Depth        uint8
	BigEndian    bool
	TrueColor    bool
	RedMax       uint16
	GreenMax     uint16
	BlueMax      uint16
	RedShift     uint8
	GreenShift   uint8
	BlueShift    uint8
}

// pixelFormatLen is the wire size of the record including padding.
const pixelFormatLen = 16

// formatForDepth maps a requested color depth to the pixel format the
// client asks the server to use. Channel bits are packed red-high
// (red shift = green bits + blue bits), and bits-per-pixel rounds up to
// the next power-of-two byte size.
func formatForDepth(depth int) PixelFormat {
	var rBits, gBits, bBits, bpp uint8
	switch depth {
	case 8:
		rBits, gBits, bBits, bpp = 3, 3, 2, 8
	case 16:
		rBits, gBits, bBits, bpp = 5, 6, 5, 16
	default: // 24
		rBits, gBits, bBits, bpp = 8, 8, 8, 32
	}
	return PixelFormat{
		BitsPerPixel: bpp,
		Depth:        rBits + gBits + bBits,
		BigEndian:    false,
		TrueColor:    true,
		RedMax:       1<<rBits - 1,
		GreenMax:     1<<gBits - 1,
		BlueMax:      1<<bBits - 1,
		RedShift:     gBits + bBits,
		GreenShift:   bBits,
		BlueShift:    0,
	}
}

func parsePixelFormat(b []byte) PixelFormat {
	return PixelFormat{
		BitsPerPixel: b[0],
		Depth:        b[1],
		BigEndian:    b[2] != 0,
		TrueColor:    b[3] != 0,
		RedMax:       binary.BigEndian.Uint16(b[4:6]),
		GreenMax:     binary.BigEndian.Uint16(b[6:8]),
		BlueMax:      binary.BigEndian.Uint16(b[8:10]),
		RedShift:     b[10],
		GreenShift:   b[11],
		BlueShift:    b[12],
	}
}

func (f PixelFormat) encode() []byte {
	b := make([]byte, pixelFormatLen)
	b[0] = f.BitsPerPixel
	b[1] = f.Depth
	if f.BigEndian {
		b[2] = 1
	}
	if f.TrueColor {
		b[3] = 1
	}
	binary.BigEndian.PutUint16(b[4:6], f.RedMax)
	binary.BigEndian.PutUint16(b[6:8], f.GreenMax)
	binary.BigEndian.PutUint16(b[8:10], f.BlueMax)
	b[10] = f.RedShift
	b[11] = f.GreenShift
	b[12] = f.BlueShift
	return b
}

// Decoder modes. The mode is fixed at handshake from the negotiated
// format and re-selected only when the server sends a colormap, which
// switches 8-bit pixels from true-color interpretation to palette
// lookup for all pixels decoded afterwards.
const (
	decodeRaw8 = iota
	decodeIndexed8
	decodeRaw16
	decodeRaw32
)

// pixelDecoder turns wire pixel bytes into 8-bit-per-channel colors by
// masking out each channel and scaling it to the 0..255 range.
type pixelDecoder struct {
	format  PixelFormat
	mode    int
	swapRB  bool
	palette [256]color.RGBA
}

func newPixelDecoder(f PixelFormat, swapRB bool) (*pixelDecoder, error) {
	d := &pixelDecoder{format: f, swapRB: swapRB}
	switch f.BitsPerPixel {
	case 8:
		if f.TrueColor {
			d.mode = decodeRaw8
		} else {
			d.mode = decodeIndexed8
		}
	case 16:
		d.mode = decodeRaw16
	case 32:
		d.mode = decodeRaw32
	default:
		return nil, protoErrf("unsupported bits per pixel %d", f.BitsPerPixel)
	}
	return d, nil
}

// bytesPerPixel is the wire size of one pixel in regular encodings.
func (d *pixelDecoder) bytesPerPixel() int {
	return int(d.format.BitsPerPixel) / 8
}

// cpixelSize is the wire size of one compressed pixel as used by ZRLE:
// a 32-bit pixel whose color fits in 24 bits is sent as 3 bytes.
func (d *pixelDecoder) cpixelSize() int {
	if d.format.BitsPerPixel == 32 && d.format.Depth <= 24 {
		return 3
	}
	return d.bytesPerPixel()
}

// pixel decodes one pixel from the first bytesPerPixel() bytes of b.
func (d *pixelDecoder) pixel(b []byte) color.RGBA {
	switch d.mode {
	case decodeIndexed8:
		return d.palette[b[0]]
	case decodeRaw8:
		return d.split(uint32(b[0]))
	case decodeRaw16:
		if d.format.BigEndian {
			return d.split(uint32(binary.BigEndian.Uint16(b)))
		}
		return d.split(uint32(binary.LittleEndian.Uint16(b)))
	default:
		if d.format.BigEndian {
			return d.split(binary.BigEndian.Uint32(b))
		}
		return d.split(binary.LittleEndian.Uint32(b))
	}
}

// cpixel decodes one compressed pixel from the first cpixelSize() bytes
// of b.
func (d *pixelDecoder) cpixel(b []byte) color.RGBA {
	if d.cpixelSize() != 3 {
		return d.pixel(b)
	}
	var v uint32
	if d.format.BigEndian {
		v = uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	} else {
		v = uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
	}
	return d.split(v)
}

func (d *pixelDecoder) split(v uint32) color.RGBA {
	f := d.format
	r := scaleChannel(v, f.RedMax, f.RedShift)
	g := scaleChannel(v, f.GreenMax, f.GreenShift)
	b := scaleChannel(v, f.BlueMax, f.BlueShift)
	if d.swapRB {
		r, b = b, r
	}
	return color.RGBA{R: r, G: g, B: b, A: 0xFF}
}

// scaleChannel extracts one channel and scales it to 8 bits:
// (value >> shift & max) * 255 / max.
func scaleChannel(v uint32, max uint16, shift uint8) uint8 {
	if max == 0 {
		return 0
	}
	return uint8((v >> shift & uint32(max)) * 255 / uint32(max))
}

// setColourMap installs a palette and switches 8-bit decoding to
// indexed mode. Entries outside 0..255 are ignored.
func (d *pixelDecoder) setColourMap(first int, colors []color.RGBA) {
	for i, c := range colors {
		idx := first + i
		if idx < 0 || idx > 255 {
			continue
		}
		d.palette[idx] = c
	}
	if d.format.BitsPerPixel == 8 {
		d.mode = decodeIndexed8
	}
}
