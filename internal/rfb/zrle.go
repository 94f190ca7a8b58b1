package rfb

import (
	"bytes"
	"compress/zlib"
	"image"
	"image/color"
	"io"
)

// ZRLE subencoding selectors.
const (
	zrleRawTile    = 0
	zrleSolidTile  = 1
	zrleMaxPalette = 16
	zrlePlainRLE   = 128
	zrlePaletteRLE = 130 // 130..255: palette of (subenc-128) colors
)

// zrleStream is the session-lifetime zlib stream for ZRLE rectangles.
// Every rectangle's compressed block belongs to one continuous deflate
// stream, so the inflater must persist across rectangles; it is created
// at the first block and fed from an in-memory queue.
type zrleStream struct {
	raw bytes.Buffer
	zr  io.ReadCloser
}

func (z *zrleStream) feed(block []byte) error {
	z.raw.Write(block)
	if z.zr == nil {
		zr, err := zlib.NewReader(&z.raw)
		if err != nil {
			return protoErrf("bad ZRLE zlib header: %v", err)
		}
		z.zr = zr
	}
	return nil
}

func (z *zrleStream) readFull(p []byte) error {
	if _, err := io.ReadFull(z.zr, p); err != nil {
		return protoErrf("truncated ZRLE data: %v", err)
	}
	return nil
}

func (z *zrleStream) readByte() (byte, error) {
	var b [1]byte
	if err := z.readFull(b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// decodeZRLE reads one length-prefixed compressed block, feeds the
// persistent inflater, and decodes the rectangle as 64x64 tiles. Each
// tile selects raw, solid, packed-palette, plain-RLE, or palette-RLE
// subencoding; pixels travel in compressed-pixel form (3 bytes when a
// 32-bit format fits its color in 24 bits).
func (c *Client) decodeZRLE(x, y, w, h int) (Event, error) {
	length, err := c.readUint32()
	if err != nil {
		return nil, err
	}
	if length > 1<<26 {
		return nil, protoErrf("implausible ZRLE block length %d", length)
	}
	block := make([]byte, length)
	if err := c.readFull(block); err != nil {
		return nil, err
	}
	if err := c.z.feed(block); err != nil {
		return nil, err
	}
	if w == 0 || h == 0 {
		return nil, nil
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	cp := c.dec.cpixelSize()
	pix := make([]byte, cp)

	for ty := 0; ty < h; ty += 64 {
		th := min(64, h-ty)
		for tx := 0; tx < w; tx += 64 {
			tw := min(64, w-tx)

			subenc, err := c.z.readByte()
			if err != nil {
				return nil, err
			}

			switch {
			case subenc == zrleRawTile:
				buf := make([]byte, tw*th*cp)
				if err := c.z.readFull(buf); err != nil {
					return nil, err
				}
				off := 0
				for py := 0; py < th; py++ {
					for px := 0; px < tw; px++ {
						img.SetRGBA(tx+px, ty+py, c.dec.cpixel(buf[off:]))
						off += cp
					}
				}

			case subenc == zrleSolidTile:
				if err := c.z.readFull(pix); err != nil {
					return nil, err
				}
				fillRGBA(img, tx, ty, tw, th, c.dec.cpixel(pix))

			case subenc >= 2 && subenc <= zrleMaxPalette:
				if err := c.decodePackedPalette(img, tx, ty, tw, th, int(subenc)); err != nil {
					return nil, err
				}

			case subenc == zrlePlainRLE:
				if err := c.decodePlainRLE(img, tx, ty, tw, th); err != nil {
					return nil, err
				}

			case subenc >= zrlePaletteRLE:
				if err := c.decodePaletteRLE(img, tx, ty, tw, th, int(subenc)-128); err != nil {
					return nil, err
				}

			default: // 17..127 and 129 are not assigned
				return nil, protoErrf("invalid ZRLE subencoding %d", subenc)
			}
		}
	}
	return ImageEvent{X: x, Y: y, Img: img}, nil
}

// readZRLEPalette reads size compressed pixels.
func (c *Client) readZRLEPalette(size int) ([]color.RGBA, error) {
	cp := c.dec.cpixelSize()
	buf := make([]byte, size*cp)
	if err := c.z.readFull(buf); err != nil {
		return nil, err
	}
	pal := make([]color.RGBA, size)
	for i := range pal {
		pal[i] = c.dec.cpixel(buf[i*cp:])
	}
	return pal, nil
}

// decodePackedPalette paints a tile whose pixels are palette indices
// bit-packed per row, MSB first: 1 bit for a 2-color palette, 2 bits
// for 3-4 colors, 4 bits for 5-16.
func (c *Client) decodePackedPalette(img *image.RGBA, tx, ty, tw, th, size int) error {
	pal, err := c.readZRLEPalette(size)
	if err != nil {
		return err
	}
	var bits int
	switch {
	case size <= 2:
		bits = 1
	case size <= 4:
		bits = 2
	default:
		bits = 4
	}
	mask := byte(1<<bits - 1)

	rowLen := (tw*bits + 7) / 8
	row := make([]byte, rowLen)
	for py := 0; py < th; py++ {
		if err := c.z.readFull(row); err != nil {
			return err
		}
		bitpos := 0
		for px := 0; px < tw; px++ {
			shift := 8 - bits - bitpos%8
			idx := int(row[bitpos/8] >> shift & mask)
			bitpos += bits
			if idx >= size {
				return protoErrf("ZRLE palette index %d out of range (palette size %d)", idx, size)
			}
			img.SetRGBA(tx+px, ty+py, pal[idx])
		}
	}
	return nil
}

// decodePlainRLE paints runs of literal pixels. A run length is one
// plus the sum of its bytes, where each 255 byte continues the run:
// [0xFF][0xFF][0x05] is 255+255+5+1 = 516 pixels.
func (c *Client) decodePlainRLE(img *image.RGBA, tx, ty, tw, th int) error {
	cp := c.dec.cpixelSize()
	pix := make([]byte, cp)
	total := tw * th
	pos := 0
	for pos < total {
		if err := c.z.readFull(pix); err != nil {
			return err
		}
		col := c.dec.cpixel(pix)
		run, err := c.readRunLength()
		if err != nil {
			return err
		}
		if pos+run > total {
			return protoErrf("ZRLE run of %d overflows a %dx%d tile at offset %d", run, tw, th, pos)
		}
		for i := 0; i < run; i++ {
			img.SetRGBA(tx+pos%tw, ty+pos/tw, col)
			pos++
		}
	}
	return nil
}

// decodePaletteRLE paints runs of palette indices. An index with the
// high bit set starts a multi-pixel run whose length follows in the
// same continuation encoding as plain RLE.
func (c *Client) decodePaletteRLE(img *image.RGBA, tx, ty, tw, th, size int) error {
	pal, err := c.readZRLEPalette(size)
	if err != nil {
		return err
	}
	total := tw * th
	pos := 0
	for pos < total {
		idx, err := c.z.readByte()
		if err != nil {
			return err
		}
		run := 1
		if idx&0x80 != 0 {
			idx &^= 0x80
			if run, err = c.readRunLength(); err != nil {
				return err
			}
		}
		if int(idx) >= size {
			return protoErrf("ZRLE palette index %d out of range (palette size %d)", idx, size)
		}
		if pos+run > total {
			return protoErrf("ZRLE run of %d overflows a %dx%d tile at offset %d", run, tw, th, pos)
		}
		col := pal[idx]
		for i := 0; i < run; i++ {
			img.SetRGBA(tx+pos%tw, ty+pos/tw, col)
			pos++
		}
	}
	return nil
}

func (c *Client) readRunLength() (int, error) {
	run := 1
	for {
		b, err := c.z.readByte()
		if err != nil {
			return 0, err
		}
		run += int(b)
		if b != 255 {
			break
		}
	}
	return run, nil
}
