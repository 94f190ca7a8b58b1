package rfb

import (
	"image"
	"image/color"
)

// Hextile tile flags.
const (
	hextileRaw              = 1 << 0
	hextileBackground       = 1 << 1
	hextileForeground       = 1 << 2
	hextileAnySubrects      = 1 << 3
	hextileSubrectsColoured = 1 << 4
)

// decodeHextile processes a rectangle as 16x16 tiles in row-major
// order. Background and foreground colors persist from tile to tile
// within the rectangle until a tile overrides them. Subrectangle
// geometry is nibble-packed: x,y in one byte and (w-1),(h-1) in the
// next.
func (c *Client) decodeHextile(x, y, w, h int) (Event, error) {
	if w == 0 || h == 0 {
		return nil, nil
	}
	bpp := c.dec.bytesPerPixel()
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	var bg, fg color.RGBA
	pix := make([]byte, bpp)
	tile := make([]byte, 16*16*bpp)
	var one [1]byte

	for ty := 0; ty < h; ty += 16 {
		th := min(16, h-ty)
		for tx := 0; tx < w; tx += 16 {
			tw := min(16, w-tx)

			if err := c.readFull(one[:]); err != nil {
				return nil, err
			}
			flags := one[0]

			if flags&hextileRaw != 0 {
				buf := tile[:tw*th*bpp]
				if err := c.readFull(buf); err != nil {
					return nil, err
				}
				off := 0
				for py := 0; py < th; py++ {
					for px := 0; px < tw; px++ {
						img.SetRGBA(tx+px, ty+py, c.dec.pixel(buf[off:]))
						off += bpp
					}
				}
				continue
			}

			if flags&hextileBackground != 0 {
				if err := c.readFull(pix); err != nil {
					return nil, err
				}
				bg = c.dec.pixel(pix)
			}
			fillRGBA(img, tx, ty, tw, th, bg)

			if flags&hextileForeground != 0 {
				if err := c.readFull(pix); err != nil {
					return nil, err
				}
				fg = c.dec.pixel(pix)
			}

			if flags&hextileAnySubrects == 0 {
				continue
			}
			if err := c.readFull(one[:]); err != nil {
				return nil, err
			}
			for i := 0; i < int(one[0]); i++ {
				col := fg
				if flags&hextileSubrectsColoured != 0 {
					if err := c.readFull(pix); err != nil {
						return nil, err
					}
					col = c.dec.pixel(pix)
				}
				var geo [2]byte
				if err := c.readFull(geo[:]); err != nil {
					return nil, err
				}
				sx := int(geo[0] >> 4)
				sy := int(geo[0] & 0x0F)
				sw := int(geo[1]>>4) + 1
				sh := int(geo[1]&0x0F) + 1
				fillRGBA(img, tx+sx, ty+sy, sw, sh, col)
			}
		}
	}
	return ImageEvent{X: x, Y: y, Img: img}, nil
}
