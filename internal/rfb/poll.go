package rfb

import (
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"io"
	"net"
	"time"
)

// aLongTimeAgo is a read deadline certain to have expired, used to
// probe the stream without blocking.
var aLongTimeAgo = time.Unix(1, 0)

// Poll reads and dispatches at most one server message, returning the
// display events it decoded. With block set it waits up to the
// configured poll timeout for a message to begin; without it, it
// returns immediately when nothing is buffered. Either way a timeout
// yields (nil, nil) so the caller can re-request updates and notice
// shutdown. Once a message has begun its body is read to completion.
func (c *Client) Poll(block bool) ([]Event, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if len(c.pending) > 0 {
		return c.takePending(), nil
	}
	if c.State() != StateConnected {
		return nil, ErrClosed
	}

	if block {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PollTimeout))
	} else if c.br.Buffered() == 0 {
		_ = c.conn.SetReadDeadline(aLongTimeAgo)
	}
	_, err := c.br.Peek(1)
	_ = c.conn.SetReadDeadline(time.Time{})
	if err != nil {
		var nerr net.Error
		switch {
		case errors.As(err, &nerr) && nerr.Timeout():
			return nil, nil
		case err == io.EOF || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe):
			return nil, ErrClosed
		default:
			return nil, netErr("read", err)
		}
	}

	msgType, err := c.br.ReadByte()
	if err != nil {
		return nil, netErr("read", err)
	}

	switch msgType {
	case msgFramebufferUpdate:
		return c.readFramebufferUpdate()
	case msgSetColourMapEntries:
		return nil, c.readColourMap()
	case msgBell:
		return []Event{BellEvent{}}, nil
	case msgServerCutText:
		return c.readServerCutText()
	default:
		return nil, protoErrf("unknown server message type %d", msgType)
	}
}

// readFramebufferUpdate decodes one update message: a rectangle count
// followed by that many encoded rectangles, forwarded in server order.
func (c *Client) readFramebufferUpdate() ([]Event, error) {
	var hdr [3]byte // 1 byte padding, 2 byte rectangle count
	if err := c.readFull(hdr[:]); err != nil {
		return nil, err
	}
	count := int(binary.BigEndian.Uint16(hdr[1:3]))

	events := make([]Event, 0, count)
	for i := 0; i < count; i++ {
		var rect [12]byte
		if err := c.readFull(rect[:]); err != nil {
			return events, err
		}
		x := int(binary.BigEndian.Uint16(rect[0:2]))
		y := int(binary.BigEndian.Uint16(rect[2:4]))
		w := int(binary.BigEndian.Uint16(rect[4:6]))
		h := int(binary.BigEndian.Uint16(rect[6:8]))
		enc := int32(binary.BigEndian.Uint32(rect[8:12]))

		if enc != encCursor && enc != encCopyRect {
			if x+w > c.width || y+h > c.height {
				return events, protoErrf("rectangle %dx%d at (%d,%d) exceeds the %dx%d framebuffer",
					w, h, x, y, c.width, c.height)
			}
		}

		var (
			ev  Event
			err error
		)
		switch enc {
		case encRaw:
			ev, err = c.decodeRaw(x, y, w, h)
		case encCopyRect:
			ev, err = c.decodeCopyRect(x, y, w, h)
		case encRRE:
			ev, err = c.decodeRRE(x, y, w, h)
		case encHextile:
			ev, err = c.decodeHextile(x, y, w, h)
		case encZRLE:
			ev, err = c.decodeZRLE(x, y, w, h)
		case encCursor:
			ev, err = c.decodeCursor(x, y, w, h)
		default:
			return events, protoErrf("unsupported encoding %d", enc)
		}
		if err != nil {
			return events, err
		}
		if ev != nil {
			events = append(events, ev)
		}
	}
	return events, nil
}

// decodeRaw reads w*h pixels in the negotiated format.
func (c *Client) decodeRaw(x, y, w, h int) (Event, error) {
	if w == 0 || h == 0 {
		return nil, nil
	}
	bpp := c.dec.bytesPerPixel()
	buf := make([]byte, w*h*bpp)
	if err := c.readFull(buf); err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	off := 0
	for py := 0; py < h; py++ {
		for px := 0; px < w; px++ {
			img.SetRGBA(px, py, c.dec.pixel(buf[off:]))
			off += bpp
		}
	}
	return ImageEvent{X: x, Y: y, Img: img}, nil
}

// decodeCopyRect reads the source origin; no pixel bytes travel. The
// consumer must apply it as a blit on its own framebuffer.
func (c *Client) decodeCopyRect(x, y, w, h int) (Event, error) {
	srcX, err := c.readUint16()
	if err != nil {
		return nil, err
	}
	srcY, err := c.readUint16()
	if err != nil {
		return nil, err
	}
	if int(srcX)+w > c.width || int(srcY)+h > c.height || x+w > c.width || y+h > c.height {
		return nil, protoErrf("copy-rect %dx%d from (%d,%d) to (%d,%d) exceeds the framebuffer",
			w, h, srcX, srcY, x, y)
	}
	if w == 0 || h == 0 {
		return nil, nil
	}
	return CopyEvent{
		SrcX: int(srcX), SrcY: int(srcY),
		Width: w, Height: h,
		DstX: x, DstY: y,
	}, nil
}

// decodeRRE reads a background fill plus colored subrectangles and
// flattens the result to plain pixels.
func (c *Client) decodeRRE(x, y, w, h int) (Event, error) {
	count, err := c.readUint32()
	if err != nil {
		return nil, err
	}
	bpp := c.dec.bytesPerPixel()
	pix := make([]byte, bpp)
	if err := c.readFull(pix); err != nil {
		return nil, err
	}
	if w == 0 || h == 0 {
		// Consume the subrectangles even for a degenerate rectangle.
		skip := make([]byte, bpp+8)
		for i := uint32(0); i < count; i++ {
			if err := c.readFull(skip); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	fillRGBA(img, 0, 0, w, h, c.dec.pixel(pix))

	sub := make([]byte, bpp+8)
	for i := uint32(0); i < count; i++ {
		if err := c.readFull(sub); err != nil {
			return nil, err
		}
		col := c.dec.pixel(sub)
		sx := int(binary.BigEndian.Uint16(sub[bpp:]))
		sy := int(binary.BigEndian.Uint16(sub[bpp+2:]))
		sw := int(binary.BigEndian.Uint16(sub[bpp+4:]))
		sh := int(binary.BigEndian.Uint16(sub[bpp+6:]))
		if sx+sw > w || sy+sh > h {
			return nil, protoErrf("RRE subrectangle %dx%d at (%d,%d) exceeds its %dx%d rectangle",
				sw, sh, sx, sy, w, h)
		}
		fillRGBA(img, sx, sy, sw, sh, col)
	}
	return ImageEvent{X: x, Y: y, Img: img}, nil
}

// decodeCursor reads a cursor image in the negotiated format plus a
// 1-bit mask (row-major, MSB first, each row padded to a byte).
// Masked-off pixels become fully transparent. The rectangle origin is
// the hotspot.
func (c *Client) decodeCursor(hotX, hotY, w, h int) (Event, error) {
	if w == 0 || h == 0 {
		return nil, nil
	}
	bpp := c.dec.bytesPerPixel()
	pixels := make([]byte, w*h*bpp)
	if err := c.readFull(pixels); err != nil {
		return nil, err
	}
	rowLen := (w + 7) / 8
	mask := make([]byte, rowLen*h)
	if err := c.readFull(mask); err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	off := 0
	for py := 0; py < h; py++ {
		for px := 0; px < w; px++ {
			if mask[py*rowLen+px/8]&(0x80>>uint(px%8)) != 0 {
				img.SetRGBA(px, py, c.dec.pixel(pixels[off:]))
			}
			off += bpp
		}
	}
	return CursorEvent{HotX: hotX, HotY: hotY, Img: img}, nil
}

// readColourMap installs a server palette and switches 8-bit decoding
// to indexed lookups for pixels decoded from here on.
func (c *Client) readColourMap() error {
	var hdr [5]byte // 1 byte padding, first colour u16, count u16
	if err := c.readFull(hdr[:]); err != nil {
		return err
	}
	first := int(binary.BigEndian.Uint16(hdr[1:3]))
	count := int(binary.BigEndian.Uint16(hdr[3:5]))

	buf := make([]byte, 6*count)
	if err := c.readFull(buf); err != nil {
		return err
	}
	colors := make([]color.RGBA, count)
	for i := range colors {
		colors[i] = color.RGBA{
			R: uint8(binary.BigEndian.Uint16(buf[6*i:]) >> 8),
			G: uint8(binary.BigEndian.Uint16(buf[6*i+2:]) >> 8),
			B: uint8(binary.BigEndian.Uint16(buf[6*i+4:]) >> 8),
			A: 0xFF,
		}
	}
	c.dec.setColourMap(first, colors)
	return nil
}

// readServerCutText returns the server's new clipboard contents.
func (c *Client) readServerCutText() ([]Event, error) {
	var hdr [7]byte // 3 bytes padding, length u32
	if err := c.readFull(hdr[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(hdr[3:7])
	if length > 1<<20 {
		return nil, protoErrf("implausible cut-text length %d", length)
	}
	text := make([]byte, length)
	if err := c.readFull(text); err != nil {
		return nil, err
	}
	return []Event{ClipboardEvent{Text: string(text)}}, nil
}

// fillRGBA paints a solid rectangle inside img.
func fillRGBA(img *image.RGBA, x, y, w, h int, col color.RGBA) {
	for py := y; py < y+h; py++ {
		for px := x; px < x+w; px++ {
			img.SetRGBA(px, py, col)
		}
	}
}
