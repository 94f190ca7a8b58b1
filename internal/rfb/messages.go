package rfb

import "encoding/binary"

// writeSetPixelFormat tells the server how to encode pixels from now
// on: 3 bytes of padding, then the 16-byte format record.
func (c *Client) writeSetPixelFormat(f PixelFormat) error {
	msg := make([]byte, 0, 4+pixelFormatLen)
	msg = append(msg, msgSetPixelFormat, 0, 0, 0)
	msg = append(msg, f.encode()...)
	return c.writeRaw(msg)
}

// writeSetEncodings announces the supported rectangle encodings in
// preference order: 1 byte padding, a count, then one signed 32-bit
// value per encoding.
func (c *Client) writeSetEncodings(encodings ...int32) error {
	msg := make([]byte, 4+4*len(encodings))
	msg[0] = msgSetEncodings
	binary.BigEndian.PutUint16(msg[2:4], uint16(len(encodings)))
	for i, e := range encodings {
		binary.BigEndian.PutUint32(msg[4+4*i:], uint32(e))
	}
	return c.writeRaw(msg)
}

// RequestUpdate asks the server for the next framebuffer update over
// the whole frame. A non-incremental request forces a full repaint.
func (c *Client) RequestUpdate(incremental bool) error {
	var msg [10]byte
	msg[0] = msgFramebufferUpdateRequest
	if incremental {
		msg[1] = 1
	}
	binary.BigEndian.PutUint16(msg[6:8], uint16(c.width))
	binary.BigEndian.PutUint16(msg[8:10], uint16(c.height))
	return c.writeRaw(msg[:])
}

// SendKey queues one key transition. Key events are never coalesced;
// they are transmitted in order by FlushEvents.
func (c *Client) SendKey(keysym uint32, pressed bool) {
	if c.cfg.ReadOnly {
		return
	}
	c.keys.push(keysym, pressed)
}

// SendPointer queues the pointer state. Rapid position changes inside
// the coalescing window collapse to the most recent one; button-mask
// changes are transmitted on the next FlushEvents regardless.
func (c *Client) SendPointer(x, y int, mask byte) {
	if c.cfg.ReadOnly {
		return
	}
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	c.pointer.push(x, y, mask)
}

// SendClipboard transmits clipboard text to the server immediately.
func (c *Client) SendClipboard(text string) error {
	if c.cfg.ReadOnly {
		return nil
	}
	data := []byte(text)
	msg := make([]byte, 0, 8+len(data))
	msg = append(msg, msgClientCutText, 0, 0, 0)
	msg = binary.BigEndian.AppendUint32(msg, uint32(len(data)))
	msg = append(msg, data...)
	return c.writeRaw(msg)
}

// FlushEvents drains the outbound queues to the server: every queued
// key event, then the pending pointer state if it is due. Set force to
// bypass the pointer coalescing window (used at teardown).
func (c *Client) FlushEvents(force bool) error {
	for _, k := range c.keys.drain() {
		var msg [8]byte
		msg[0] = msgKeyEvent
		if k.pressed {
			msg[1] = 1
		}
		binary.BigEndian.PutUint32(msg[4:8], k.keysym)
		if err := c.writeRaw(msg[:]); err != nil {
			return err
		}
	}

	if p, ok := c.pointer.drain(force); ok {
		var msg [6]byte
		msg[0] = msgPointerEvent
		msg[1] = p.mask
		binary.BigEndian.PutUint16(msg[2:4], uint16(p.x))
		binary.BigEndian.PutUint16(msg[4:6], uint16(p.y))
		if err := c.writeRaw(msg[:]); err != nil {
			return err
		}
	}
	return nil
}

// PendingEvents reports whether the outbound queues still hold
// anything, so a pump can schedule another flush.
func (c *Client) PendingEvents() bool {
	return !c.keys.empty() || c.pointer.waiting()
}
