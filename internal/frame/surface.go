// Package frame maintains the gateway's copy of a remote framebuffer
// and serializes display updates as instructions for the consumer.
package frame

import "image"

// Surface is the server-side framebuffer state for one session. Update
// rectangles are blitted into it and copy regions moved within it as
// they arrive from the remote display. A Surface is owned by a single
// display pump and is not safe for concurrent use.
type Surface struct {
	img         *image.RGBA
	needRefresh bool
}

// NewSurface allocates a surface of the given dimensions. A fresh
// surface reports NeedRefresh until a full-frame update lands.
func NewSurface(w, h int) *Surface {
	return &Surface{
		img:         image.NewRGBA(image.Rect(0, 0, w, h)),
		needRefresh: true,
	}
}

// Width returns the surface width in pixels.
func (s *Surface) Width() int { return s.img.Rect.Dx() }

// Height returns the surface height in pixels.
func (s *Surface) Height() int { return s.img.Rect.Dy() }

// Image exposes the backing image.
func (s *Surface) Image() *image.RGBA { return s.img }

// NeedRefresh reports whether the surface is still waiting for its
// first full-frame update since allocation or resize. Callers use it
// to decide between full and incremental update requests.
func (s *Surface) NeedRefresh() bool { return s.needRefresh }

// FullFrame reports whether a rectangle of the given size at the
// origin would cover the whole surface.
func (s *Surface) FullFrame(w, h int) bool {
	return w == s.Width() && h == s.Height()
}

// Resize reallocates the surface when the remote display changes
// dimensions. A resize invalidates all content.
func (s *Surface) Resize(w, h int) {
	if s.FullFrame(w, h) {
		return
	}
	s.img = image.NewRGBA(image.Rect(0, 0, w, h))
	s.needRefresh = true
}

// Blit draws src into the surface at (x, y), clipped to the surface
// bounds. A blit covering the whole surface clears the refresh flag.
func (s *Surface) Blit(x, y int, src *image.RGBA) {
	sb := src.Bounds()
	r := image.Rect(x, y, x+sb.Dx(), y+sb.Dy()).Intersect(s.img.Bounds())
	if r.Empty() {
		return
	}
	rowBytes := r.Dx() * 4
	for row := 0; row < r.Dy(); row++ {
		so := src.PixOffset(sb.Min.X+r.Min.X-x, sb.Min.Y+r.Min.Y-y+row)
		do := s.img.PixOffset(r.Min.X, r.Min.Y+row)
		copy(s.img.Pix[do:do+rowBytes], src.Pix[so:so+rowBytes])
	}
	if x == 0 && y == 0 && s.FullFrame(sb.Dx(), sb.Dy()) {
		s.needRefresh = false
	}
}

// Copy moves a w×h rectangle within the surface from (srcX, srcY) to
// (dstX, dstY). Overlapping regions are handled: rows are walked in an
// order that never reads a row already overwritten, and the builtin
// copy is overlap-safe within a row.
func (s *Surface) Copy(srcX, srcY, w, h, dstX, dstY int) {
	if w <= 0 || h <= 0 {
		return
	}
	rowBytes := w * 4
	if dstY > srcY {
		for row := h - 1; row >= 0; row-- {
			so := s.img.PixOffset(srcX, srcY+row)
			do := s.img.PixOffset(dstX, dstY+row)
			copy(s.img.Pix[do:do+rowBytes], s.img.Pix[so:so+rowBytes])
		}
		return
	}
	for row := 0; row < h; row++ {
		so := s.img.PixOffset(srcX, srcY+row)
		do := s.img.PixOffset(dstX, dstY+row)
		copy(s.img.Pix[do:do+rowBytes], s.img.Pix[so:so+rowBytes])
	}
}

// Cursor is the pointer shape most recently published by the remote
// display, with its hotspot offset.
type Cursor struct {
	HotX, HotY int
	Img        *image.RGBA
}
