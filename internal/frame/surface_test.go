package frame

import (
	"image"
	"image/color"
	"testing"
)

// fill paints every pixel with a coordinate-derived color so that any
// misplaced copy shows up as a mismatch.
func fill(img *image.RGBA) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 13), G: uint8(y * 7), B: uint8(x ^ y), A: 255})
		}
	}
}

func snapshot(img *image.RGBA) *image.RGBA {
	out := image.NewRGBA(img.Bounds())
	copy(out.Pix, img.Pix)
	return out
}

func TestBlitClearsNeedRefresh(t *testing.T) {
	s := NewSurface(8, 8)
	if !s.NeedRefresh() {
		t.Fatal("fresh surface should need a refresh")
	}

	partial := image.NewRGBA(image.Rect(0, 0, 4, 4))
	s.Blit(2, 2, partial)
	if !s.NeedRefresh() {
		t.Error("partial blit should not clear the refresh flag")
	}

	full := image.NewRGBA(image.Rect(0, 0, 8, 8))
	s.Blit(0, 0, full)
	if s.NeedRefresh() {
		t.Error("full-frame blit should clear the refresh flag")
	}
}

func TestBlitPlacesPixels(t *testing.T) {
	s := NewSurface(8, 8)
	src := image.NewRGBA(image.Rect(0, 0, 2, 2))
	fill(src)

	s.Blit(3, 4, src)

	for dy := 0; dy < 2; dy++ {
		for dx := 0; dx < 2; dx++ {
			want := src.RGBAAt(dx, dy)
			if got := s.Image().RGBAAt(3+dx, 4+dy); got != want {
				t.Errorf("pixel (%d,%d) = %v, want %v", 3+dx, 4+dy, got, want)
			}
		}
	}
	if got := s.Image().RGBAAt(2, 4); got != (color.RGBA{}) {
		t.Errorf("pixel left of blit = %v, want zero", got)
	}
}

func TestBlitClipsToSurface(t *testing.T) {
	s := NewSurface(4, 4)
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	fill(src)

	s.Blit(2, 2, src) // lower-right quadrant only

	if got, want := s.Image().RGBAAt(3, 3), src.RGBAAt(1, 1); got != want {
		t.Errorf("pixel (3,3) = %v, want %v", got, want)
	}
	if got := s.Image().RGBAAt(1, 1); got != (color.RGBA{}) {
		t.Errorf("pixel outside clip = %v, want zero", got)
	}
}

func TestCopyOverlapDownRight(t *testing.T) {
	s := NewSurface(6, 6)
	fill(s.Image())
	before := snapshot(s.Image())

	s.Copy(0, 0, 4, 4, 2, 2) // destination overlaps source

	for y := 2; y < 6; y++ {
		for x := 2; x < 6; x++ {
			want := before.RGBAAt(x-2, y-2)
			if got := s.Image().RGBAAt(x, y); got != want {
				t.Errorf("pixel (%d,%d) = %v, want source pixel %v", x, y, got, want)
			}
		}
	}
	for x := 0; x < 6; x++ {
		if got := s.Image().RGBAAt(x, 0); got != before.RGBAAt(x, 0) {
			t.Errorf("row 0 pixel %d changed by copy", x)
		}
	}
}

func TestCopyOverlapUpLeft(t *testing.T) {
	s := NewSurface(6, 6)
	fill(s.Image())
	before := snapshot(s.Image())

	s.Copy(2, 2, 4, 4, 0, 0)

	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			want := before.RGBAAt(x+2, y+2)
			if got := s.Image().RGBAAt(x, y); got != want {
				t.Errorf("pixel (%d,%d) = %v, want source pixel %v", x, y, got, want)
			}
		}
	}
}

func TestCopyHorizontalOverlap(t *testing.T) {
	s := NewSurface(8, 1)
	fill(s.Image())
	before := snapshot(s.Image())

	s.Copy(0, 0, 6, 1, 1, 0) // same row, shifted right by one

	for x := 1; x < 7; x++ {
		want := before.RGBAAt(x-1, 0)
		if got := s.Image().RGBAAt(x, 0); got != want {
			t.Errorf("pixel %d = %v, want %v", x, got, want)
		}
	}
}

func TestCopyDegenerateRect(t *testing.T) {
	s := NewSurface(4, 4)
	fill(s.Image())
	before := snapshot(s.Image())

	s.Copy(0, 0, 0, 3, 1, 1)
	s.Copy(0, 0, 3, 0, 1, 1)

	for i := range before.Pix {
		if s.Image().Pix[i] != before.Pix[i] {
			t.Fatal("zero-sized copy modified the surface")
		}
	}
}

func TestResize(t *testing.T) {
	s := NewSurface(8, 8)
	s.Blit(0, 0, image.NewRGBA(image.Rect(0, 0, 8, 8)))
	if s.NeedRefresh() {
		t.Fatal("surface should be settled before resize")
	}

	s.Resize(8, 8)
	if s.NeedRefresh() {
		t.Error("same-size resize should not invalidate the surface")
	}

	s.Resize(10, 6)
	if !s.NeedRefresh() {
		t.Error("resize should mark the surface for refresh")
	}
	if s.Width() != 10 || s.Height() != 6 {
		t.Errorf("dimensions = %dx%d, want 10x6", s.Width(), s.Height())
	}
}
