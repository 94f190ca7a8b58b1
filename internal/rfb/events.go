package rfb

import (
	"image"
	"sync"
	"time"
)

// Event is one decoded occurrence on the remote display, produced by
// Poll in the order the server sent it.
type Event interface {
	event()
}

// NameEvent reports the desktop name (once, after the handshake).
type NameEvent struct {
	Name string
}

// ResizeEvent reports the framebuffer dimensions (once, after the
// handshake; a mid-session resize is a protocol violation).
type ResizeEvent struct {
	Width, Height int
}

// ImageEvent carries freshly decoded pixels for one rectangle. The
// image is owned by the receiver; it is never reused by the decoder.
type ImageEvent struct {
	X, Y int
	Img  *image.RGBA
}

// CopyEvent instructs the receiver to blit a region of its own
// framebuffer: the rectangle at (SrcX,SrcY) moves to (DstX,DstY).
// Source and destination may overlap.
type CopyEvent struct {
	SrcX, SrcY    int
	Width, Height int
	DstX, DstY    int
}

// CursorEvent carries a new cursor shape with alpha, plus its hotspot.
type CursorEvent struct {
	HotX, HotY int
	Img        *image.RGBA
}

// ClipboardEvent reports new server-side clipboard text.
type ClipboardEvent struct {
	Text string
}

// BellEvent reports an audible bell request.
type BellEvent struct{}

func (NameEvent) event()      {}
func (ResizeEvent) event()    {}
func (ImageEvent) event()     {}
func (CopyEvent) event()      {}
func (CursorEvent) event()    {}
func (ClipboardEvent) event() {}
func (BellEvent) event()      {}

// keyPress is one queued outbound key transition.
type keyPress struct {
	keysym  uint32
	pressed bool
}

// pointerState is the full outbound pointer state: position plus the
// five-bit button mask.
type pointerState struct {
	x, y int
	mask byte
}

// keyQueue is a lossless FIFO for outbound key events. Key events are
// never coalesced or dropped; order is preserved.
type keyQueue struct {
	mu      sync.Mutex
	pending []keyPress
}

func (q *keyQueue) push(keysym uint32, pressed bool) {
	q.mu.Lock()
	q.pending = append(q.pending, keyPress{keysym: keysym, pressed: pressed})
	q.mu.Unlock()
}

// drain returns all queued key events in order and empties the queue.
func (q *keyQueue) drain() []keyPress {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	out := q.pending
	q.pending = nil
	return out
}

func (q *keyQueue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) == 0
}

// pointerQueue coalesces outbound pointer events: within the deadline
// window only the most recent position survives. A button-mask change
// marks the pending state urgent so clicks are not delayed by the
// window.
type pointerQueue struct {
	mu       sync.Mutex
	window   time.Duration
	pending  bool
	urgent   bool
	state    pointerState
	lastMask byte
	since    time.Time
	now      func() time.Time
}

func newPointerQueue(window time.Duration) *pointerQueue {
	return &pointerQueue{window: window, now: time.Now}
}

func (q *pointerQueue) push(x, y int, mask byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.pending {
		q.pending = true
		q.since = q.now()
	}
	q.state = pointerState{x: x, y: y, mask: mask}
	if mask != q.lastMask {
		q.urgent = true
	}
}

func (q *pointerQueue) waiting() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// drain returns the pending pointer state when it is due: always under
// force or urgency, otherwise only once the window has elapsed since
// the first coalesced push.
func (q *pointerQueue) drain(force bool) (pointerState, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.pending {
		return pointerState{}, false
	}
	if !force && !q.urgent && q.now().Sub(q.since) < q.window {
		return pointerState{}, false
	}
	q.pending = false
	q.urgent = false
	q.lastMask = q.state.mask
	return q.state, true
}
