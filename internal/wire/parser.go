package wire

import "fmt"

// parser states.
const (
	stateLength  = iota // accumulating a length prefix
	stateContent        // collecting element bytes, then a delimiter
	stateDone           // a complete instruction awaits Next
)

// Parser is an incremental push parser for the instruction protocol.
// Feed it arbitrary chunks with Append; when a full instruction has been
// assembled, Append stops consuming and Next returns the instruction.
// A Parser is not safe for concurrent use.
type Parser struct {
	state     int
	length    int // declared length of the current element
	digits    int
	remaining int // element bytes still expected
	elem      []byte
	elements  []string
	total     int // bytes consumed for the instruction so far
	err       error
}

// Append consumes bytes from data and returns how many were consumed.
// It returns 0 without error when a completed instruction is waiting to
// be taken with Next. A framing violation poisons the parser and returns
// an error wrapping ErrMalformed.
func (p *Parser) Append(data []byte) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	if p.state == stateDone {
		return 0, nil
	}

	consumed := 0
	for consumed < len(data) && p.state != stateDone {
		c := data[consumed]
		consumed++
		p.total++
		if p.total > MaxInstructionLength {
			return consumed, p.fail("instruction exceeds %d bytes", MaxInstructionLength)
		}

		switch p.state {
		case stateLength:
			switch {
			case c >= '0' && c <= '9':
				p.digits++
				if p.digits > maxLengthDigits {
					return consumed, p.fail("length prefix exceeds %d digits", maxLengthDigits)
				}
				p.length = p.length*10 + int(c-'0')
			case c == '.':
				if p.digits == 0 {
					return consumed, p.fail("empty length prefix")
				}
				p.remaining = p.length
				p.elem = p.elem[:0]
				p.state = stateContent
			default:
				return consumed, p.fail("unexpected byte %q in length prefix", c)
			}

		case stateContent:
			if p.remaining > 0 {
				// Take as much of the element body as this chunk holds.
				n := p.remaining
				if avail := len(data) - consumed + 1; n > avail {
					n = avail
				}
				p.elem = append(p.elem, data[consumed-1:consumed-1+n]...)
				p.remaining -= n
				consumed += n - 1
				p.total += n - 1
				if p.total > MaxInstructionLength {
					return consumed, p.fail("instruction exceeds %d bytes", MaxInstructionLength)
				}
				continue
			}
			// Element complete; c must be a delimiter.
			if len(p.elements) >= maxElements {
				return consumed, p.fail("instruction exceeds %d elements", maxElements)
			}
			p.elements = append(p.elements, string(p.elem))
			switch c {
			case ',':
				p.resetElement()
			case ';':
				p.state = stateDone
			default:
				return consumed, p.fail("expected delimiter after %d-byte element, got %q", p.length, c)
			}
		}
	}
	return consumed, nil
}

// HasNext reports whether a completed instruction is ready.
func (p *Parser) HasNext() bool {
	return p.state == stateDone
}

// InProgress reports whether the parser sits mid-instruction, i.e. it
// has consumed bytes that do not yet form a complete instruction.
func (p *Parser) InProgress() bool {
	return p.state != stateDone && (p.total > 0 || len(p.elements) > 0)
}

// Next returns the completed instruction and resets the parser for the
// following one. It returns nil when no instruction is ready.
func (p *Parser) Next() *Instruction {
	if p.state != stateDone {
		return nil
	}
	in := &Instruction{Opcode: p.elements[0]}
	if len(p.elements) > 1 {
		in.Args = append([]string(nil), p.elements[1:]...)
	}
	p.elements = p.elements[:0]
	p.total = 0
	p.resetElement()
	p.state = stateLength
	return in
}

func (p *Parser) resetElement() {
	p.state = stateLength
	p.length = 0
	p.digits = 0
	p.remaining = 0
}

func (p *Parser) fail(format string, args ...any) error {
	p.err = fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
	return p.err
}
