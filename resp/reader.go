package resp

import (
	"bytes"
	"fmt"
	"math"
)

// state is the sub-state of one parse frame.
type state uint8

const (
	stateReadType state = iota
	stateReadLen
	stateReadInline
	stateReadInteger
	stateReadBulk
	stateReadArray
)

// lengthUnknown is the frame length before the length line has been read.
const lengthUnknown = -2

// frame is one in-progress reply on the decoder stack.
type frame struct {
	state    state
	typ      Type
	length   int
	elements []*Reply
	idx      int
}

// Reader is a resumable RESP reply decoder.
//
// Bytes are appended with Feed and replies are taken out with ReadReply. The
// input may be split at any byte boundary: a reply is returned once all of its
// bytes have been fed, and the result does not depend on how the input was
// fragmented. Nested arrays are decoded with an explicit stack of frames, so
// decoding can stop in the middle of any element and resume on the next call.
//
// A ProtocolError poisons the Reader: every later call returns
// ErrReaderPoisoned without looking at the buffered bytes.
//
// A Reader is not safe for concurrent use.
type Reader struct {
	buf      Buffer
	stack    []frame
	poisoned bool
}

// NewReader returns an empty Reader.
func NewReader() *Reader {
	return &Reader{}
}

// Feed appends p to the pending input.
func (r *Reader) Feed(p []byte) error {
	if r.poisoned {
		return ErrReaderPoisoned
	}

	if r.buf.Len() == 0 {
		r.buf.Reset()
		r.buf.Release(MaxIdleBuffer)
	} else if r.buf.Available() < len(p) {
		r.buf.Compact()
	}

	r.buf.Write(p)
	return nil
}

// Buffered returns the number of fed bytes not yet consumed by a reply.
func (r *Reader) Buffered() int {
	return r.buf.Len()
}

// Poisoned reports whether a protocol error made the Reader unusable.
func (r *Reader) Poisoned() bool {
	return r.poisoned
}

// Reset discards all buffered input and partial state, and clears the poison.
func (r *Reader) Reset() {
	r.buf.Reset()
	r.buf.Release(MaxIdleBuffer)
	clear(r.stack)
	r.stack = r.stack[:0]
	r.poisoned = false
}

// ReadReply decodes the next reply from the buffered input.
//
// It returns (nil, nil) when the buffered bytes do not yet hold a complete
// reply; the bytes that were consumed by completed steps stay consumed and the
// frame stack keeps the progress, so the next call resumes where this one
// stopped.
func (r *Reader) ReadReply() (*Reply, error) {
	if r.poisoned {
		return nil, ErrReaderPoisoned
	}

	if len(r.stack) == 0 {
		r.stack = append(r.stack, frame{length: lengthUnknown})
	}

	r.buf.BeginRead()
	defer r.buf.EndRead()

	for {
		reply, progressed, err := r.step()
		if err != nil {
			r.poisoned = true
			return nil, err
		}
		if reply != nil {
			return reply, nil
		}
		if !progressed {
			return nil, nil
		}
	}
}

// step runs one transition of the top frame. A step either consumes the bytes
// it needs and updates the frame, or consumes nothing and changes nothing.
// It returns the top-level reply when the stack empties.
func (r *Reader) step() (*Reply, bool, error) {
	f := &r.stack[len(r.stack)-1]

	switch f.state {
	case stateReadType:
		c, err := r.buf.ReadByte()
		if err != nil {
			return nil, false, nil
		}
		switch c {
		case PrefixError:
			f.typ, f.state = TypeError, stateReadInline
		case PrefixStatus:
			f.typ, f.state = TypeStatus, stateReadInline
		case PrefixInteger:
			f.typ, f.state = TypeInteger, stateReadInteger
		case PrefixString:
			f.typ, f.state = TypeString, stateReadLen
		case PrefixArray:
			f.typ, f.state = TypeArray, stateReadLen
		default:
			return nil, false, &ProtocolError{Message: fmt.Sprintf("got %q as reply type byte", c)}
		}
		return nil, true, nil

	case stateReadLen:
		mark := r.buf.Mark()
		line, ok := r.readLine()
		if !ok {
			return nil, false, nil
		}
		n, err := parseInt(line, math.MinInt, math.MaxInt)
		if err != nil {
			r.buf.Rewind(mark)
			return nil, false, err
		}
		length := int(n)

		if length == -1 {
			return r.complete(nilReply)
		}
		if length < 0 {
			if f.typ == TypeString {
				return nil, false, &ProtocolError{Message: fmt.Sprintf("got %d as a string length", length)}
			}
			return nil, false, &ProtocolError{Message: fmt.Sprintf("got %d as an array length", length)}
		}

		f.length = length
		if f.typ == TypeString {
			f.state = stateReadBulk
			return nil, true, nil
		}
		f.state = stateReadArray
		f.elements = make([]*Reply, 0, min(length, maxArrayPrealloc))
		f.idx = 0
		return nil, true, nil

	case stateReadInline:
		line, ok := r.readLine()
		if !ok {
			return nil, false, nil
		}
		return r.complete(&Reply{typ: f.typ, str: bytes.Clone(line)})

	case stateReadInteger:
		mark := r.buf.Mark()
		line, ok := r.readLine()
		if !ok {
			return nil, false, nil
		}
		n, err := parseInt(line, math.MinInt64, math.MaxInt64)
		if err != nil {
			r.buf.Rewind(mark)
			return nil, false, err
		}
		return r.complete(&Reply{typ: TypeInteger, integer: n})

	case stateReadBulk:
		if r.buf.Len()-len(CRLF) < f.length {
			return nil, false, nil
		}
		payload := bytes.Clone(r.buf.Next(f.length))
		if !bytes.Equal(r.buf.Next(len(CRLF)), crlfBytes) {
			return nil, false, &ProtocolError{Message: "expected CRLF at end of bulk string reply"}
		}
		return r.complete(&Reply{typ: TypeString, str: payload})

	case stateReadArray:
		if f.idx == f.length {
			return r.complete(newArray(f.elements))
		}
		r.stack = append(r.stack, frame{length: lengthUnknown})
		return nil, true, nil
	}

	panic(fmt.Sprintf("resp: reader frame in unknown state %d", f.state))
}

// complete pops the top frame. The value is either the top-level reply or is
// stored into the parent array at its fill index.
func (r *Reader) complete(v *Reply) (*Reply, bool, error) {
	r.stack[len(r.stack)-1] = frame{}
	r.stack = r.stack[:len(r.stack)-1]

	if len(r.stack) == 0 {
		return v, true, nil
	}

	parent := &r.stack[len(r.stack)-1]
	parent.elements = append(parent.elements, v)
	parent.idx++
	return nil, true, nil
}

// readLine consumes the bytes up to and including the next CRLF and returns
// them without the CRLF. Nothing is consumed when no CRLF is buffered.
func (r *Reader) readLine() ([]byte, bool) {
	i := r.buf.IndexCRLF()
	if i < 0 {
		return nil, false
	}
	line := r.buf.Next(i)
	r.buf.Next(len(CRLF))
	return line, true
}

// parseInt parses an optionally signed decimal number within [lo, hi].
func parseInt(line []byte, lo, hi int64) (int64, error) {
	digits := line
	neg := false
	if len(digits) > 0 && (digits[0] == '-' || digits[0] == '+') {
		neg = digits[0] == '-'
		digits = digits[1:]
	}
	if len(digits) == 0 {
		return 0, &ProtocolError{Message: fmt.Sprintf("got %q as a number", line)}
	}

	limit := uint64(hi)
	if neg {
		limit = uint64(-(lo + 1)) + 1
	}

	var n uint64
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, &ProtocolError{Message: fmt.Sprintf("got %q in number %q, expected a decimal digit", c, line)}
		}
		d := uint64(c - '0')
		if n > (limit-d)/10 {
			return 0, &ProtocolError{Message: fmt.Sprintf("number %q out of range", line)}
		}
		n = n*10 + d
	}

	if neg {
		return -int64(n - 1) - 1, nil
	}
	return int64(n), nil
}
