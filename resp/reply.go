package resp

import (
	"bytes"
	"strconv"
	"strings"
)

// Type identifies the variant held by a Reply.
type Type uint8

const (
	TypeInvalid Type = iota
	TypeStatus
	TypeError
	TypeInteger
	TypeString
	// TypeNil is used for both the nil bulk string ($-1) and the nil array (*-1).
	TypeNil
	TypeArray
)

var typeNames = [...]string{
	TypeInvalid: "invalid",
	TypeStatus:  "status",
	TypeError:   "error",
	TypeInteger: "integer",
	TypeString:  "string",
	TypeNil:     "nil",
	TypeArray:   "array",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Type(" + strconv.Itoa(int(t)) + ")"
}

// Reply is one decoded protocol reply. Replies are immutable: accessors
// return copies, and calling an accessor that does not match the reply's
// type panics.
type Reply struct {
	typ      Type
	str      []byte
	integer  int64
	elements []*Reply
}

var nilReply = &Reply{typ: TypeNil}

// NewStatus returns a status reply ("+OK").
func NewStatus(msg []byte) *Reply {
	return &Reply{typ: TypeStatus, str: bytes.Clone(msg)}
}

// NewError returns an error reply ("-ERR ...").
func NewError(msg []byte) *Reply {
	return &Reply{typ: TypeError, str: bytes.Clone(msg)}
}

// NewInteger returns an integer reply.
func NewInteger(n int64) *Reply {
	return &Reply{typ: TypeInteger, integer: n}
}

// NewBulkString returns a bulk string reply. A nil or empty p yields a
// zero-length string, not a nil reply.
func NewBulkString(p []byte) *Reply {
	s := bytes.Clone(p)
	if s == nil {
		s = []byte{}
	}
	return &Reply{typ: TypeString, str: s}
}

// Nil returns the nil reply.
func Nil() *Reply {
	return nilReply
}

// NewArray returns an array reply holding elements in order.
// NewArray panics if an element is nil.
func NewArray(elements ...*Reply) *Reply {
	for _, e := range elements {
		if e == nil {
			panic("resp: nil element in array reply")
		}
	}
	return newArray(append([]*Reply(nil), elements...))
}

// newArray takes ownership of elements.
func newArray(elements []*Reply) *Reply {
	if elements == nil {
		elements = []*Reply{}
	}
	return &Reply{typ: TypeArray, elements: elements}
}

// Type returns the reply variant.
func (r *Reply) Type() Type {
	return r.typ
}

// IsNil reports whether the reply is the nil reply.
func (r *Reply) IsNil() bool {
	return r.typ == TypeNil
}

func (r *Reply) mustBe(method string, types ...Type) {
	for _, t := range types {
		if r.typ == t {
			return
		}
	}
	panic("resp: Reply." + method + " called on a " + r.typ.String() + " reply")
}

// Bytes returns a copy of the payload of a status, error or string reply.
func (r *Reply) Bytes() []byte {
	r.mustBe("Bytes", TypeStatus, TypeError, TypeString)
	return bytes.Clone(r.str)
}

// Text returns the payload of a status, error or string reply as a string.
func (r *Reply) Text() string {
	r.mustBe("Text", TypeStatus, TypeError, TypeString)
	return string(r.str)
}

// Integer returns the value of an integer reply.
func (r *Reply) Integer() int64 {
	r.mustBe("Integer", TypeInteger)
	return r.integer
}

// Len returns the number of elements of an array reply.
func (r *Reply) Len() int {
	r.mustBe("Len", TypeArray)
	return len(r.elements)
}

// Index returns element i of an array reply.
func (r *Reply) Index(i int) *Reply {
	r.mustBe("Index", TypeArray)
	return r.elements[i]
}

// Elements returns the elements of an array reply. The returned slice is a
// copy; the elements themselves are shared and immutable.
func (r *Reply) Elements() []*Reply {
	r.mustBe("Elements", TypeArray)
	return append([]*Reply(nil), r.elements...)
}

// Err returns the error reply as a *ServerError, or nil for any other type.
func (r *Reply) Err() error {
	if r.typ != TypeError {
		return nil
	}
	return r.ServerError()
}

// ServerError returns the error reply as a *ServerError, or nil for any other
// type.
func (r *Reply) ServerError() *ServerError {
	if r.typ != TypeError {
		return nil
	}
	return &ServerError{Message: string(r.str)}
}

// Equal reports whether r and other are structurally identical.
func (r *Reply) Equal(other *Reply) bool {
	if r == nil || other == nil {
		return r == other
	}
	if r.typ != other.typ {
		return false
	}
	switch r.typ {
	case TypeStatus, TypeError, TypeString:
		return bytes.Equal(r.str, other.str)
	case TypeInteger:
		return r.integer == other.integer
	case TypeArray:
		if len(r.elements) != len(other.elements) {
			return false
		}
		for i := range r.elements {
			if !r.elements[i].Equal(other.elements[i]) {
				return false
			}
		}
	}
	return true
}

// String renders the reply on one line, for logs and debugging.
func (r *Reply) String() string {
	var sb strings.Builder
	r.writeTo(&sb)
	return sb.String()
}

func (r *Reply) writeTo(sb *strings.Builder) {
	switch r.typ {
	case TypeStatus:
		sb.Write(r.str)
	case TypeError:
		sb.WriteString("(error) ")
		sb.Write(r.str)
	case TypeInteger:
		sb.WriteString("(integer) ")
		sb.WriteString(strconv.FormatInt(r.integer, 10))
	case TypeString:
		sb.WriteString(strconv.Quote(string(r.str)))
	case TypeNil:
		sb.WriteString("(nil)")
	case TypeArray:
		sb.WriteByte('[')
		for i, e := range r.elements {
			if i > 0 {
				sb.WriteString(", ")
			}
			e.writeTo(sb)
		}
		sb.WriteByte(']')
	default:
		sb.WriteString("(invalid)")
	}
}
