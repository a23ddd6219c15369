package resp

import (
	"fmt"
	"strconv"
	"strings"
)

// Writer formats commands into the RESP wire format.
//
// Commands are described by a template whose whitespace-separated fields
// become the elements of the command array:
//
//	w.FormatCommand("SET mykey %s", "hello world") // SET, mykey, "hello world"
//	w.FormatCommand("SET mykey %b", value)         // value encoded by a Serializer
//
// Fields are split on the template text only, so substituted values may
// contain spaces. The verbs are:
//   - %s: text of the next argument
//   - %b: bytes of the next argument, produced by the first registered
//     Serializer that accepts it
//   - any other %X is copied literally
//
// A Writer is not safe for concurrent use.
type Writer struct {
	serializers []Serializer
	scratch     Buffer
}

// NewWriter returns a Writer with the given serializers, tried in order.
func NewWriter(serializers ...Serializer) *Writer {
	w := &Writer{}
	for _, s := range serializers {
		w.Register(s)
	}
	return w
}

// Register appends s to the serializer chain.
func (w *Writer) Register(s Serializer) {
	if s == nil {
		panic("resp: nil Serializer")
	}
	w.serializers = append(w.serializers, s)
}

// FormatCommand encodes the template and its arguments as one command.
//
// It returns an *EncodingError when the template is empty, when an argument
// is missing or nil, or when a %b argument cannot be serialized. Arguments
// beyond those referenced by the template are ignored.
func (w *Writer) FormatCommand(format string, args ...any) ([]byte, error) {
	fields := strings.Fields(format)
	if len(fields) == 0 {
		return nil, &EncodingError{Message: "command template has no fields"}
	}
	for i, arg := range args {
		if arg == nil {
			return nil, &EncodingError{Message: fmt.Sprintf("argument %d is nil", i)}
		}
	}

	var out Buffer
	out.WriteByte(PrefixArray)
	out.writeInt(int64(len(fields)))
	out.WriteString(CRLF)

	next := 0
	for _, field := range fields {
		scratch := &w.scratch
		scratch.Reset()
		scratch.EnsureRoom(headerPadding + len(field) + len(CRLF))
		scratch.w = headerPadding

		for i := 0; i < len(field); i++ {
			c := field[i]
			if c != '%' || i+1 == len(field) {
				scratch.WriteByte(c)
				continue
			}

			i++
			verb := field[i]
			if verb != 's' && verb != 'b' {
				scratch.WriteByte(c)
				scratch.WriteByte(verb)
				continue
			}

			if next >= len(args) {
				return nil, &EncodingError{Message: fmt.Sprintf("not enough arguments for %q: %%%c #%d is missing", format, verb, next)}
			}
			arg := args[next]
			next++

			if verb == 's' {
				appendText(scratch, arg)
				continue
			}

			data, err := w.serialize(arg)
			if err != nil {
				return nil, err
			}
			scratch.Write(data)
		}

		size := scratch.w - headerPadding
		scratch.WriteString(CRLF)

		var header [headerPadding]byte
		h := append(header[:0], PrefixString)
		h = strconv.AppendInt(h, int64(size), 10)
		h = append(h, CRLF...)

		start := headerPadding - len(h)
		copy(scratch.buf[start:], h)
		out.Write(scratch.buf[start:scratch.w])
	}

	return out.Bytes(), nil
}

func (w *Writer) serialize(v any) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			data = nil
			err = &EncodingError{Message: fmt.Sprintf("serializing %T: panic: %v", v, r)}
		}
	}()

	for _, s := range w.serializers {
		if !s.CanSerialize(v) {
			continue
		}
		out, serr := s.Serialize(v)
		if serr != nil {
			return nil, &EncodingError{Message: fmt.Sprintf("serializing %T", v), Err: serr}
		}
		return out, nil
	}
	return nil, &EncodingError{Message: fmt.Sprintf("no serializer for %T", v)}
}

// appendText writes the text rendering of v used by %s.
func appendText(b *Buffer, v any) {
	switch v := v.(type) {
	case string:
		b.WriteString(v)
	case []byte:
		b.Write(v)
	case int:
		b.writeInt(int64(v))
	case int8:
		b.writeInt(int64(v))
	case int16:
		b.writeInt(int64(v))
	case int32:
		b.writeInt(int64(v))
	case int64:
		b.writeInt(v)
	case uint:
		b.WriteString(strconv.FormatUint(uint64(v), 10))
	case uint8:
		b.WriteString(strconv.FormatUint(uint64(v), 10))
	case uint16:
		b.WriteString(strconv.FormatUint(uint64(v), 10))
	case uint32:
		b.WriteString(strconv.FormatUint(uint64(v), 10))
	case uint64:
		b.WriteString(strconv.FormatUint(v, 10))
	case float32:
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	case float64:
		b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	case bool:
		b.WriteString(strconv.FormatBool(v))
	default:
		// fmt.Sprint calls String on a fmt.Stringer, and turns a nil receiver
		// or a panicking String into text.
		b.WriteString(fmt.Sprint(v))
	}
}

// AppendCommand appends the encoding of a command made of the given
// arguments to dst. Unlike FormatCommand, arguments are never split or
// interpreted.
func AppendCommand(dst []byte, args ...[]byte) []byte {
	dst = append(dst, PrefixArray)
	dst = strconv.AppendInt(dst, int64(len(args)), 10)
	dst = append(dst, CRLF...)
	for _, arg := range args {
		dst = append(dst, PrefixString)
		dst = strconv.AppendInt(dst, int64(len(arg)), 10)
		dst = append(dst, CRLF...)
		dst = append(dst, arg...)
		dst = append(dst, CRLF...)
	}
	return dst
}
