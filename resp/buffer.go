package resp

import (
	"bytes"
	"io"
	"strconv"
)

// Buffer is a growable byte container with independent append and consume
// cursors. Bytes between the consume cursor and the append cursor are
// pending; growth never discards them.
//
// A Buffer is not safe for concurrent use.
type Buffer struct {
	buf     []byte // len(buf) is the capacity
	r       int    // consume cursor
	w       int    // append cursor
	reading bool
}

// Len returns the number of pending (unread) bytes.
func (b *Buffer) Len() int {
	return b.w - b.r
}

// Cap returns the size of the backing store.
func (b *Buffer) Cap() int {
	return len(b.buf)
}

// Available returns the number of bytes that can be appended without growing.
func (b *Buffer) Available() int {
	return len(b.buf) - b.w
}

// Bytes returns the pending bytes. The slice aliases the backing store and is
// only valid until the next modification of the buffer.
func (b *Buffer) Bytes() []byte {
	return b.buf[b.r:b.w]
}

// EnsureRoom guarantees that n more bytes can be appended.
//
// When the buffer must grow, the new capacity is computed from the bytes
// actually needed: doubled below MaxPrealloc, plus a flat MaxPrealloc above
// it. All bytes up to the append cursor are copied and both cursors are kept.
//
// EnsureRoom panics when called between BeginRead and EndRead.
func (b *Buffer) EnsureRoom(n int) {
	if b.Available() >= n {
		return
	}
	if b.reading {
		panic("resp: EnsureRoom called on a buffer that is being read")
	}

	needed := len(b.buf) + n - b.Available()
	if needed < MaxPrealloc {
		needed *= 2
	} else {
		needed += MaxPrealloc
	}

	grown := make([]byte, needed)
	copy(grown, b.buf[:b.w])
	b.buf = grown
}

// Write appends p. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	b.EnsureRoom(len(p))
	n := copy(b.buf[b.w:], p)
	b.w += n
	return n, nil
}

// WriteString appends s. It never fails.
func (b *Buffer) WriteString(s string) (int, error) {
	b.EnsureRoom(len(s))
	n := copy(b.buf[b.w:], s)
	b.w += n
	return n, nil
}

// WriteByte appends c. It never fails.
func (b *Buffer) WriteByte(c byte) error {
	b.EnsureRoom(1)
	b.buf[b.w] = c
	b.w++
	return nil
}

// writeInt appends the decimal form of n.
func (b *Buffer) writeInt(n int64) {
	b.EnsureRoom(len("-9223372036854775808"))
	b.w += len(strconv.AppendInt(b.buf[b.w:b.w], n, 10))
}

// BeginRead marks the buffer as being read. Until EndRead, growing the buffer
// is a programming error.
func (b *Buffer) BeginRead() {
	b.reading = true
}

// EndRead returns the buffer to the appendable state.
func (b *Buffer) EndRead() {
	b.reading = false
}

// ReadByte consumes one byte. It returns io.EOF when no bytes are pending.
func (b *Buffer) ReadByte() (byte, error) {
	if b.r == b.w {
		return 0, io.EOF
	}
	c := b.buf[b.r]
	b.r++
	return c, nil
}

// Next consumes up to n bytes and returns them. The slice aliases the backing
// store.
func (b *Buffer) Next(n int) []byte {
	n = min(n, b.Len())
	p := b.buf[b.r : b.r+n]
	b.r += n
	return p
}

// Peek returns up to n pending bytes without consuming them.
func (b *Buffer) Peek(n int) []byte {
	n = min(n, b.Len())
	return b.buf[b.r : b.r+n]
}

// IndexCRLF returns the offset, relative to the consume cursor, of the first
// CRLF in the pending bytes, or -1.
func (b *Buffer) IndexCRLF() int {
	return bytes.Index(b.Bytes(), crlfBytes)
}

// Mark returns the consume cursor so a later Rewind can restore it.
func (b *Buffer) Mark() int {
	return b.r
}

// Rewind moves the consume cursor back to a position returned by Mark.
func (b *Buffer) Rewind(mark int) {
	if mark < 0 || mark > b.w {
		panic("resp: Rewind to a position outside the buffer")
	}
	b.r = mark
}

// Compact moves the pending bytes to the front of the backing store.
func (b *Buffer) Compact() {
	if b.r == 0 {
		return
	}
	n := copy(b.buf, b.buf[b.r:b.w])
	b.r = 0
	b.w = n
}

// Reset discards all bytes and keeps the backing store.
func (b *Buffer) Reset() {
	b.r = 0
	b.w = 0
}

// Release drops the backing store when nothing is pending and it is larger
// than maxRetained bytes.
func (b *Buffer) Release(maxRetained int) {
	if b.Len() == 0 && len(b.buf) > maxRetained {
		b.buf = nil
		b.r = 0
		b.w = 0
	}
}
