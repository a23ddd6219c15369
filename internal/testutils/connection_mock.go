package testutils

import (
	"bytes"
	"io"
	"net"
	"time"
)

// ConnectionMock is a scripted net.Conn for testing.
//
// Each Read returns at most one of the scripted chunks, so a test controls
// exactly how the server bytes are fragmented. Once the script is exhausted,
// Read returns ReadErr (io.EOF by default).
type ConnectionMock struct {
	chunks   [][]byte
	writeBuf bytes.Buffer

	// MaxWrite caps the bytes accepted per Write call. A capped Write is a
	// short write without an error. Zero means no cap.
	MaxWrite int

	// ReadErr is returned once every chunk has been read.
	ReadErr error

	// WriteErr, if set, fails every Write.
	WriteErr error

	Reads     int
	Writes    int
	Deadlines []time.Time
	closed    bool
}

// NewConnectionMock creates a mock connection that serves the given chunks in order.
func NewConnectionMock(chunks ...string) *ConnectionMock {
	m := &ConnectionMock{ReadErr: io.EOF}
	for _, c := range chunks {
		m.chunks = append(m.chunks, []byte(c))
	}
	return m
}

// NewSplitConnectionMock serves data in chunks of the given size.
func NewSplitConnectionMock(data string, size int) *ConnectionMock {
	var chunks []string
	for start := 0; start < len(data); start += size {
		chunks = append(chunks, data[start:min(start+size, len(data))])
	}
	return NewConnectionMock(chunks...)
}

// AddResponse appends a chunk to the read script.
func (m *ConnectionMock) AddResponse(chunk string) {
	m.chunks = append(m.chunks, []byte(chunk))
}

func (m *ConnectionMock) Read(b []byte) (int, error) {
	m.Reads++
	if len(m.chunks) == 0 {
		return 0, m.ReadErr
	}

	n := copy(b, m.chunks[0])
	if n < len(m.chunks[0]) {
		m.chunks[0] = m.chunks[0][n:]
	} else {
		m.chunks = m.chunks[1:]
	}
	return n, nil
}

func (m *ConnectionMock) Write(b []byte) (int, error) {
	m.Writes++
	if m.WriteErr != nil {
		return 0, m.WriteErr
	}
	if m.MaxWrite > 0 && len(b) > m.MaxWrite {
		b = b[:m.MaxWrite]
	}
	return m.writeBuf.Write(b)
}

func (m *ConnectionMock) Close() error {
	m.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (m *ConnectionMock) IsClosed() bool {
	return m.closed
}

func (m *ConnectionMock) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}
}

func (m *ConnectionMock) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 6379}
}

func (m *ConnectionMock) SetDeadline(t time.Time) error {
	m.Deadlines = append(m.Deadlines, t)
	return nil
}

func (m *ConnectionMock) SetReadDeadline(t time.Time) error  { return nil }
func (m *ConnectionMock) SetWriteDeadline(t time.Time) error { return nil }

// GetWrittenRequest returns the raw request bytes written to the mock connection
func (m *ConnectionMock) GetWrittenRequest() string {
	return m.writeBuf.String()
}
