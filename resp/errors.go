package resp

import (
	"errors"
	"fmt"
	"strings"
)

// Error types for the RESP wire layer.
// Each error reports whether the connection it happened on can still be used.

// ErrReaderPoisoned is returned by every Reader call after a ProtocolError.
var ErrReaderPoisoned = errors.New("resp: reader poisoned by an earlier protocol error")

// ProtocolError reports a malformed byte stream: an unknown type byte, a bad
// digit in a numeric field, a negative length other than the nil sentinel, or
// a bulk payload that is not followed by CRLF.
//
// The Reader that produced it is poisoned.
//
// Connection handling: CLOSE connection
type ProtocolError struct {
	Message string
	Err     error // Underlying error, if any
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return "resp: protocol error: " + e.Message + ": " + e.Err.Error()
	}
	return "resp: protocol error: " + e.Message
}

// Unwrap returns the underlying error for error chain inspection
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ShouldCloseConnection returns true - the byte stream can no longer be trusted
func (e *ProtocolError) ShouldCloseConnection() bool {
	return true
}

// EncodingError reports a command that could not be formatted: a template
// that references a missing argument, a nil argument, or a %b value that no
// registered serializer accepts.
//
// Connection handling: CLOSE connection (the connection that was formatting
// the command is poisoned)
type EncodingError struct {
	Message string
	Err     error // Serializer failure, if any
}

func (e *EncodingError) Error() string {
	if e.Err != nil {
		return "resp: encoding error: " + e.Message + ": " + e.Err.Error()
	}
	return "resp: encoding error: " + e.Message
}

// Unwrap returns the underlying error for error chain inspection
func (e *EncodingError) Unwrap() error {
	return e.Err
}

// ShouldCloseConnection returns true
func (e *EncodingError) ShouldCloseConnection() bool {
	return true
}

// TransportError wraps I/O failures and unexpected stream closure.
//
// Common causes:
//   - Connection closed by the peer (io.EOF)
//   - Network timeout or context deadline
//   - Connection reset
//
// Connection handling: Connection is already broken, CLOSE and potentially RECONNECT
type TransportError struct {
	Op  string // Operation that failed (read, write, dial)
	Err error  // Underlying error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("resp: transport error during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ShouldCloseConnection returns true
func (e *TransportError) ShouldCloseConnection() bool {
	return true
}

// ServerError is a well-formed error reply ("-ERR ...") sent by the server.
// It is only returned as a Go error when a connection is configured to raise
// error replies; otherwise it travels as a Reply of TypeError.
//
// Connection handling: Connection can be REUSED
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return e.Message
}

// Kind returns the leading upper-case word of the message, such as "ERR" or
// "WRONGTYPE", or an empty string when the message has none.
func (e *ServerError) Kind() string {
	kind, _, _ := strings.Cut(e.Message, " ")
	if kind == "" || strings.ToUpper(kind) != kind {
		return ""
	}
	return kind
}

// ShouldCloseConnection returns false - error replies don't corrupt protocol state
func (e *ServerError) ShouldCloseConnection() bool {
	return false
}

// ErrorWithConnectionState is an interface for errors that indicate
// whether the connection should be closed.
type ErrorWithConnectionState interface {
	error
	ShouldCloseConnection() bool
}

// ShouldCloseConnection is a helper function to determine if an error
// requires closing the connection.
//
// Returns false for nil and ServerError, true for everything else, including
// unknown error types.
func ShouldCloseConnection(err error) bool {
	if err == nil {
		return false
	}

	var e ErrorWithConnectionState
	if errors.As(err, &e) {
		return e.ShouldCloseConnection()
	}

	// Unknown error type - be conservative and close connection
	return true
}
