// Package resp implements the RESP wire format used to talk to a Redis
// server: command encoding, resumable reply decoding and the growable buffer
// both rely on.
//
// The package performs no I/O. Callers feed bytes read from the network into
// a Reader and write the bytes produced by a Writer themselves.
//
// # Decoding
//
// Reader accepts input in arbitrary fragments:
//
//	r := resp.NewReader()
//	r.Feed([]byte("+O"))
//	reply, _ := r.ReadReply() // nil: incomplete
//	r.Feed([]byte("K\r\n"))
//	reply, _ = r.ReadReply() // status "OK"
//
// Several replies fed at once are returned by successive ReadReply calls, in
// order.
//
// # Encoding
//
// Writer turns a template and arguments into one command:
//
//	w := resp.NewWriter(codec.JSON())
//	cmd, err := w.FormatCommand("SET %s %b", "user:1", user)
//
// # Error Handling
//
// The package defines error types that indicate connection state:
//
//   - ProtocolError: malformed reply stream, the Reader is poisoned, CLOSE connection
//   - EncodingError: command could not be formatted, CLOSE connection
//   - TransportError: I/O failure (produced by callers doing the I/O), CLOSE connection
//   - ServerError: error reply from the server, connection can be REUSED
//
// Use ShouldCloseConnection to determine error handling strategy.
//
// # Thread Safety
//
// Reader, Writer and Buffer are not safe for concurrent use. Reply values are
// immutable and may be shared freely.
package resp
