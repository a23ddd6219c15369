package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/pior/redis/resp"
)

var (
	ErrConnectionClosed   = errors.New("redis: connection closed")
	ErrConnectionPoisoned = errors.New("redis: connection poisoned by an earlier fault")
)

// readBufferSize is the size of a connection's transport read buffer.
const readBufferSize = 16 * 1024

// Transport is the byte stream a Connection talks over. net.Conn satisfies it.
//
// When the transport also has a SetDeadline method, the deadline of the
// context given to blocking calls is applied to it.
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

// ConnConfig holds the settings of a single connection.
type ConnConfig struct {
	// ConnectTimeout bounds Dial. Zero means no timeout.
	ConnectTimeout time.Duration

	// RaiseErrorReplies makes Send and Receive return error replies as
	// *resp.ServerError instead of a Reply of type resp.TypeError.
	// The connection stays usable after such an error.
	RaiseErrorReplies bool

	// Serializers encode %b arguments. They are tried in order.
	Serializers []resp.Serializer

	// Dialer is used by Dial. If nil, the default net.Dialer is used.
	Dialer *net.Dialer

	// Logger receives connection lifecycle events. If nil, nothing is logged.
	Logger *zap.Logger
}

// Connection is a blocking connection to a Redis server.
//
// Commands are sent with Send, or pipelined with Append and later collected
// with Receive. Replies are matched to commands purely by order.
//
// Any fault other than an error reply (encoding, transport, protocol) poisons
// the connection: every later call fails with ErrConnectionPoisoned without
// doing any I/O.
//
// A Connection is not safe for concurrent use.
type Connection struct {
	addr      string
	transport Transport
	reader    *resp.Reader
	writer    *resp.Writer
	logger    *zap.Logger

	pending     [][]byte // encoded commands not yet written, in order
	outstanding int      // commands appended whose reply was not returned yet
	input       []byte

	blocking          bool
	raiseErrorReplies bool
	poisoned          error
	closed            bool
}

// Dial opens a TCP connection to addr.
func Dial(ctx context.Context, addr string, config ConnConfig) (*Connection, error) {
	dialer := config.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}

	if config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.ConnectTimeout)
		defer cancel()
	}

	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &resp.TransportError{Op: "dial", Err: err}
	}

	if tcpConn, ok := netConn.(*net.TCPConn); ok {
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetNoDelay(true)
		_ = tcpConn.SetLinger(0)
	}

	conn := NewConnection(netConn, config)
	conn.addr = addr
	return conn, nil
}

// NewConnection wraps an established transport. The connection starts in
// blocking mode.
func NewConnection(transport Transport, config ConnConfig) *Connection {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var addr string
	if nc, ok := transport.(net.Conn); ok && nc.RemoteAddr() != nil {
		addr = nc.RemoteAddr().String()
	}

	return &Connection{
		addr:              addr,
		transport:         transport,
		reader:            resp.NewReader(),
		writer:            resp.NewWriter(config.Serializers...),
		logger:            logger,
		input:             make([]byte, readBufferSize),
		blocking:          true,
		raiseErrorReplies: config.RaiseErrorReplies,
	}
}

// Addr returns the remote address, if known.
func (c *Connection) Addr() string {
	return c.addr
}

// RegisterSerializer appends s to the %b serializer chain.
func (c *Connection) RegisterSerializer(s resp.Serializer) *Connection {
	c.writer.Register(s)
	return c
}

// SetRaiseErrorReplies toggles the conversion of error replies into
// *resp.ServerError.
func (c *Connection) SetRaiseErrorReplies(raise bool) *Connection {
	c.raiseErrorReplies = raise
	return c
}

// SetBlocking switches Receive between blocking and non-blocking mode. In
// non-blocking mode Receive only returns replies that are already buffered and
// never touches the transport.
func (c *Connection) SetBlocking(blocking bool) {
	c.blocking = blocking
}

// Blocking reports whether Receive may block on the transport.
func (c *Connection) Blocking() bool {
	return c.blocking
}

// Pending returns the number of queued commands not yet written.
func (c *Connection) Pending() int {
	return len(c.pending)
}

// Outstanding returns the number of commands whose reply has not been
// returned yet.
func (c *Connection) Outstanding() int {
	return c.outstanding
}

// Poisoned reports whether a fault made the connection unusable.
func (c *Connection) Poisoned() bool {
	return c.poisoned != nil
}

// IsClosed returns whether the connection is closed
func (c *Connection) IsClosed() bool {
	return c.closed
}

// Send formats a command, queues it behind any pipelined commands, and blocks
// until its reply arrives. The connection is switched to blocking mode.
//
// Replies of earlier pipelined commands must have been received first:
// Send returns the next reply in order.
func (c *Connection) Send(ctx context.Context, format string, args ...any) (*resp.Reply, error) {
	if err := c.Append(format, args...); err != nil {
		return nil, err
	}
	c.blocking = true
	return c.Receive(ctx)
}

// SendArgs is Send for a command made of pre-split arguments.
func (c *Connection) SendArgs(ctx context.Context, args ...[]byte) (*resp.Reply, error) {
	if err := c.AppendArgs(args...); err != nil {
		return nil, err
	}
	c.blocking = true
	return c.Receive(ctx)
}

// Append formats a command and queues it without waiting for the reply.
func (c *Connection) Append(format string, args ...any) error {
	if err := c.usable(); err != nil {
		return err
	}

	cmd, err := c.writer.FormatCommand(format, args...)
	if err != nil {
		c.poison(err)
		return err
	}

	c.enqueue(cmd)
	return nil
}

// AppendArgs queues a command made of pre-split arguments, sent verbatim.
func (c *Connection) AppendArgs(args ...[]byte) error {
	if err := c.usable(); err != nil {
		return err
	}

	if len(args) == 0 {
		err := &resp.EncodingError{Message: "command has no arguments"}
		c.poison(err)
		return err
	}

	c.enqueue(resp.AppendCommand(nil, args...))
	return nil
}

func (c *Connection) enqueue(cmd []byte) {
	c.pending = append(c.pending, cmd)
	c.outstanding++
}

// Receive returns the next reply.
//
// A reply that is already buffered is returned without any I/O. Otherwise, in
// non-blocking mode, Receive returns (nil, nil). In blocking mode it writes the
// queued commands and reads until a complete reply is decoded. The deadline of
// ctx, if any, bounds the I/O.
func (c *Connection) Receive(ctx context.Context) (*resp.Reply, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}

	reply, err := c.receive(ctx)
	if err != nil {
		c.poison(err)
		return nil, err
	}

	if reply != nil && c.raiseErrorReplies && reply.Type() == resp.TypeError {
		return nil, reply.Err()
	}
	return reply, nil
}

// receive implements Receive without poisoning or error reply conversion.
func (c *Connection) receive(ctx context.Context) (*resp.Reply, error) {
	reply, err := c.reader.ReadReply()
	if err != nil {
		return nil, err
	}
	if reply != nil {
		c.outstanding--
		return reply, nil
	}

	if !c.blocking {
		return nil, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, &resp.TransportError{Op: "read", Err: err}
	}
	if err := c.applyDeadline(ctx); err != nil {
		return nil, err
	}

	if err := c.flush(); err != nil {
		return nil, err
	}

	for {
		n, readErr := c.transport.Read(c.input)
		if n > 0 {
			if err := c.reader.Feed(c.input[:n]); err != nil {
				return nil, err
			}
			reply, err := c.reader.ReadReply()
			if err != nil {
				return nil, err
			}
			if reply != nil {
				c.outstanding--
				return reply, nil
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				readErr = fmt.Errorf("input stream unexpectedly closed: %w", readErr)
			}
			return nil, &resp.TransportError{Op: "read", Err: readErr}
		}
		if n == 0 {
			return nil, &resp.TransportError{Op: "read", Err: io.ErrNoProgress}
		}
	}
}

// flush writes the queued commands in order. A partial write puts the
// unwritten remainder back at the front of the queue and stops.
func (c *Connection) flush() error {
	for len(c.pending) > 0 {
		out := c.pending[0]

		n, err := c.transport.Write(out)
		if err != nil {
			return &resp.TransportError{Op: "write", Err: err}
		}

		if n < len(out) {
			c.pending[0] = out[n:]
			return nil
		}

		c.pending[0] = nil
		c.pending = c.pending[1:]
	}

	c.pending = nil
	return nil
}

func (c *Connection) applyDeadline(ctx context.Context) error {
	d, ok := c.transport.(deadliner)
	if !ok {
		return nil
	}

	deadline, _ := ctx.Deadline()
	if err := d.SetDeadline(deadline); err != nil {
		return &resp.TransportError{Op: "set deadline", Err: err}
	}
	return nil
}

// Ping sends PING and expects PONG.
func (c *Connection) Ping(ctx context.Context) error {
	reply, err := c.Send(ctx, "PING")
	if err != nil {
		return err
	}
	if reply.Type() == resp.TypeError {
		return reply.Err()
	}
	if reply.Type() != resp.TypeStatus || reply.Text() != "PONG" {
		return fmt.Errorf("redis: unexpected PING reply: %s", reply)
	}
	return nil
}

// Close closes the transport. A closed connection rejects every call.
func (c *Connection) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.pending = nil
	c.logger.Debug("connection closed", zap.String("addr", c.addr))
	return c.transport.Close()
}

func (c *Connection) usable() error {
	if c.closed {
		return ErrConnectionClosed
	}
	if c.poisoned != nil {
		return fmt.Errorf("%w: %w", ErrConnectionPoisoned, c.poisoned)
	}
	return nil
}

func (c *Connection) poison(err error) {
	if c.poisoned != nil {
		return
	}
	c.poisoned = err
	c.logger.Debug("connection poisoned", zap.String("addr", c.addr), zap.Error(err))
}
