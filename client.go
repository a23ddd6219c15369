package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/pior/redis/resp"
)

// DefaultMaxSize is the pool size used when Config.MaxSize is zero.
const DefaultMaxSize = 10

// Config holds configuration for the client connection pool.
type Config struct {
	// MaxSize is the maximum number of connections in the pool.
	// Zero means DefaultMaxSize.
	MaxSize int32

	// MaxConnLifetime is the maximum duration a connection can be reused.
	// Zero means no limit.
	MaxConnLifetime time.Duration

	// MaxConnIdleTime is the maximum duration a connection can be idle before being closed.
	// Zero means no limit.
	MaxConnIdleTime time.Duration

	// HealthCheckInterval is how often to check idle connections for health
	// and to re-resolve the primary address.
	// Zero disables health checks.
	HealthCheckInterval time.Duration

	// Conn holds the settings applied to every connection.
	Conn ConnConfig

	// Pool is the connection pool factory function.
	// If nil, NewPuddlePool is used.
	Pool PoolFactory

	// NewCircuitBreaker creates the circuit breaker guarding the server.
	// It is called once with the resolver name.
	// If nil, no circuit breaker is used.
	NewCircuitBreaker func(name string) CircuitBreaker

	// Logger receives client events. If nil, nothing is logged.
	Logger *zap.Logger

	// for testing purposes only
	constructor func(ctx context.Context) (*Connection, error)
}

// Client is a pooled client for one logical Redis server, whose address is
// given by a Resolver. It is safe for concurrent use.
//
// When a connection fails at the transport level, or the server answers
// READONLY because a failover demoted it, the cached address is dropped and
// the next new connection resolves it again.
type Client struct {
	resolver Resolver
	name     string
	config   Config
	logger   *zap.Logger

	pool    Pool
	breaker CircuitBreaker // nil if not configured

	mu       sync.RWMutex
	primary  string // cleared when the address is suspect
	resolved string // last resolved address, never cleared

	stopHealthCheck chan struct{}
	closeOnce       sync.Once

	stats *clientStatsCollector
}

// NewClient creates a new client.
// For a single server, use: NewClient(StaticResolver("host:port"), config)
func NewClient(resolver Resolver, config Config) (*Client, error) {
	if resolver == nil {
		return nil, errors.New("redis: resolver is required")
	}
	if config.MaxSize < 0 {
		return nil, fmt.Errorf("redis: invalid pool size %d", config.MaxSize)
	}
	if config.MaxSize == 0 {
		config.MaxSize = DefaultMaxSize
	}

	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Conn.Logger == nil {
		config.Conn.Logger = config.Logger
	}

	poolFactory := config.Pool
	if poolFactory == nil {
		poolFactory = NewPuddlePool
	}

	client := &Client{
		resolver:        resolver,
		name:            resolverName(resolver),
		config:          config,
		logger:          config.Logger,
		stopHealthCheck: make(chan struct{}),
		stats:           newClientStatsCollector(),
	}

	constructor := config.constructor
	if constructor == nil {
		constructor = client.dial
	}

	pool, err := poolFactory(constructor, config.MaxSize)
	if err != nil {
		return nil, err
	}
	client.pool = pool

	if config.NewCircuitBreaker != nil {
		client.breaker = config.NewCircuitBreaker(client.name)
	}

	// Start health check goroutine if enabled
	if config.HealthCheckInterval > 0 {
		go client.healthCheckLoop()
	}

	return client, nil
}

func resolverName(r Resolver) string {
	if s, ok := r.(fmt.Stringer); ok {
		return s.String()
	}
	return "redis"
}

// Close stops the health checks and destroys all connections.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.config.HealthCheckInterval > 0 {
			close(c.stopHealthCheck)
		}
		c.pool.Close()
	})
}

// Name identifies the client in logs, metrics and circuit breaker state.
func (c *Client) Name() string {
	return c.name
}

// Primary returns the cached server address, or "" if it must be resolved.
func (c *Client) Primary() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.primary
}

// Stats returns a snapshot of the client statistics.
func (c *Client) Stats() ClientStats {
	return c.stats.snapshot()
}

// PoolStats returns a snapshot of the pool statistics.
func (c *Client) PoolStats() PoolStats {
	return c.pool.Stats()
}

// CircuitBreakerState returns the breaker state, and false when no breaker
// is configured.
func (c *Client) CircuitBreakerState() (gobreaker.State, bool) {
	if c.breaker == nil {
		return gobreaker.StateClosed, false
	}
	return c.breaker.State(), true
}

// dial is the pool constructor: it resolves the address when none is cached
// and opens a connection to it.
func (c *Client) dial(ctx context.Context) (*Connection, error) {
	addr, err := c.primaryAddr(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := Dial(ctx, addr, c.config.Conn)
	if err != nil {
		c.invalidatePrimary(addr)
		return nil, err
	}
	return conn, nil
}

func (c *Client) primaryAddr(ctx context.Context) (string, error) {
	c.mu.RLock()
	addr := c.primary
	c.mu.RUnlock()
	if addr != "" {
		return addr, nil
	}

	return c.resolvePrimary(ctx)
}

func (c *Client) resolvePrimary(ctx context.Context) (string, error) {
	addr, err := c.resolver.Resolve(ctx)
	if err != nil {
		c.stats.recordError()
		return "", err
	}

	c.mu.Lock()
	previous := c.resolved
	c.primary = addr
	c.resolved = addr
	c.mu.Unlock()

	changed := previous != "" && previous != addr
	c.stats.recordResolve(changed)
	if changed {
		c.logger.Warn("primary address changed",
			zap.String("client", c.name),
			zap.String("previous", previous),
			zap.String("primary", addr))
	}
	return addr, nil
}

// invalidatePrimary drops the cached address if it is still addr.
func (c *Client) invalidatePrimary(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.primary != "" && c.primary == addr {
		c.primary = ""
		c.logger.Info("primary address invalidated", zap.String("client", c.name), zap.String("addr", addr))
	}
}

// healthCheckLoop periodically checks idle connections for health and lifecycle limits.
func (c *Client) healthCheckLoop() {
	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopHealthCheck:
			return
		case <-ticker.C:
			c.checkPrimary()
			c.checkPoolConnections()
		}
	}
}

// checkPrimary re-resolves a dynamic address so a failover is noticed even
// while the client is idle.
func (c *Client) checkPrimary() {
	if _, ok := c.resolver.(StaticResolver); ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.config.HealthCheckInterval)
	defer cancel()

	if _, err := c.resolvePrimary(ctx); err != nil {
		c.logger.Warn("primary re-resolution failed", zap.String("client", c.name), zap.Error(err))
	}
}

// checkPoolConnections checks all idle connections and destroys those that are
// stale, unhealthy or connected to a former primary.
func (c *Client) checkPoolConnections() {
	now := time.Now()
	primary := c.Primary()

	for _, res := range c.pool.AcquireAllIdle() {
		conn := res.Value()

		// Check max connection lifetime
		if c.config.MaxConnLifetime > 0 && now.Sub(res.CreationTime()) > c.config.MaxConnLifetime {
			res.Destroy()
			continue
		}

		// Check max idle time
		if c.config.MaxConnIdleTime > 0 && res.IdleDuration() > c.config.MaxConnIdleTime {
			res.Destroy()
			continue
		}

		if primary != "" && conn.Addr() != primary {
			res.Destroy()
			continue
		}

		if err := c.healthCheck(conn); err != nil {
			c.logger.Debug("health check failed", zap.String("addr", conn.Addr()), zap.Error(err))
			res.Destroy()
			continue
		}

		res.ReleaseUnused()
	}
}

func (c *Client) healthCheck(conn *Connection) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.HealthCheckInterval)
	defer cancel()
	return conn.Ping(ctx)
}

// execute runs fn on a pooled connection. If a circuit breaker is configured,
// the call is wrapped with it.
//
// Only faults of the server or the path to it count as breaker failures:
// acquire errors, transport and protocol errors. Error replies and caller
// mistakes (encoding errors, a failing pipeline build) are returned as is.
func (c *Client) execute(ctx context.Context, fn func(conn *Connection) error) error {
	if c.breaker == nil {
		_, err := c.executeDirect(ctx, fn)
		return err
	}

	var callErr error
	_, err := c.breaker.Execute(func() (bool, error) {
		fault, err := c.executeDirect(ctx, fn)
		if fault {
			return false, err
		}
		callErr = err
		return true, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.stats.recordError()
		}
		return err
	}
	return callErr
}

// executeDirect acquires a connection, runs fn, and releases the connection,
// or destroys it when it can no longer be reused. It reports whether the
// error is a server fault.
func (c *Client) executeDirect(ctx context.Context, fn func(conn *Connection) error) (bool, error) {
	resource, err := c.pool.Acquire(ctx)
	if err != nil {
		c.stats.recordError()
		return true, err
	}

	conn := resource.Value()
	err = fn(conn)

	fault := isServerFault(err)
	var serr *resp.ServerError
	switch {
	case err == nil:
	case errors.As(err, &serr):
		c.stats.recordErrorReply()
		c.dropIfDemoted(conn, serr)
	case fault:
		c.stats.recordError()
	}

	var terr *resp.TransportError
	if errors.As(err, &terr) {
		c.invalidatePrimary(conn.Addr())
	}

	// Unread replies would be delivered to the next user
	if !reusable(conn) {
		resource.Destroy()
		return fault, err
	}

	resource.Release()
	return fault, err
}

// isServerFault reports whether err comes from the transport or from the
// byte stream sent by the server, including a connection poisoned by one.
func isServerFault(err error) bool {
	var terr *resp.TransportError
	var perr *resp.ProtocolError
	return errors.As(err, &terr) || errors.As(err, &perr) || errors.Is(err, resp.ErrReaderPoisoned)
}

// dropIfDemoted closes conn when the server reports it is no longer the
// primary.
func (c *Client) dropIfDemoted(conn *Connection, serr *resp.ServerError) {
	if serr.Kind() != "READONLY" {
		return
	}
	c.logger.Warn("server is read-only, dropping connection", zap.String("addr", conn.Addr()))
	_ = conn.Close()
	c.invalidatePrimary(conn.Addr())
}

func (c *Client) observeReply(conn *Connection, reply *resp.Reply) {
	if reply.Type() != resp.TypeError {
		return
	}
	c.stats.recordErrorReply()
	c.dropIfDemoted(conn, reply.ServerError())
}

// Do sends one command and returns its reply.
//
// Error replies are returned as a Reply of type resp.TypeError, or as a
// *resp.ServerError when Config.Conn.RaiseErrorReplies is set.
func (c *Client) Do(ctx context.Context, format string, args ...any) (*resp.Reply, error) {
	c.stats.recordCommand()

	var reply *resp.Reply
	err := c.execute(ctx, func(conn *Connection) error {
		var err error
		reply, err = conn.Send(ctx, format, args...)
		if err == nil {
			c.observeReply(conn, reply)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// DoArgs sends one command made of pre-split arguments, sent verbatim.
func (c *Client) DoArgs(ctx context.Context, args ...[]byte) (*resp.Reply, error) {
	c.stats.recordCommand()

	var reply *resp.Reply
	err := c.execute(ctx, func(conn *Connection) error {
		var err error
		reply, err = conn.SendArgs(ctx, args...)
		if err == nil {
			c.observeReply(conn, reply)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// Pipeline queues commands on one connection.
type Pipeline struct {
	conn     *Connection
	commands int
}

// Append queues a command.
func (p *Pipeline) Append(format string, args ...any) error {
	if err := p.conn.Append(format, args...); err != nil {
		return err
	}
	p.commands++
	return nil
}

// AppendArgs queues a command made of pre-split arguments.
func (p *Pipeline) AppendArgs(args ...[]byte) error {
	if err := p.conn.AppendArgs(args...); err != nil {
		return err
	}
	p.commands++
	return nil
}

// Len returns the number of queued commands.
func (p *Pipeline) Len() int {
	return p.commands
}

// Pipeline runs build to queue commands on one connection, sends them in a
// single batch, and returns one reply per command, in order.
//
// Error replies are returned in place, whatever RaiseErrorReplies says.
func (c *Client) Pipeline(ctx context.Context, build func(p *Pipeline) error) ([]*resp.Reply, error) {
	var replies []*resp.Reply

	err := c.execute(ctx, func(conn *Connection) error {
		p := &Pipeline{conn: conn}
		if err := build(p); err != nil {
			return err
		}
		c.stats.recordPipeline(p.commands)

		if err := conn.usable(); err != nil {
			return err
		}
		conn.SetBlocking(true)
		replies = make([]*resp.Reply, 0, p.commands)
		for range p.commands {
			reply, err := conn.receive(ctx)
			if err != nil {
				conn.poison(err)
				return err
			}
			replies = append(replies, reply)
		}

		for _, reply := range replies {
			if reply.Type() == resp.TypeError {
				c.stats.recordErrorReply()
			}
		}
		for _, reply := range replies {
			if reply.Type() == resp.TypeError && reply.ServerError().Kind() == "READONLY" {
				c.dropIfDemoted(conn, reply.ServerError())
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return replies, nil
}
