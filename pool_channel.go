package redis

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrPoolClosed is returned by Acquire once the pool is closed.
var ErrPoolClosed = errors.New("redis: pool closed")

// NewChannelPool creates a connection pool backed by a buffered channel.
// It is an alternative to NewPuddlePool with fewer allocations per acquire.
//
// Connections handed back with Release while poisoned, closed or still
// expecting replies are destroyed instead of being pooled.
func NewChannelPool(constructor func(ctx context.Context) (*Connection, error), maxSize int32) (Pool, error) {
	if maxSize < 1 {
		return nil, errors.New("redis: pool size must be at least 1")
	}
	return &channelPool{
		constructor: constructor,
		maxSize:     maxSize,
		idle:        make(chan *channelResource, maxSize),
		stats:       newPoolStatsCollector(),
	}, nil
}

type channelResource struct {
	conn      *Connection
	pool      *channelPool
	createdAt time.Time
	lastUsed  time.Time
}

func (r *channelResource) Value() *Connection {
	return r.conn
}

func (r *channelResource) Release() {
	r.lastUsed = time.Now()
	r.pool.put(r)
}

// ReleaseUnused returns the connection without touching its idle clock, so
// health checks do not keep an unused connection alive.
func (r *channelResource) ReleaseUnused() {
	r.pool.put(r)
}

func (r *channelResource) Destroy() {
	r.pool.destroy(r)
}

func (r *channelResource) CreationTime() time.Time {
	return r.createdAt
}

func (r *channelResource) IdleDuration() time.Duration {
	return time.Since(r.lastUsed)
}

type channelPool struct {
	constructor func(ctx context.Context) (*Connection, error)
	maxSize     int32

	mu     sync.Mutex
	idle   chan *channelResource
	size   int32
	closed bool

	stats *poolStatsCollector
}

func (p *channelPool) Acquire(ctx context.Context) (Resource, error) {
	p.stats.recordAcquire()

	select {
	case res, ok := <-p.idle:
		if ok {
			p.stats.recordAcquireFromIdle()
			return res, nil
		}
	default:
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.stats.recordAcquireError()
		return nil, ErrPoolClosed
	}

	if p.size < p.maxSize {
		p.size++
		p.mu.Unlock()

		conn, err := p.constructor(ctx)
		if err != nil {
			p.mu.Lock()
			p.size--
			p.mu.Unlock()
			p.stats.recordAcquireError()
			return nil, err
		}

		p.stats.recordCreate()
		p.stats.recordActivate()

		now := time.Now()
		return &channelResource{conn: conn, pool: p, createdAt: now, lastUsed: now}, nil
	}
	p.mu.Unlock()

	waitStart := time.Now()
	select {
	case res, ok := <-p.idle:
		if !ok {
			p.stats.recordAcquireError()
			return nil, ErrPoolClosed
		}
		p.stats.recordAcquireWait(time.Since(waitStart))
		p.stats.recordAcquireFromIdle()
		return res, nil
	case <-ctx.Done():
		p.stats.recordAcquireError()
		return nil, ctx.Err()
	}
}

func (p *channelPool) put(res *channelResource) {
	conn := res.conn
	if !reusable(conn) {
		p.destroy(res)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		p.size--
		p.stats.recordDeactivate()
		p.stats.recordDestroy()
		_ = conn.Close()
		return
	}

	// The channel holds maxSize entries and at most maxSize resources exist,
	// so this never blocks.
	p.idle <- res
	p.stats.recordRelease()
}

func (p *channelPool) destroy(res *channelResource) {
	_ = res.conn.Close()

	p.mu.Lock()
	p.size--
	p.mu.Unlock()

	p.stats.recordDeactivate()
	p.stats.recordDestroy()
}

func (p *channelPool) AcquireAllIdle() []Resource {
	var idle []Resource
	for {
		select {
		case res, ok := <-p.idle:
			if !ok {
				return idle
			}
			p.stats.recordAcquireFromIdle()
			idle = append(idle, res)
		default:
			return idle
		}
	}
}

// Close closes the idle connections. Connections in use are closed when
// they are handed back.
func (p *channelPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.idle)
	p.mu.Unlock()

	for res := range p.idle {
		_ = res.conn.Close()
		p.mu.Lock()
		p.size--
		p.mu.Unlock()
		p.stats.recordIdleDestroy()
	}
}

func (p *channelPool) Stats() PoolStats {
	return p.stats.snapshot()
}
