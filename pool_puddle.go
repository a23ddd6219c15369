package redis

import (
	"context"
	"sync/atomic"

	"github.com/jackc/puddle/v2"
)

// NewPuddlePool creates a connection pool backed by puddle.
// This is the default pool implementation.
//
// Connections handed back with Release while poisoned, closed or still
// expecting replies are destroyed instead of being pooled.
func NewPuddlePool(constructor func(ctx context.Context) (*Connection, error), maxSize int32) (Pool, error) {
	p := &puddlePool{constructor: constructor}

	pool, err := puddle.NewPool(&puddle.Config[*Connection]{
		Constructor: p.construct,
		Destructor:  p.destruct,
		MaxSize:     maxSize,
	})
	if err != nil {
		return nil, err
	}
	p.pool = pool
	return p, nil
}

type puddlePool struct {
	pool        *puddle.Pool[*Connection]
	constructor func(ctx context.Context) (*Connection, error)

	// puddle does not count constructed and destroyed resources
	created   atomic.Uint64
	destroyed atomic.Uint64
}

func (p *puddlePool) construct(ctx context.Context) (*Connection, error) {
	conn, err := p.constructor(ctx)
	if err != nil {
		return nil, err
	}
	p.created.Add(1)
	return conn, nil
}

// destruct runs on a puddle goroutine, after Destroy returned.
func (p *puddlePool) destruct(conn *Connection) {
	_ = conn.Close()
	p.destroyed.Add(1)
}

func (p *puddlePool) Acquire(ctx context.Context) (Resource, error) {
	res, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return puddleResource{res}, nil
}

func (p *puddlePool) AcquireAllIdle() []Resource {
	idle := p.pool.AcquireAllIdle()
	resources := make([]Resource, len(idle))
	for i, res := range idle {
		resources[i] = puddleResource{res}
	}
	return resources
}

func (p *puddlePool) Close() {
	p.pool.Close()
}

func (p *puddlePool) Stats() PoolStats {
	s := p.pool.Stat()

	return PoolStats{
		TotalConns:        s.TotalResources(),
		IdleConns:         s.IdleResources(),
		ActiveConns:       s.AcquiredResources(),
		AcquireCount:      uint64(s.AcquireCount()),
		AcquireWaitCount:  uint64(s.EmptyAcquireCount()),
		CreatedConns:      p.created.Load(),
		DestroyedConns:    p.destroyed.Load(),
		AcquireErrors:     uint64(s.CanceledAcquireCount()),
		AcquireWaitTimeNs: uint64(s.EmptyAcquireWaitTime().Nanoseconds()),
	}
}

type puddleResource struct {
	*puddle.Resource[*Connection]
}

func (r puddleResource) Release() {
	if !reusable(r.Value()) {
		r.Destroy()
		return
	}
	r.Resource.Release()
}
