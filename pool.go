package redis

import (
	"context"
	"time"
)

// Pool is a pool of connections to a single server.
type Pool interface {
	Acquire(ctx context.Context) (Resource, error)
	AcquireAllIdle() []Resource
	Close()
	Stats() PoolStats
}

// Resource is a connection checked out of a Pool. Exactly one of Release,
// ReleaseUnused or Destroy must be called when done.
type Resource interface {
	Value() *Connection
	Release()
	ReleaseUnused()
	Destroy()
	CreationTime() time.Time
	IdleDuration() time.Duration
}

// PoolFactory builds a Pool from a connection constructor.
type PoolFactory func(constructor func(ctx context.Context) (*Connection, error), maxSize int32) (Pool, error)

// reusable reports whether conn can be handed to the next user: it must be
// open, healthy and have no reply in flight.
func reusable(conn *Connection) bool {
	return !conn.Poisoned() && !conn.IsClosed() && conn.Outstanding() == 0
}
