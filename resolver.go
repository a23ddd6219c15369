package redis

import "context"

// Resolver returns the address of the server a client should talk to.
// It is called whenever the client has no known-good address, so a Resolver
// backed by discovery (such as Sentinel) follows failovers.
type Resolver interface {
	Resolve(ctx context.Context) (string, error)
}

// StaticResolver always resolves to the same host:port.
type StaticResolver string

var _ Resolver = StaticResolver("")

func (r StaticResolver) Resolve(context.Context) (string, error) {
	return string(r), nil
}

func (r StaticResolver) String() string {
	return string(r)
}
