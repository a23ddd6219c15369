package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pior/redis/resp"
)

func newTestClient(t testing.TB, resolver Resolver, config Config) *Client {
	t.Helper()
	client, err := NewClient(resolver, config)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(nil, Config{})
	require.Error(t, err)

	_, err = NewClient(StaticResolver("localhost:6379"), Config{MaxSize: -1})
	require.ErrorContains(t, err, "invalid pool size")

	client := newTestClient(t, StaticResolver("localhost:6379"), Config{})
	require.Equal(t, "localhost:6379", client.Name())
	require.Empty(t, client.Primary(), "the address is resolved lazily")

	_, ok := client.CircuitBreakerState()
	require.False(t, ok)
}

func TestClientDo(t *testing.T) {
	store := newMemoryStore()
	addr := respServer(t, store.handle)
	client := newTestClient(t, StaticResolver(addr), Config{MaxSize: 2})
	ctx := context.Background()

	reply, err := client.Do(ctx, "SET %s %s", "greeting", "hello world")
	require.NoError(t, err)
	requireStatus(t, reply, "OK")

	reply, err = client.Do(ctx, "GET greeting")
	require.NoError(t, err)
	requireBulk(t, reply, "hello world")

	reply, err = client.Do(ctx, "GET missing")
	require.NoError(t, err)
	require.True(t, reply.IsNil())

	require.Equal(t, addr, client.Primary())

	stats := client.Stats()
	assert.Equal(t, uint64(3), stats.Commands)
	assert.Equal(t, uint64(1), stats.Resolves)
	assert.Zero(t, stats.Errors)

	poolStats := client.PoolStats()
	assert.Equal(t, uint64(1), poolStats.CreatedConns, "the connection is reused")
	assert.Equal(t, int32(1), poolStats.IdleConns)
}

func TestClientErrorReplies(t *testing.T) {
	store := newMemoryStore()
	addr := respServer(t, store.handle)
	ctx := context.Background()

	t.Run("as replies", func(t *testing.T) {
		client := newTestClient(t, StaticResolver(addr), Config{})

		reply, err := client.Do(ctx, "FLY away")
		require.NoError(t, err)
		require.Equal(t, resp.TypeError, reply.Type())
		require.Equal(t, "ERR unknown command 'FLY'", reply.Text())

		require.Equal(t, uint64(1), client.Stats().ErrorReplies)
		require.Zero(t, client.Stats().Errors)
	})

	t.Run("raised", func(t *testing.T) {
		client := newTestClient(t, StaticResolver(addr), Config{Conn: ConnConfig{RaiseErrorReplies: true}})

		_, err := client.Do(ctx, "FLY away")
		var serr *resp.ServerError
		require.ErrorAs(t, err, &serr)
		require.Equal(t, "ERR", serr.Kind())

		reply, err := client.Do(ctx, "PING")
		require.NoError(t, err)
		requireStatus(t, reply, "PONG")

		require.Equal(t, uint64(1), client.PoolStats().CreatedConns, "error replies keep the connection")
		require.Zero(t, client.PoolStats().DestroyedConns)
	})
}

func TestClientDestroysPoisonedConnections(t *testing.T) {
	store := newMemoryStore()
	addr := respServer(t, func(args []string) string {
		if args[0] == "GARBAGE" {
			return "@@@\r\n"
		}
		return store.handle(args)
	})
	client := newTestClient(t, StaticResolver(addr), Config{})
	ctx := context.Background()

	_, err := client.Do(ctx, "GARBAGE")
	var perr *resp.ProtocolError
	require.ErrorAs(t, err, &perr)

	reply, err := client.Do(ctx, "PING")
	require.NoError(t, err)
	requireStatus(t, reply, "PONG")

	require.Equal(t, uint64(2), client.PoolStats().CreatedConns)
	require.Eventually(t, func() bool {
		return client.PoolStats().DestroyedConns == 1
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, uint64(1), client.Stats().Errors)
}

func TestClientEncodingErrorDestroysConnection(t *testing.T) {
	addr := respServer(t, newMemoryStore().handle)
	client := newTestClient(t, StaticResolver(addr), Config{})

	_, err := client.Do(context.Background(), "SET %s %s", "key")
	var eerr *resp.EncodingError
	require.ErrorAs(t, err, &eerr)

	require.Eventually(t, func() bool {
		return client.PoolStats().DestroyedConns == 1
	}, time.Second, 10*time.Millisecond)
	require.Zero(t, client.Stats().Errors, "caller mistakes are not faults")
}

func TestClientPipeline(t *testing.T) {
	store := newMemoryStore()
	addr := respServer(t, store.handle)
	client := newTestClient(t, StaticResolver(addr), Config{Conn: ConnConfig{RaiseErrorReplies: true}})
	ctx := context.Background()

	const n = 100
	replies, err := client.Pipeline(ctx, func(p *Pipeline) error {
		for i := range n {
			if err := p.Append("SET key:%s %s", i, fmt.Sprintf("value-%d", i)); err != nil {
				return err
			}
		}
		if err := p.Append("NOPE"); err != nil {
			return err
		}
		for i := range n {
			if err := p.Append("GET key:%s", i); err != nil {
				return err
			}
		}
		require.Equal(t, 2*n+1, p.Len())
		return nil
	})
	require.NoError(t, err)
	require.Len(t, replies, 2*n+1)

	for i := range n {
		requireStatus(t, replies[i], "OK")
		requireBulk(t, replies[n+1+i], fmt.Sprintf("value-%d", i))
	}
	require.Equal(t, resp.TypeError, replies[n].Type(), "error replies stay in place")

	stats := client.Stats()
	assert.Equal(t, uint64(1), stats.Pipelines)
	assert.Equal(t, uint64(2*n+1), stats.PipelinedCommands)
	assert.Equal(t, uint64(1), stats.ErrorReplies)
	assert.Zero(t, client.PoolStats().DestroyedConns)
}

func TestClientPipelineArgs(t *testing.T) {
	addr := respServer(t, newMemoryStore().handle)
	client := newTestClient(t, StaticResolver(addr), Config{})

	replies, err := client.Pipeline(context.Background(), func(p *Pipeline) error {
		if err := p.AppendArgs([]byte("SET"), []byte("a b"), []byte("%s")); err != nil {
			return err
		}
		return p.AppendArgs([]byte("GET"), []byte("a b"))
	})
	require.NoError(t, err)
	require.Len(t, replies, 2)
	requireBulk(t, replies[1], "%s")
}

func TestClientPipelineBuildError(t *testing.T) {
	store := newMemoryStore()
	addr := respServer(t, store.handle)
	client := newTestClient(t, StaticResolver(addr), Config{})
	ctx := context.Background()

	boom := errors.New("boom")
	_, err := client.Pipeline(ctx, func(p *Pipeline) error {
		_ = p.Append("SET a 1")
		return boom
	})
	require.ErrorIs(t, err, boom)

	// Queued but unsent commands make the connection unusable
	require.Eventually(t, func() bool {
		return client.PoolStats().DestroyedConns == 1
	}, time.Second, 10*time.Millisecond)
	require.Zero(t, store.commandCount())

	reply, err := client.Do(ctx, "GET a")
	require.NoError(t, err)
	require.True(t, reply.IsNil())
}

func TestClientConcurrentCommands(t *testing.T) {
	addr := respServer(t, newMemoryStore().handle)
	client := newTestClient(t, StaticResolver(addr), Config{MaxSize: 4})
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				value := fmt.Sprintf("%d-%d", g, i)
				reply, err := client.Do(ctx, "ECHO %s", value)
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, value, reply.Text())
			}
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, client.PoolStats().CreatedConns, uint64(4))
	require.Equal(t, uint64(16*50), client.Stats().Commands)
}

// switchableSentinel is a fake sentinel whose answer can be changed.
type switchableSentinel struct {
	primary atomic.Value // string
	queries atomic.Int64
}

func (s *switchableSentinel) handle(args []string) string {
	s.queries.Add(1)
	host, port, _ := net.SplitHostPort(s.primary.Load().(string))
	return "*2\r\n" + bulk(host) + bulk(port)
}

// readOnlyStore answers READONLY to writes once demoted.
type readOnlyStore struct {
	*memoryStore
	demoted atomic.Bool
}

func (s *readOnlyStore) handle(args []string) string {
	if s.demoted.Load() && args[0] == "SET" {
		return "-READONLY You can't write against a read only replica.\r\n"
	}
	return s.memoryStore.handle(args)
}

func TestClientSentinelFailover(t *testing.T) {
	first := &readOnlyStore{memoryStore: newMemoryStore()}
	second := newMemoryStore()
	firstAddr := respServer(t, first.handle)
	secondAddr := respServer(t, second.handle)

	fake := &switchableSentinel{}
	fake.primary.Store(firstAddr)
	sentinelAddr := respServer(t, fake.handle)

	sentinel, err := NewSentinel(SentinelConfig{ServiceName: "mymaster", Addrs: []string{sentinelAddr}, Timeout: time.Second})
	require.NoError(t, err)

	client := newTestClient(t, sentinel, Config{})
	require.Equal(t, "sentinel/mymaster", client.Name())
	ctx := context.Background()

	reply, err := client.Do(ctx, "SET k v1")
	require.NoError(t, err)
	requireStatus(t, reply, "OK")
	require.Equal(t, firstAddr, client.Primary())

	// Failover: the old primary becomes a replica
	fake.primary.Store(secondAddr)
	first.demoted.Store(true)

	reply, err = client.Do(ctx, "SET k v2")
	require.NoError(t, err)
	require.Equal(t, "READONLY", reply.ServerError().Kind())
	require.Empty(t, client.Primary(), "READONLY drops the cached primary")

	reply, err = client.Do(ctx, "SET k v2")
	require.NoError(t, err)
	requireStatus(t, reply, "OK")
	require.Equal(t, secondAddr, client.Primary())

	second.mu.Lock()
	require.Equal(t, "v2", second.data["k"])
	second.mu.Unlock()

	stats := client.Stats()
	assert.Equal(t, uint64(2), stats.Resolves)
	assert.Equal(t, uint64(1), stats.Failovers)
	assert.Equal(t, uint64(1), stats.ErrorReplies)
	assert.Equal(t, int64(2), fake.queries.Load())
}

func TestClientTransportFailureReResolves(t *testing.T) {
	var calls atomic.Int64
	resolver := resolverFunc(func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "127.0.0.1:1", nil
	})
	client := newTestClient(t, resolver, Config{})

	for range 3 {
		_, err := client.Do(context.Background(), "PING")
		var terr *resp.TransportError
		require.ErrorAs(t, err, &terr)
	}
	require.Equal(t, int64(3), calls.Load(), "a failed dial forgets the address")
}

func TestClientHealthCheckFollowsPrimary(t *testing.T) {
	first := newMemoryStore()
	second := newMemoryStore()
	firstAddr := respServer(t, first.handle)
	secondAddr := respServer(t, second.handle)

	var current atomic.Value
	current.Store(firstAddr)
	resolver := resolverFunc(func(ctx context.Context) (string, error) {
		return current.Load().(string), nil
	})

	client := newTestClient(t, resolver, Config{HealthCheckInterval: 20 * time.Millisecond})
	ctx := context.Background()

	_, err := client.Do(ctx, "PING")
	require.NoError(t, err)

	current.Store(secondAddr)

	// The idle connection to the former primary is destroyed by the health check
	require.Eventually(t, func() bool {
		return client.Primary() == secondAddr && client.PoolStats().DestroyedConns >= 1
	}, 2*time.Second, 10*time.Millisecond)

	require.GreaterOrEqual(t, client.Stats().Failovers, uint64(1))

	_, err = client.Do(ctx, "SET k v")
	require.NoError(t, err)
	second.mu.Lock()
	require.Equal(t, "v", second.data["k"])
	second.mu.Unlock()
}

func TestClientHealthCheckMaxIdleTime(t *testing.T) {
	addr := respServer(t, newMemoryStore().handle)
	client := newTestClient(t, StaticResolver(addr), Config{
		HealthCheckInterval: 20 * time.Millisecond,
		MaxConnIdleTime:     10 * time.Millisecond,
	})

	_, err := client.Do(context.Background(), "PING")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return client.PoolStats().DestroyedConns == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClientCircuitBreaker(t *testing.T) {
	t.Run("opens on connection failures", func(t *testing.T) {
		client := newTestClient(t, StaticResolver("127.0.0.1:1"), Config{
			NewCircuitBreaker: NewCircuitBreakerConfig(1, time.Minute, time.Minute),
			constructor: func(ctx context.Context) (*Connection, error) {
				return nil, &resp.TransportError{Op: "dial", Err: errors.New("refused")}
			},
		})

		for range 3 {
			_, err := client.Do(context.Background(), "PING")
			require.Error(t, err)
		}

		_, err := client.Do(context.Background(), "PING")
		require.ErrorIs(t, err, gobreaker.ErrOpenState)

		state, ok := client.CircuitBreakerState()
		require.True(t, ok)
		require.Equal(t, gobreaker.StateOpen, state)
		require.Equal(t, uint64(4), client.Stats().Errors)
	})

	t.Run("error replies do not trip", func(t *testing.T) {
		addr := respServer(t, newMemoryStore().handle)
		client := newTestClient(t, StaticResolver(addr), Config{
			NewCircuitBreaker: NewCircuitBreakerConfig(1, time.Minute, time.Minute),
			Conn:              ConnConfig{RaiseErrorReplies: true},
		})

		for range 10 {
			_, err := client.Do(context.Background(), "NOPE")
			var serr *resp.ServerError
			require.ErrorAs(t, err, &serr)
		}

		state, _ := client.CircuitBreakerState()
		require.Equal(t, gobreaker.StateClosed, state)
	})

	t.Run("caller mistakes do not trip", func(t *testing.T) {
		addr := respServer(t, newMemoryStore().handle)
		client := newTestClient(t, StaticResolver(addr), Config{
			NewCircuitBreaker: NewCircuitBreakerConfig(1, time.Minute, time.Minute),
		})
		ctx := context.Background()

		boom := errors.New("boom")
		for range 3 {
			_, err := client.Pipeline(ctx, func(p *Pipeline) error {
				_ = p.Append("SET a 1")
				return boom
			})
			require.ErrorIs(t, err, boom)

			_, err = client.Do(ctx, "SET %b x", struct{}{})
			var eerr *resp.EncodingError
			require.ErrorAs(t, err, &eerr)
		}

		state, _ := client.CircuitBreakerState()
		require.Equal(t, gobreaker.StateClosed, state)
		require.Zero(t, client.Stats().Errors)

		reply, err := client.Do(ctx, "PING")
		require.NoError(t, err)
		requireStatus(t, reply, "PONG")

		require.Eventually(t, func() bool {
			return client.PoolStats().DestroyedConns == 6
		}, time.Second, 10*time.Millisecond, "poisoned connections are still dropped")
	})
}

func TestClientCanceledContext(t *testing.T) {
	addr := respServer(t, newMemoryStore().handle)
	client := newTestClient(t, StaticResolver(addr), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Do(ctx, "PING")
	require.ErrorIs(t, err, context.Canceled)
}

type resolverFunc func(ctx context.Context) (string, error)

func (f resolverFunc) Resolve(ctx context.Context) (string, error) {
	return f(ctx)
}

func TestClientDoArgs(t *testing.T) {
	addr := respServer(t, newMemoryStore().handle)
	client := newTestClient(t, StaticResolver(addr), Config{})
	ctx := context.Background()

	reply, err := client.DoArgs(ctx, []byte("SET"), []byte("100%s"), []byte("two words"))
	require.NoError(t, err)
	requireStatus(t, reply, "OK")

	reply, err = client.DoArgs(ctx, []byte("GET"), []byte("100%s"))
	require.NoError(t, err)
	requireBulk(t, reply, "two words")
}
