package redis

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pior/redis/resp"
)

func createListener(t testing.TB, handler func(conn net.Conn)) string {
	// Start a simple test server
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to start test server: %v", err)
	}

	t.Cleanup(func() {
		listener.Close()
	})

	// Accept connections in background
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}

			go func(c net.Conn) {
				defer c.Close()

				if handler != nil {
					handler(c)
				}
			}(conn)
		}
	}()

	// Give the server time to start
	time.Sleep(10 * time.Millisecond)

	return listener.Addr().String()
}

// respServer starts a fake server that decodes each command with a resp.Reader
// and writes back whatever the handler returns. Handlers run concurrently for
// concurrent connections.
func respServer(t testing.TB, handler func(args []string) string) string {
	return createListener(t, func(conn net.Conn) {
		r := resp.NewReader()
		buf := make([]byte, 4096)

		for {
			for {
				cmd, err := r.ReadReply()
				if err != nil {
					return
				}
				if cmd == nil {
					break
				}

				args := make([]string, cmd.Len())
				for i := range args {
					args[i] = cmd.Index(i).Text()
				}
				if _, err := conn.Write([]byte(handler(args))); err != nil {
					return
				}
			}

			n, err := conn.Read(buf)
			if n > 0 {
				_ = r.Feed(buf[:n])
			}
			if err != nil {
				return
			}
		}
	})
}

// memoryStore is a tiny in-memory command handler for respServer.
type memoryStore struct {
	mu       sync.Mutex
	data     map[string]string
	commands []string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string]string{}}
}

func (s *memoryStore) handle(args []string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.commands = append(s.commands, strings.Join(args, " "))

	switch strings.ToUpper(args[0]) {
	case "PING":
		return "+PONG\r\n"
	case "ECHO":
		return bulk(args[1])
	case "SET":
		s.data[args[1]] = args[2]
		return "+OK\r\n"
	case "GET":
		v, ok := s.data[args[1]]
		if !ok {
			return "$-1\r\n"
		}
		return bulk(v)
	case "DEL":
		_, ok := s.data[args[1]]
		delete(s.data, args[1])
		if ok {
			return ":1\r\n"
		}
		return ":0\r\n"
	}
	return fmt.Sprintf("-ERR unknown command '%s'\r\n", args[0])
}

func (s *memoryStore) commandCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.commands)
}

func bulk(s string) string {
	return fmt.Sprintf("$%d\r\n%s\r\n", len(s), s)
}

func requireStatus(t testing.TB, reply *resp.Reply, expected string) {
	t.Helper()
	require.NotNil(t, reply, "Reply should not be nil")
	require.Equal(t, resp.TypeStatus, reply.Type(), "unexpected reply %s", reply)
	require.Equal(t, expected, reply.Text())
}

func requireBulk(t testing.TB, reply *resp.Reply, expected string) {
	t.Helper()
	require.NotNil(t, reply, "Reply should not be nil")
	require.Equal(t, resp.TypeString, reply.Type(), "unexpected reply %s", reply)
	require.Equal(t, expected, reply.Text())
}
