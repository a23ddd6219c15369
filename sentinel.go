package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pior/redis/resp"
)

// DefaultSentinelTimeout bounds the connection to, and the query of, a single
// sentinel.
const DefaultSentinelTimeout = 200 * time.Millisecond

var (
	ErrNoPrimary         = errors.New("redis: no sentinel could resolve the primary")
	ErrNoSentinels       = errors.New("redis: no sentinel addresses")
	ErrNoServiceName     = errors.New("redis: sentinel service name is required")
	ErrEmptySentinelAddr = errors.New("redis: empty sentinel address")
	ErrNegativeTimeout   = errors.New("redis: sentinel timeout must be positive")
	errSentinelExhausted = errors.New("redis: every sentinel was tried in this round")
)

// SentinelConfig describes a set of sentinels monitoring one service.
type SentinelConfig struct {
	// ServiceName is the name the sentinels monitor the primary under.
	ServiceName string

	// Addrs lists the sentinels as host:port, in preference order.
	Addrs []string

	// Timeout bounds the connection to and the query of each sentinel and
	// must not be negative. Zero selects DefaultSentinelTimeout, so the
	// effective timeout is always positive.
	Timeout time.Duration

	// Dialer is used to reach the sentinels. If nil, the default net.Dialer is used.
	Dialer *net.Dialer

	// Logger receives discovery events. If nil, nothing is logged.
	Logger *zap.Logger
}

// Sentinel rotates through sentinel addresses to discover the current primary.
//
// Candidates are tried in order. The sentinel that answers goes back to the
// front of the list so it is tried first next time, and the candidates that
// failed before it go to the back in the order they were tried. The cyclic
// order of the remaining candidates is kept.
//
// A Sentinel is safe for concurrent use.
type Sentinel struct {
	serviceName string
	timeout     time.Duration
	dialer      *net.Dialer
	logger      *zap.Logger

	mu        sync.Mutex
	untried   []string
	attempted []string // oldest first
}

var _ Resolver = (*Sentinel)(nil)

// NewSentinel validates config and returns a Sentinel.
func NewSentinel(config SentinelConfig) (*Sentinel, error) {
	if config.ServiceName == "" {
		return nil, ErrNoServiceName
	}
	if len(config.Addrs) == 0 {
		return nil, ErrNoSentinels
	}
	if slices.Contains(config.Addrs, "") {
		return nil, ErrEmptySentinelAddr
	}
	if config.Timeout < 0 {
		return nil, ErrNegativeTimeout
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultSentinelTimeout
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sentinel{
		serviceName: config.ServiceName,
		timeout:     timeout,
		dialer:      config.Dialer,
		logger:      logger,
		untried:     append([]string(nil), config.Addrs...),
	}, nil
}

// ServiceName returns the monitored service name.
func (s *Sentinel) ServiceName() string {
	return s.serviceName
}

func (s *Sentinel) String() string {
	return "sentinel/" + s.serviceName
}

// Timeout returns the per-sentinel timeout.
func (s *Sentinel) Timeout() time.Duration {
	return s.timeout
}

// MoreHosts reports whether untried candidates remain in the current round.
func (s *Sentinel) MoreHosts() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.untried) > 0
}

// TryHost takes the next untried candidate and records it as attempted.
// It returns false when the round is exhausted.
func (s *Sentinel) TryHost() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tryHost()
}

// SuccessfulConnection reports that the most recently tried candidate
// answered. That candidate becomes the first to try, and the candidates that
// were tried before it are queued behind the untried ones.
func (s *Sentinel) SuccessfulConnection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successfulConnection()
}

// RestartRound makes every attempted candidate untried again, behind the
// candidates that were never tried.
func (s *Sentinel) RestartRound() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restartRound()
}

// Candidates returns the untried candidates followed by the attempted ones, in
// the order they would be tried after RestartRound.
func (s *Sentinel) Candidates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.untried)+len(s.attempted))
	out = append(out, s.untried...)
	return append(out, s.attempted...)
}

func (s *Sentinel) tryHost() (string, bool) {
	if len(s.untried) == 0 {
		return "", false
	}
	host := s.untried[0]
	s.untried = s.untried[1:]
	s.attempted = append(s.attempted, host)
	return host, true
}

func (s *Sentinel) successfulConnection() {
	if len(s.attempted) == 0 {
		return
	}

	last := len(s.attempted) - 1
	candidates := make([]string, 0, len(s.untried)+len(s.attempted))
	candidates = append(candidates, s.attempted[last])
	candidates = append(candidates, s.untried...)
	candidates = append(candidates, s.attempted[:last]...)

	s.untried = candidates
	s.attempted = nil
}

func (s *Sentinel) restartRound() {
	s.untried = append(s.untried, s.attempted...)
	s.attempted = nil
}

// Resolve asks the sentinels, in rotation order, for the address of the
// primary. The first sentinel that answers wins. When none answers, the round
// is restarted and ErrNoPrimary is returned.
func (s *Sentinel) Resolve(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lastErr := errSentinelExhausted
	for {
		host, ok := s.tryHost()
		if !ok {
			break
		}

		addr, err := s.queryPrimary(ctx, host)
		if err == nil {
			s.successfulConnection()
			s.logger.Debug("primary resolved",
				zap.String("service", s.serviceName),
				zap.String("sentinel", host),
				zap.String("primary", addr))
			return addr, nil
		}

		lastErr = err
		s.logger.Warn("sentinel query failed",
			zap.String("service", s.serviceName),
			zap.String("sentinel", host),
			zap.Error(err))

		if ctx.Err() != nil {
			break
		}
	}

	s.restartRound()
	return "", fmt.Errorf("%w for service %q: %w", ErrNoPrimary, s.serviceName, lastErr)
}

func (s *Sentinel) queryPrimary(ctx context.Context, host string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	conn, err := Dial(ctx, host, ConnConfig{Dialer: s.dialer, Logger: s.logger})
	if err != nil {
		return "", err
	}
	defer conn.Close()

	reply, err := conn.Send(ctx, "SENTINEL get-master-addr-by-name %s", s.serviceName)
	if err != nil {
		return "", err
	}

	return parsePrimaryAddr(reply)
}

// parsePrimaryAddr turns a [host, port] reply into host:port.
func parsePrimaryAddr(reply *resp.Reply) (string, error) {
	switch reply.Type() {
	case resp.TypeError:
		return "", reply.Err()
	case resp.TypeNil:
		return "", errors.New("sentinel does not monitor this service")
	case resp.TypeArray:
	default:
		return "", fmt.Errorf("unexpected sentinel reply: %s", reply)
	}

	if reply.Len() != 2 {
		return "", fmt.Errorf("unexpected sentinel reply: %s", reply)
	}
	host, port := reply.Index(0), reply.Index(1)
	if host.Type() != resp.TypeString || port.Type() != resp.TypeString {
		return "", fmt.Errorf("unexpected sentinel reply: %s", reply)
	}

	return net.JoinHostPort(host.Text(), port.Text()), nil
}
