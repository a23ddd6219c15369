package redis

import (
	"time"

	"github.com/sony/gobreaker/v2"
)

// CircuitBreaker guards the calls to one server.
// Uses CircuitBreaker[bool] so single commands and pipelines share it.
type CircuitBreaker = *gobreaker.CircuitBreaker[bool]

// NewCircuitBreakerConfig returns a function that creates circuit breakers.
// This is a helper for common use cases.
//
// The client only reports server faults to the breaker (pool acquire,
// transport and protocol errors). Error replies and encoding errors never
// count as failures.
func NewCircuitBreakerConfig(maxRequests uint32, interval, timeout time.Duration) func(string) CircuitBreaker {
	return func(name string) CircuitBreaker {
		settings := gobreaker.Settings{
			Name:        name,
			MaxRequests: maxRequests,
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
		}
		return gobreaker.NewCircuitBreaker[bool](settings)
	}
}
