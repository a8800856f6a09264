// internal/clients/breaker_transport.go
//
// Package clients supplies the API gateway's outbound HTTP transport: one
// circuit breaker per upstream service, so a stalled catalog/circulation/
// membership instance fails fast instead of piling up gateway goroutines
// waiting on it.
package clients

import (
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerTransport wraps an http.RoundTripper with a named circuit
// breaker: open after a run of failures, half-open after Timeout to probe
// recovery.
type BreakerTransport struct {
	next    http.RoundTripper
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerTransport builds a breaker-guarded transport for one upstream
// service. Trips after 5 consecutive failures, stays open 10s before
// probing again.
func NewBreakerTransport(name string, next http.RoundTripper) *BreakerTransport {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	if next == nil {
		next = http.DefaultTransport
	}
	return &BreakerTransport{next: next, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// RoundTrip executes req through the breaker. Only transport-level errors
// (refused connections, timeouts) count as failures — a 5xx response still
// flows back through the reverse proxy unchanged rather than being eaten
// here.
func (t *BreakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	result, err := t.breaker.Execute(func() (interface{}, error) {
		return t.next.RoundTrip(req)
	})
	if err != nil {
		return nil, err
	}
	return result.(*http.Response), nil
}

// State reports the breaker's current state for a health/readiness probe.
func (t *BreakerTransport) State() gobreaker.State {
	return t.breaker.State()
}
