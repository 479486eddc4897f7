package geoip

import (
	"context"
	"errors"
	"net/netip"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/r-smith/sshlure/internal/console"
	"github.com/r-smith/sshlure/internal/eventdata"
	"github.com/r-smith/sshlure/internal/metrics"
)

// Circuit breaker configuration shared by every provider:
// - one trial request in the half-open state
// - counts reset every minute while closed
// - one minute open before a trial request is allowed
// - opens at a failure rate of 60% with at least 5 requests
const (
	breakerMaxRequests  = 1
	breakerInterval     = time.Minute
	breakerTimeout      = time.Minute
	breakerMinRequests  = 5
	breakerFailureRatio = 0.6
)

// breakerProvider wraps a Provider with a circuit breaker. While the breaker
// is open, lookups fail immediately with gobreaker.ErrOpenState instead of
// waiting on a provider that is down.
type breakerProvider struct {
	Provider
	cb *gobreaker.CircuitBreaker[eventdata.Location]
}

// WithBreaker wraps p in a circuit breaker named after the provider.
func WithBreaker(p Provider) Provider {
	name := p.Name()
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[eventdata.Location](gobreaker.Settings{
		Name:        name,
		MaxRequests: breakerMaxRequests,
		Interval:    breakerInterval,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < breakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= breakerFailureRatio
		},
		// A provider that answers without a match is healthy, and a lookup
		// abandoned by the caller says nothing about the provider.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNoMatch) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				console.Warning(console.Geo, "Provider %s is failing; skipping it for %s", name, breakerTimeout)
			} else {
				console.Debug(console.Geo, "Provider %s circuit %s -> %s", name, from, to)
			}
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return &breakerProvider{Provider: p, cb: cb}
}

// Lookup runs the wrapped lookup through the circuit breaker.
func (b *breakerProvider) Lookup(ctx context.Context, addr netip.Addr) (eventdata.Location, error) {
	return b.cb.Execute(func() (eventdata.Location, error) {
		return b.Provider.Lookup(ctx, addr)
	})
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
