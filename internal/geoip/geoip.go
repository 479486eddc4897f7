// Package geoip resolves client addresses to a coarse geographic location
// using a chain of public lookup services, with a shared cache and a global
// rate limit on outbound lookups.
package geoip

import (
	"context"
	"errors"
	"net/http"
	"net/netip"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/r-smith/sshlure/internal/config"
	"github.com/r-smith/sshlure/internal/console"
	"github.com/r-smith/sshlure/internal/eventdata"
	"github.com/r-smith/sshlure/internal/metrics"
)

const unknown = "Unknown"

var (
	// LocalLocation is returned for private, loopback, link-local, and
	// unspecified addresses without consulting any provider.
	LocalLocation = eventdata.Location{
		Country:  "Local",
		City:     "Private Network",
		Provider: "local",
	}

	// UnknownLocation is returned when no provider could locate an address.
	UnknownLocation = eventdata.Location{
		Country:  unknown,
		City:     unknown,
		Provider: "unknown",
	}
)

// Gate spaces outbound lookups. *rate.Limiter satisfies it.
type Gate interface {
	Wait(ctx context.Context) error
}

// NewGate returns a gate that admits one lookup per interval. An interval of
// 0 or less admits lookups without delay.
func NewGate(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// Options configures an Enricher.
type Options struct {
	// Cache holds resolved locations. Defaults to an unbounded cache without
	// expiry.
	Cache *Cache

	// Gate is waited on once per cache miss. Defaults to no limit.
	Gate Gate

	// Providers are tried in order until one returns a location.
	Providers []Provider

	// Timeout bounds each provider call. Zero means no per-call limit.
	Timeout time.Duration
}

// Enricher resolves addresses to locations. It is safe for concurrent use.
type Enricher struct {
	cache     *Cache
	gate      Gate
	providers []Provider
	timeout   time.Duration
}

// New creates an Enricher from opts.
func New(opts Options) *Enricher {
	e := &Enricher{
		cache:     opts.Cache,
		gate:      opts.Gate,
		providers: opts.Providers,
		timeout:   opts.Timeout,
	}
	if e.cache == nil {
		e.cache = NewCache(0, 0)
	}
	if e.gate == nil {
		e.gate = NewGate(0)
	}
	return e
}

// FromConfig creates an Enricher using the ipapi.co, ip-api.com, and ipstack
// providers, in that order, each behind its own circuit breaker.
func FromConfig(cfg config.Geo) *Enricher {
	client := &http.Client{Timeout: cfg.Timeout}
	return New(Options{
		Cache: NewCache(cfg.CacheSize, cfg.CacheTTL),
		Gate:  NewGate(cfg.RateLimit),
		Providers: []Provider{
			WithBreaker(NewIPAPICo(client, cfg.IPAPICoURL)),
			WithBreaker(NewIPAPICom(client, cfg.IPAPIComURL)),
			WithBreaker(NewIPStack(client, cfg.IPStackURL, cfg.IPStackAPIKey)),
		},
		Timeout: cfg.Timeout,
	})
}

// Resolve returns the location of addr. It never fails: addresses that
// cannot be located resolve to UnknownLocation.
//
// Local addresses resolve immediately. Otherwise a cached result is returned
// when present. On a miss, Resolve waits its turn at the gate, tries each
// available provider in order, and caches the first match, or
// UnknownLocation when every provider fails. If ctx ends before the
// providers could be consulted, UnknownLocation is returned without being
// cached.
func (e *Enricher) Resolve(ctx context.Context, addr netip.Addr) eventdata.Location {
	if !addr.IsValid() {
		return UnknownLocation
	}
	addr = addr.Unmap()
	if IsLocal(addr) {
		return LocalLocation
	}

	if loc, ok := e.cache.Get(addr); ok {
		metrics.GeoCacheHits.Inc()
		return loc
	}
	metrics.GeoCacheMisses.Inc()

	start := time.Now()
	if err := e.gate.Wait(ctx); err != nil {
		console.Debug(console.Geo, "Lookup for %s abandoned while rate limited: %v", addr, err)
		return UnknownLocation
	}
	metrics.GeoRateLimitWait.Observe(time.Since(start).Seconds())

	loc, ok := e.query(ctx, addr)
	if !ok && ctx.Err() != nil {
		return UnknownLocation
	}
	e.cache.Add(addr, loc)
	return loc
}

// Evict removes any cached location for addr so the next Resolve queries the
// providers again.
func (e *Enricher) Evict(addr netip.Addr) {
	e.cache.Remove(addr)
}

// query tries each available provider in order and returns the first match.
// The bool result is false when no provider matched.
func (e *Enricher) query(ctx context.Context, addr netip.Addr) (eventdata.Location, bool) {
	for _, p := range e.providers {
		if !p.Available() {
			continue
		}

		loc, err := e.lookup(ctx, p, addr)
		if err == nil {
			console.Debug(console.Geo, "Located %s via %s: %s, %s", addr, p.Name(), loc.City, loc.Country)
			return loc, true
		}
		console.Debug(console.Geo, "%v", &ProviderError{Provider: p.Name(), Err: err})

		if ctx.Err() != nil {
			break
		}
	}
	return UnknownLocation, false
}

func (e *Enricher) lookup(ctx context.Context, p Provider, addr netip.Addr) (eventdata.Location, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	loc, err := p.Lookup(ctx, addr)
	metrics.GeoProviderDuration.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
	metrics.GeoProviderRequests.WithLabelValues(p.Name(), lookupResult(err)).Inc()
	return loc, err
}

func lookupResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNoMatch):
		return "no_match"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "rejected"
	default:
		return "failure"
	}
}

// nonGlobal lists special-purpose ranges (IANA IPv4 and IPv6 registries) that
// are not reachable on the public internet. Together with the private,
// loopback, and link-local classes they match the "private" classification
// used by common IP libraries.
var nonGlobal = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("192.0.0.0/29"),
	netip.MustParsePrefix("192.0.0.170/31"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("255.255.255.255/32"),
	netip.MustParsePrefix("64:ff9b:1::/48"),
	netip.MustParsePrefix("100::/64"),
	netip.MustParsePrefix("2001::/23"),
	netip.MustParsePrefix("2001:db8::/32"),
}

// IsLocal reports whether addr is a private, loopback, link-local,
// unspecified, or other non-global address that public geolocation services
// cannot resolve. IPv4-mapped addresses are classified by their IPv4 form.
func IsLocal(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsPrivate() ||
		addr.IsLoopback() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsUnspecified() {
		return true
	}
	for _, p := range nonGlobal {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
