package geoip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/netip"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/r-smith/sshlure/internal/eventdata"
)

// Provider is a geolocation lookup service.
type Provider interface {
	// Name returns the provider name for logging and metrics.
	Name() string

	// Available reports whether the provider is configured for use.
	// Unavailable providers are skipped.
	Available() bool

	// Lookup returns the location of addr. A response that does not carry a
	// usable location is reported as ErrNoMatch.
	Lookup(ctx context.Context, addr netip.Addr) (eventdata.Location, error)
}

// ErrNoMatch is returned by providers that answered but did not return a
// usable location.
var ErrNoMatch = errors.New("no location in response")

// ProviderError wraps a failed lookup with the name of the provider.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// maxResponseSize caps how much of a provider response is decoded.
const maxResponseSize = 64 * 1024

const userAgent = "sshlure"

// getJSON fetches url and decodes the JSON body into v. Any status other
// than 200 is an error.
func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// coordinate is a latitude or longitude that tolerates the shapes providers
// actually send: JSON numbers, numeric strings, or null. Anything that does
// not parse as a finite number decodes to 0.
type coordinate float64

func (c *coordinate) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		*c = 0
		return nil
	}
	*c = coordinate(f)
	return nil
}

// newLocation builds a Location from provider fields. A response without a
// country is not a match. A missing city is reported as "Unknown".
func newLocation(provider, country, city string, lat, lon coordinate) (eventdata.Location, error) {
	country = strings.TrimSpace(country)
	if country == "" {
		return eventdata.Location{}, fmt.Errorf("%w: missing country", ErrNoMatch)
	}
	city = strings.TrimSpace(city)
	if city == "" {
		city = unknown
	}
	return eventdata.Location{
		Country:   country,
		City:      city,
		Latitude:  float64(lat),
		Longitude: float64(lon),
		Provider:  provider,
	}, nil
}
