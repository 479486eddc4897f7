package geoip

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAddr = netip.MustParseAddr("81.2.69.10")

// newJSONServer serves body with the given status and counts requests. The
// last request URI is stored in uri.
func newJSONServer(t *testing.T, status int, body string, uri *atomic.Value) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if uri != nil {
			uri.Store(r.URL.RequestURI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestIPAPICo(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		noMatch bool
		wantErr bool
	}{
		{"success", 200, `{"ip":"81.2.69.10","city":"Sydney","country_name":"Australia","latitude":-33.86,"longitude":151.2}`, "Australia", false, false},
		{"error flag", 200, `{"error":true,"reason":"RateLimited"}`, "", true, true},
		{"missing country", 200, `{"city":"Sydney"}`, "", true, true},
		{"server error", 500, `oops`, "", false, true},
		{"malformed", 200, `{"country_name":`, "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var uri atomic.Value
			srv, _ := newJSONServer(t, tt.status, tt.body, &uri)
			p := NewIPAPICo(srv.Client(), srv.URL+"/")

			loc, err := p.Lookup(context.Background(), testAddr)
			assert.Equal(t, "/81.2.69.10/json/", uri.Load())

			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.noMatch, errors.Is(err, ErrNoMatch))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, loc.Country)
			assert.Equal(t, "Sydney", loc.City)
			assert.InDelta(t, -33.86, loc.Latitude, 0.001)
			assert.InDelta(t, 151.2, loc.Longitude, 0.001)
			assert.Equal(t, "ipapi.co", loc.Provider)
		})
	}
}

func TestIPAPICom(t *testing.T) {
	var uri atomic.Value
	srv, _ := newJSONServer(t, 200, `{"status":"success","country":"Brazil","city":"","lat":"-23.55","lon":-46.63}`, &uri)
	p := NewIPAPICom(srv.Client(), srv.URL+"/json")

	loc, err := p.Lookup(context.Background(), testAddr)
	require.NoError(t, err)
	assert.Equal(t, "/json/81.2.69.10?fields=status,message,country,city,lat,lon", uri.Load())
	assert.Equal(t, "Brazil", loc.Country)
	assert.Equal(t, "Unknown", loc.City, "empty city becomes Unknown")
	assert.InDelta(t, -23.55, loc.Latitude, 0.001, "numeric strings are accepted")
	assert.InDelta(t, -46.63, loc.Longitude, 0.001)
}

func TestIPAPIComFailStatus(t *testing.T) {
	srv, _ := newJSONServer(t, 200, `{"status":"fail","message":"reserved range"}`, nil)
	p := NewIPAPICom(srv.Client(), srv.URL)

	_, err := p.Lookup(context.Background(), testAddr)
	assert.ErrorIs(t, err, ErrNoMatch)
	assert.Contains(t, err.Error(), "reserved range")
}

func TestIPStack(t *testing.T) {
	t.Run("requires key", func(t *testing.T) {
		srv, calls := newJSONServer(t, 200, `{}`, nil)
		p := NewIPStack(srv.Client(), srv.URL, "")
		assert.False(t, p.Available())

		_, err := p.Lookup(context.Background(), testAddr)
		assert.Error(t, err)
		assert.Zero(t, calls.Load())
	})

	t.Run("success", func(t *testing.T) {
		var uri atomic.Value
		srv, _ := newJSONServer(t, 200, `{"country_name":"Norway","city":"Oslo","latitude":59.91,"longitude":null}`, &uri)
		p := NewIPStack(srv.Client(), srv.URL, "k&y")
		require.True(t, p.Available())

		loc, err := p.Lookup(context.Background(), testAddr)
		require.NoError(t, err)
		assert.Equal(t, "/81.2.69.10?access_key=k%26y", uri.Load())
		assert.Equal(t, "Norway", loc.Country)
		assert.Equal(t, "Oslo", loc.City)
		assert.Zero(t, loc.Longitude, "null coordinates become 0")
	})

	t.Run("error object", func(t *testing.T) {
		srv, _ := newJSONServer(t, 200, `{"success":false,"error":{"code":101,"type":"invalid_access_key","info":"bad key"}}`, nil)
		p := NewIPStack(srv.Client(), srv.URL, "key")

		_, err := p.Lookup(context.Background(), testAddr)
		assert.ErrorIs(t, err, ErrNoMatch)
		assert.Contains(t, err.Error(), "invalid_access_key")
	})

	t.Run("success false", func(t *testing.T) {
		srv, _ := newJSONServer(t, 200, `{"success":false,"country_name":"Norway"}`, nil)
		p := NewIPStack(srv.Client(), srv.URL, "key")

		_, err := p.Lookup(context.Background(), testAddr)
		assert.ErrorIs(t, err, ErrNoMatch)
	})
}

func TestCoordinate(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{`12.5`, 12.5},
		{`-7`, -7},
		{`"48.85"`, 48.85},
		{`null`, 0},
		{`"north"`, 0},
		{`true`, 0},
		{`{}`, 0},
		{`""`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			var v struct {
				Lat coordinate `json:"lat"`
			}
			require.NoError(t, json.Unmarshal([]byte(`{"lat":`+tt.raw+`}`), &v))
			assert.InDelta(t, tt.want, float64(v.Lat), 0.0001)
		})
	}
}

func TestEnricherWithHTTPProviders(t *testing.T) {
	var aCalls, bCalls, cCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/a/"):
			aCalls.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
		case strings.HasPrefix(r.URL.Path, "/b/"):
			bCalls.Add(1)
			fmt.Fprint(w, `{"status":"success","country":"Iceland","city":"Reykjavik","lat":64.1,"lon":-21.9}`)
		default:
			cCalls.Add(1)
			fmt.Fprint(w, `{"country_name":"Wrong"}`)
		}
	}))
	defer srv.Close()

	e := New(Options{
		Providers: []Provider{
			NewIPAPICo(srv.Client(), srv.URL+"/a"),
			NewIPAPICom(srv.Client(), srv.URL+"/b"),
			NewIPStack(srv.Client(), srv.URL+"/c", "key"),
		},
	})

	loc := e.Resolve(context.Background(), testAddr)
	assert.Equal(t, "Iceland", loc.Country)
	assert.Equal(t, "Reykjavik", loc.City)
	assert.Equal(t, int32(1), aCalls.Load())
	assert.Equal(t, int32(1), bCalls.Load())
	assert.Zero(t, cCalls.Load())
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	srv, calls := newJSONServer(t, http.StatusBadGateway, ``, nil)
	p := WithBreaker(NewIPAPICo(srv.Client(), srv.URL))

	for range breakerMinRequests {
		_, err := p.Lookup(context.Background(), testAddr)
		require.Error(t, err)
	}
	require.Equal(t, int32(breakerMinRequests), calls.Load())

	_, err := p.Lookup(context.Background(), testAddr)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(breakerMinRequests), calls.Load(), "open breaker must not reach the provider")
	assert.Equal(t, "rejected", lookupResult(err))
}

func TestBreakerIgnoresNoMatch(t *testing.T) {
	srv, calls := newJSONServer(t, 200, `{"status":"fail","message":"private range"}`, nil)
	p := WithBreaker(NewIPAPICom(srv.Client(), srv.URL))

	for range breakerMinRequests + 2 {
		_, err := p.Lookup(context.Background(), testAddr)
		require.ErrorIs(t, err, ErrNoMatch)
	}
	assert.Equal(t, int32(breakerMinRequests+2), calls.Load())
}
