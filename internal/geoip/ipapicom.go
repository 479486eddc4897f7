package geoip

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"strings"

	"github.com/r-smith/sshlure/internal/eventdata"
)

// IPAPICom looks up addresses with ip-api.com. The free endpoint needs no
// key but only serves plain HTTP.
type IPAPICom struct {
	client  *http.Client
	baseURL string
}

type ipapiComResponse struct {
	Status  string     `json:"status"`
	Message string     `json:"message"`
	Country string     `json:"country"`
	City    string     `json:"city"`
	Lat     coordinate `json:"lat"`
	Lon     coordinate `json:"lon"`
}

// NewIPAPICom creates an ip-api.com provider. baseURL is normally
// "http://ip-api.com/json".
func NewIPAPICom(client *http.Client, baseURL string) *IPAPICom {
	return &IPAPICom{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Name returns the provider name.
func (p *IPAPICom) Name() string {
	return "ip-api.com"
}

// Available always returns true.
func (p *IPAPICom) Available() bool {
	return true
}

// Lookup queries ip-api.com for the location of addr.
func (p *IPAPICom) Lookup(ctx context.Context, addr netip.Addr) (eventdata.Location, error) {
	var r ipapiComResponse
	url := fmt.Sprintf("%s/%s?fields=status,message,country,city,lat,lon", p.baseURL, addr)
	if err := getJSON(ctx, p.client, url, &r); err != nil {
		return eventdata.Location{}, err
	}
	if r.Status != "success" {
		return eventdata.Location{}, fmt.Errorf("%w: status '%s' %s", ErrNoMatch, r.Status, r.Message)
	}
	return newLocation(p.Name(), r.Country, r.City, r.Lat, r.Lon)
}
