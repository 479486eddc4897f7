package geoip

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"

	"github.com/r-smith/sshlure/internal/eventdata"
)

// IPStack looks up addresses with ipstack. It is only available when an
// access key is configured.
type IPStack struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

type ipstackResponse struct {
	Success *bool `json:"success"`
	Error   *struct {
		Code int    `json:"code"`
		Type string `json:"type"`
		Info string `json:"info"`
	} `json:"error"`
	CountryName string     `json:"country_name"`
	City        string     `json:"city"`
	Latitude    coordinate `json:"latitude"`
	Longitude   coordinate `json:"longitude"`
}

// NewIPStack creates an ipstack provider. baseURL is normally
// "http://api.ipstack.com".
func NewIPStack(client *http.Client, baseURL, apiKey string) *IPStack {
	return &IPStack{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

// Name returns the provider name.
func (p *IPStack) Name() string {
	return "ipstack"
}

// Available returns true if an access key is configured.
func (p *IPStack) Available() bool {
	return p.apiKey != ""
}

// Lookup queries ipstack for the location of addr.
func (p *IPStack) Lookup(ctx context.Context, addr netip.Addr) (eventdata.Location, error) {
	if !p.Available() {
		return eventdata.Location{}, fmt.Errorf("ipstack access key not configured")
	}

	var r ipstackResponse
	u := fmt.Sprintf("%s/%s?access_key=%s", p.baseURL, addr, url.QueryEscape(p.apiKey))
	if err := getJSON(ctx, p.client, u, &r); err != nil {
		return eventdata.Location{}, err
	}
	if r.Error != nil {
		return eventdata.Location{}, fmt.Errorf("%w: %s (%d)", ErrNoMatch, r.Error.Type, r.Error.Code)
	}
	if r.Success != nil && !*r.Success {
		return eventdata.Location{}, fmt.Errorf("%w: request unsuccessful", ErrNoMatch)
	}
	return newLocation(p.Name(), r.CountryName, r.City, r.Latitude, r.Longitude)
}
