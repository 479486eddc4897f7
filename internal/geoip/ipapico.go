package geoip

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"strings"

	"github.com/r-smith/sshlure/internal/eventdata"
)

// IPAPICo looks up addresses with ipapi.co. No API key is required.
type IPAPICo struct {
	client  *http.Client
	baseURL string
}

type ipapiCoResponse struct {
	Error       bool       `json:"error"`
	Reason      string     `json:"reason"`
	CountryName string     `json:"country_name"`
	City        string     `json:"city"`
	Latitude    coordinate `json:"latitude"`
	Longitude   coordinate `json:"longitude"`
}

// NewIPAPICo creates an ipapi.co provider. baseURL is normally
// "https://ipapi.co".
func NewIPAPICo(client *http.Client, baseURL string) *IPAPICo {
	return &IPAPICo{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Name returns the provider name.
func (p *IPAPICo) Name() string {
	return "ipapi.co"
}

// Available always returns true.
func (p *IPAPICo) Available() bool {
	return true
}

// Lookup queries ipapi.co for the location of addr.
func (p *IPAPICo) Lookup(ctx context.Context, addr netip.Addr) (eventdata.Location, error) {
	var r ipapiCoResponse
	if err := getJSON(ctx, p.client, fmt.Sprintf("%s/%s/json/", p.baseURL, addr), &r); err != nil {
		return eventdata.Location{}, err
	}
	if r.Error {
		return eventdata.Location{}, fmt.Errorf("%w: %s", ErrNoMatch, r.Reason)
	}
	return newLocation(p.Name(), r.CountryName, r.City, r.Latitude, r.Longitude)
}
