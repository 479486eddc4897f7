// Package eventdata defines the records produced by the honeypot and handed
// to persistence sinks.
package eventdata

import (
	"net/netip"
	"time"
)

// AttackTypeSSHLogin tags records produced by the SSH login honeypot.
const AttackTypeSSHLogin = "ssh_login"

// AttackRecord is the final description of one honeypot session. It is built
// once, after the session ends, and is passed by value to every sink.
type AttackRecord struct {
	// ID uniquely identifies the record. Sinks use it for de-duplication.
	ID string `json:"id"`

	// Time is when the session was accepted.
	Time time.Time `json:"time"`

	// SessionID is derived from the source endpoint and the accept time.
	SessionID string `json:"session_id"`

	// AttackType tags the kind of interaction, such as AttackTypeSSHLogin.
	AttackType string `json:"attack_type"`

	// SourceIP and SourcePort identify the client. When the honeypot runs
	// behind a proxy and the proxy header is parsed, these hold the endpoint
	// extracted from the header.
	SourceIP   netip.Addr `json:"source_ip"`
	SourcePort uint16     `json:"source_port"`

	// ServerIP and ServerPort identify the local endpoint that accepted the
	// connection.
	ServerIP   netip.Addr `json:"server_ip"`
	ServerPort uint16     `json:"server_port"`

	// ClientVersion is the version banner sent by the client, if any.
	ClientVersion string `json:"client_version,omitempty"`

	// Attempts counts the authentication rounds in which the client sent
	// data.
	Attempts int `json:"attempts"`

	// Credentials is nil when nothing was captured.
	Credentials *Credentials `json:"credentials,omitempty"`

	// Proxy is only set when the honeypot expects a PROXY protocol header.
	Proxy *Proxy `json:"proxy,omitempty"`

	// Location is the approximate origin of SourceIP.
	Location Location `json:"location"`
}

// Credentials is a username and password pair captured during a session.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Location is a coarse geographic origin. Every field is always set, either
// to a real value or to a sentinel such as "Unknown" with zero coordinates.
type Location struct {
	Country   string  `json:"country"`
	City      string  `json:"city"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	// Provider names the source of the data ("local" and "unknown" for the
	// sentinel values).
	Provider string `json:"provider"`
}

// Proxy describes the PROXY protocol handling for a connection.
type Proxy struct {
	// IP is the address of the upstream proxy that forwarded the connection.
	IP netip.Addr `json:"ip"`

	// Parsed indicates whether a client endpoint was extracted from the
	// proxy header.
	Parsed bool `json:"parsed"`

	// Error describes any error encountered while parsing the header.
	Error string `json:"error,omitempty"`
}
