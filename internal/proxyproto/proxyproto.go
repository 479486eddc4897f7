// Package proxyproto reads PROXY protocol v1 and v2 headers so the honeypot
// can record the real client endpoint when it runs behind a load balancer.
package proxyproto

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"
	"time"
)

// v1Signature is the byte representation of "PROXY ", which is the start of a
// PROXY protocol v1 header.
var v1Signature = []byte("PROXY ")

// v2Signature is a 12-byte constant which is the start of a PROXY protocol v2
// header.
var v2Signature = []byte{
	0x0D, 0x0A, 0x0D, 0x0A,
	0x00, 0x0D, 0x0A, 0x51,
	0x55, 0x49, 0x54, 0x0A,
}

const (
	// v1MaxLen is the longest legal v1 header, including the CRLF.
	v1MaxLen = 108

	// v2MaxRemaining caps the v2 address and TLV section so the whole header
	// stays within 512 bytes.
	v2MaxRemaining = 512 - 16
)

var (
	// ErrNoHeader is returned when the connection does not start with a
	// PROXY protocol signature.
	ErrNoHeader = errors.New("invalid or missing proxy protocol header")

	// ErrUntrustedProxy is returned when the header was sent from a public
	// address. Only private or loopback peers may supply a header.
	ErrUntrustedProxy = errors.New("proxy connection must originate from a private IP address")
)

// Conn wraps a net.Conn and a bufio.Reader to ensure data read by PROXY
// protocol handling remains accessible.
type Conn struct {
	net.Conn
	r *bufio.Reader
}

// Ensure Conn satisfies the net.Conn interface.
var _ net.Conn = (*Conn)(nil)

// Read overrides the underlying net.Conn.Read to read from the internal
// buffered reader instead of the underlying connection.
func (c *Conn) Read(b []byte) (int, error) {
	return c.r.Read(b)
}

// ReadHeader reads and parses a PROXY protocol v1 or v2 header from conn and
// returns the client endpoint it carries. The returned net.Conn must be used
// for all further reads, since it holds any bytes buffered past the header.
//
// The read deadline on conn is set to deadline. Callers set their own
// deadlines afterwards.
//
// A v2 LOCAL command carries no client endpoint. In that case the returned
// AddrPort is the zero value and the error is nil, and callers should use the
// connection's own remote address.
func ReadHeader(conn net.Conn, deadline time.Time) (net.Conn, netip.AddrPort, error) {
	_ = conn.SetReadDeadline(deadline)

	reader := bufio.NewReader(conn)
	c := &Conn{Conn: conn, r: reader}

	peek, err := reader.Peek(len(v2Signature))
	if err != nil {
		return c, netip.AddrPort{}, fmt.Errorf("failed to read proxy header data: %w", err)
	}

	var client netip.AddrPort
	switch {
	case bytes.Equal(peek, v2Signature):
		client, err = parseVersion2(reader)
		if err != nil {
			return c, netip.AddrPort{}, fmt.Errorf("proxy protocol v2: %w", err)
		}
	case bytes.HasPrefix(peek, v1Signature):
		client, err = parseVersion1(reader)
		if err != nil {
			return c, netip.AddrPort{}, fmt.Errorf("proxy protocol v1: %w", err)
		}
	default:
		return c, netip.AddrPort{}, ErrNoHeader
	}

	// Ensure the header data was provided by a private IP address.
	peer, err := netip.ParseAddrPort(conn.RemoteAddr().String())
	if err != nil {
		return c, netip.AddrPort{}, errors.New("could not resolve proxy IP address")
	}
	if ip := peer.Addr().Unmap(); !ip.IsPrivate() && !ip.IsLoopback() {
		return c, netip.AddrPort{}, ErrUntrustedProxy
	}

	return c, client, nil
}

// parseVersion1 reads and parses a PROXY protocol v1 text header and returns
// the source endpoint. An "UNKNOWN" family yields the zero AddrPort.
func parseVersion1(r *bufio.Reader) (netip.AddrPort, error) {
	var buf [v1MaxLen]byte
	n := 0

	for {
		b, err := r.ReadByte()
		if err != nil {
			return netip.AddrPort{}, fmt.Errorf("can't read proxy v1 header: %w", err)
		}

		buf[n] = b
		n++

		if b == '\n' {
			break
		}
		if n == v1MaxLen {
			return netip.AddrPort{}, errors.New("proxy v1 header exceeds 108-byte limit")
		}
	}

	line, ok := bytes.CutSuffix(buf[:n], []byte("\r\n"))
	if !ok {
		return netip.AddrPort{}, errors.New("proxy v1 header missing CRLF")
	}

	// "PROXY UNKNOWN" may be followed by anything and carries no endpoint.
	parts := bytes.Split(line, []byte(" "))
	if len(parts) >= 2 && bytes.Equal(parts[1], []byte("UNKNOWN")) {
		return netip.AddrPort{}, nil
	}

	// PROXY <family> <src ip> <dst ip> <src port> <dst port>
	if len(parts) != 6 {
		return netip.AddrPort{}, errors.New("invalid proxy v1 header format")
	}

	isIPv4 := bytes.Equal(parts[1], []byte("TCP4"))
	isIPv6 := bytes.Equal(parts[1], []byte("TCP6"))
	if !isIPv4 && !isIPv6 {
		return netip.AddrPort{}, errors.New("unsupported proxy v1 address family")
	}

	ip, err := netip.ParseAddr(string(parts[2]))
	if err != nil {
		return netip.AddrPort{}, errors.New("invalid proxy v1 source address")
	}
	ip = ip.Unmap()
	if (isIPv4 && !ip.Is4()) || (isIPv6 && !ip.Is6()) {
		return netip.AddrPort{}, errors.New("proxy v1 protocol/address mismatch")
	}

	port, err := strconv.ParseUint(string(parts[4]), 10, 16)
	if err != nil {
		return netip.AddrPort{}, errors.New("invalid proxy v1 source port")
	}

	return netip.AddrPortFrom(ip, uint16(port)), nil
}

// parseVersion2 reads and parses a PROXY protocol v2 binary header and
// returns the source endpoint.
func parseVersion2(r *bufio.Reader) (netip.AddrPort, error) {
	// Bytes 0-11:  signature.
	// Byte 12:     protocol version and command.
	// Byte 13:     transport protocol and address family.
	// Bytes 14-15: length of the remaining header (addresses + TLVs).
	var header [16]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return netip.AddrPort{}, fmt.Errorf("failed to read proxy v2 header: %w", err)
	}

	remainingLen := int(binary.BigEndian.Uint16(header[14:16]))
	if remainingLen > v2MaxRemaining {
		return netip.AddrPort{}, errors.New("proxy v2 header exceeds 512-byte limit")
	}
	discard := func() { _, _ = io.CopyN(io.Discard, r, int64(remainingLen)) }

	switch header[12] {
	case 0x20:
		// LOCAL: health checks from the proxy itself. Use the real endpoint.
		discard()
		return netip.AddrPort{}, nil
	case 0x21:
		// PROXY
	default:
		discard()
		return netip.AddrPort{}, errors.New("unsupported proxy v2 command or version")
	}

	// Address block layout: src addr, dst addr, src port, dst port.
	var addrLen, ipLen int
	switch header[13] {
	case 0x11, 0x12:
		// TCP or UDP over IPv4.
		addrLen, ipLen = 12, 4
	case 0x21, 0x22:
		// TCP or UDP over IPv6.
		addrLen, ipLen = 36, 16
	default:
		discard()
		return netip.AddrPort{}, errors.New("unsupported proxy v2 address family")
	}

	if remainingLen < addrLen {
		discard()
		return netip.AddrPort{}, errors.New("header length too short for address family")
	}

	var addrBuf [36]byte
	if _, err := io.ReadFull(r, addrBuf[:addrLen]); err != nil {
		return netip.AddrPort{}, fmt.Errorf("failed to read address data: %w", err)
	}

	// Discard the TLVs.
	if tlvLen := int64(remainingLen - addrLen); tlvLen > 0 {
		_, _ = io.CopyN(io.Discard, r, tlvLen)
	}

	ip, ok := netip.AddrFromSlice(addrBuf[:ipLen])
	if !ok || !ip.IsValid() {
		return netip.AddrPort{}, errors.New("invalid proxy v2 source address")
	}
	port := binary.BigEndian.Uint16(addrBuf[2*ipLen : 2*ipLen+2])

	return netip.AddrPortFrom(ip.Unmap(), port), nil
}
