package config

import (
	"net"
	"net/netip"
	"os"
)

// Hostname returns the system's hostname, defaulting to "localhost" if it
// cannot be determined.
func Hostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return hostname
}

// HostIP returns the local IPv4 address of the system, defaulting to
// 127.0.0.1 if it cannot be determined. If there is more than one active
// address on the system, only the first found is returned.
func HostIP() netip.Addr {
	failedLookup := netip.AddrFrom4([4]byte{127, 0, 0, 1})

	interfaces, err := net.Interfaces()
	if err != nil {
		return failedLookup
	}

	for _, i := range interfaces {
		if i.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := i.Addrs()
		if err != nil {
			return failedLookup
		}

		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || ipNet.IP.IsLoopback() {
				continue
			}
			if ip, ok := netip.AddrFromSlice(ipNet.IP.To4()); ok {
				return ip
			}
		}
	}
	return failedLookup
}
