package monitor

import (
	"net"
	"net/http"
	"net/netip"
)

// enforcePrivateIP is a middleware that restricts access to the HTTP server
// based on the client's IP address. It allows only requests from private,
// loopback, or link-local addresses. Any other requests are denied with a
// 403 Forbidden error.
func enforcePrivateIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			http.Error(w, "Could not get IP", http.StatusInternalServerError)
			return
		}

		addr, err := netip.ParseAddr(host)
		if err != nil {
			http.Error(w, "Could not get IP", http.StatusInternalServerError)
			return
		}
		if addr = addr.Unmap(); !addr.IsPrivate() && !addr.IsLoopback() && !addr.IsLinkLocalUnicast() {
			http.Error(w, "", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// disableCache is a middleware that sets HTTP response headers to prevent
// clients from caching responses.
func disableCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")

		next.ServeHTTP(w, r)
	})
}
