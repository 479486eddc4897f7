package sshserver

import (
	"encoding/binary"
	"encoding/hex"
	"net/netip"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/blake2b"
)

// sessionSeq separates sessions that share a source endpoint and timestamp.
var sessionSeq atomic.Uint64

// newSessionID derives a 128-bit hex identifier from the source endpoint and
// the accept time.
func newSessionID(src netip.AddrPort, t time.Time) string {
	h, _ := blake2b.New(16, nil) // only fails for an invalid size or key

	ip := src.Addr().As16()
	h.Write(ip[:])

	var b [18]byte
	binary.BigEndian.PutUint16(b[0:2], src.Port())
	binary.BigEndian.PutUint64(b[2:10], uint64(t.UnixNano()))
	binary.BigEndian.PutUint64(b[10:18], sessionSeq.Add(1))
	h.Write(b[:])

	return hex.EncodeToString(h.Sum(nil))
}
