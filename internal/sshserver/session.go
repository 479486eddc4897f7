package sshserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/r-smith/sshlure/internal/console"
	"github.com/r-smith/sshlure/internal/eventdata"
	"github.com/r-smith/sshlure/internal/metrics"
	"github.com/r-smith/sshlure/internal/proxyproto"
)

// proxyHeaderTimeout bounds the wait for a PROXY protocol header.
const proxyHeaderTimeout = 2 * time.Second

// state is a step of the scripted login exchange. A session only moves
// forward through the states.
type state int

const (
	stateStart state = iota
	stateAwaitPeerBanner
	stateKeyExchange
	stateCredentialLoop
	stateFinalize
)

func (s state) String() string {
	switch s {
	case stateStart:
		return "start"
	case stateAwaitPeerBanner:
		return "await_peer_banner"
	case stateKeyExchange:
		return "key_exchange"
	case stateCredentialLoop:
		return "credential_loop"
	case stateFinalize:
		return "finalize"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// panicError carries a panic recovered from a session.
type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

// session owns one accepted connection from accept to close.
type session struct {
	srv  *Server
	conn net.Conn

	// ctx expires at the session deadline. It is independent of the server
	// so that stopping the listener lets active sessions finish.
	ctx      context.Context
	cancel   context.CancelFunc
	start    time.Time
	deadline time.Time

	id    string
	src   netip.AddrPort
	dst   netip.AddrPort
	proxy *eventdata.Proxy
	state state

	clientVersion string
	attempts      int
	creds         credentialScanner
	buf           []byte
}

func newSession(srv *Server, conn net.Conn, start time.Time) *session {
	deadline := start.Add(srv.cfg.SessionTimeout)
	ctx, cancel := context.WithDeadlineCause(context.Background(), deadline, os.ErrDeadlineExceeded)
	return &session{
		srv:      srv,
		conn:     conn,
		ctx:      ctx,
		cancel:   cancel,
		start:    start,
		deadline: deadline,
		src:      addrPortOf(conn.RemoteAddr()),
		dst:      addrPortOf(conn.LocalAddr()),
		buf:      make([]byte, readBufferSize),
	}
}

// run drives the session to completion. Exactly one record is handed to the
// sink no matter how the exchange ends.
func (s *session) run() {
	defer s.cancel()
	defer s.conn.Close()

	if s.srv.cfg.UseProxyProtocol {
		s.readProxyHeader()
	}
	s.id = newSessionID(s.src, s.start)
	console.Debug(console.SSH, "%s session %s started", s.src.Addr(), s.id)

	err := s.converse()
	_ = s.conn.Close()

	reason := s.end(err)
	metrics.SessionsEnded.WithLabelValues(reason).Inc()
	metrics.SessionDuration.Observe(time.Since(s.start).Seconds())

	s.state = stateFinalize
	s.finalize()
}

// converse runs the scripted exchange. The returned error describes why the
// exchange stopped early and is nil when every round completed.
func (s *session) converse() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()

	s.state = stateStart
	if err := s.write([]byte(s.srv.cfg.Banner + "\r\n")); err != nil {
		return err
	}

	// The peer banner is optional. Silence or an error here does not end
	// the session.
	s.state = stateAwaitPeerBanner
	if data, err := s.read(s.srv.cfg.BannerTimeout); err == nil {
		s.clientVersion = parseClientVersion(data)
	}

	s.state = stateKeyExchange
	if err := s.write(kexInitPayload); err != nil {
		return err
	}
	if err := s.pause(s.srv.cfg.KexDelay); err != nil {
		return err
	}

	s.state = stateCredentialLoop
	for range s.srv.cfg.MaxAuthAttempts {
		data, err := s.read(s.srv.cfg.ReadTimeout)
		if err != nil {
			return err
		}
		s.attempts++
		metrics.AuthAttempts.Inc()
		s.creds.scan(data)

		if err := s.write(authFailurePayload); err != nil {
			return err
		}
		if err := s.pause(s.srv.cfg.AuthFailureDelay); err != nil {
			return err
		}
	}
	return nil
}

// finalize resolves the client location and emits the record.
func (s *session) finalize() {
	ctx, cancel := context.WithTimeout(context.Background(), s.srv.cfg.LookupBudget)
	defer cancel()
	location := s.srv.enricher.Resolve(ctx, s.src.Addr())

	creds := s.creds.credentials()
	if creds != nil {
		metrics.CredentialsCaptured.Inc()
		console.Info(console.SSH, "%s Username: %s Password: %s", s.src.Addr(), creds.Username, creds.Password)
	}

	rec := eventdata.AttackRecord{
		ID:            uuid.NewString(),
		Time:          s.start.UTC(),
		SessionID:     s.id,
		AttackType:    eventdata.AttackTypeSSHLogin,
		SourceIP:      s.src.Addr(),
		SourcePort:    s.src.Port(),
		ServerIP:      s.dst.Addr(),
		ServerPort:    s.dst.Port(),
		ClientVersion: s.clientVersion,
		Attempts:      s.attempts,
		Credentials:   creds,
		Proxy:         s.proxy,
		Location:      location,
	}
	if err := s.srv.sink.Record(rec); err != nil {
		console.Errors(console.Sink, fmt.Sprintf("session %s: failed to record attack: ", s.id), err)
	}
}

// end classifies the reason the exchange stopped and logs it.
func (s *session) end(err error) string {
	var pe *panicError
	switch {
	case err == nil:
		return "completed"
	case errors.As(err, &pe):
		console.Error(console.SSH, "%s session %s recovered from panic in %s: %v", s.src.Addr(), s.id, s.state, pe.value)
		console.Debug(console.SSH, "%s", pe.stack)
		return "panic"
	case errors.Is(err, io.EOF):
		console.Debug(console.SSH, "%s session %s: peer closed during %s", s.src.Addr(), s.id, s.state)
		return "peer_closed"
	case errors.Is(err, os.ErrDeadlineExceeded):
		console.Debug(console.SSH, "%s session %s: timed out during %s", s.src.Addr(), s.id, s.state)
		return "timeout"
	default:
		console.Debug(console.SSH, "%s session %s: %s: %v", s.src.Addr(), s.id, s.state, err)
		return "io_error"
	}
}

// read reads one buffer from the peer, waiting at most timeout and never past
// the session deadline. The returned slice is only valid until the next
// read. A read that yields no data reports io.EOF.
func (s *session) read(timeout time.Duration) ([]byte, error) {
	_ = s.conn.SetReadDeadline(s.clamp(time.Now().Add(timeout)))
	n, err := s.conn.Read(s.buf)
	if n > 0 {
		return s.buf[:n], nil
	}
	if err == nil {
		err = io.EOF
	}
	return nil, err
}

func (s *session) write(b []byte) error {
	_ = s.conn.SetWriteDeadline(s.deadline)
	_, err := s.conn.Write(b)
	return err
}

// pause sleeps for d unless the session deadline arrives first.
func (s *session) pause(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-s.ctx.Done():
		return context.Cause(s.ctx)
	}
}

// clamp returns the earlier of t and the session deadline.
func (s *session) clamp(t time.Time) time.Time {
	if s.deadline.Before(t) {
		return s.deadline
	}
	return t
}

// readProxyHeader replaces the direct peer with the client named in a PROXY
// protocol header. On failure the direct peer is kept and the error recorded.
func (s *session) readProxyHeader() {
	s.proxy = &eventdata.Proxy{IP: s.src.Addr()}

	conn, client, err := proxyproto.ReadHeader(s.conn, s.clamp(time.Now().Add(proxyHeaderTimeout)))
	s.conn = conn
	if err != nil {
		s.proxy.Error = err.Error()
		console.Debug(console.SSH, "%s proxy header: %v", s.src.Addr(), err)
		return
	}
	if client.IsValid() {
		s.src = netip.AddrPortFrom(client.Addr().Unmap(), client.Port())
		s.proxy.Parsed = true
	}
}

// addrPortOf converts a net.Addr to a netip.AddrPort. IPv4-mapped addresses
// are unmapped. Unrecognized addresses yield the zero value.
func addrPortOf(addr net.Addr) netip.AddrPort {
	var ap netip.AddrPort
	switch a := addr.(type) {
	case *net.TCPAddr:
		ap = a.AddrPort()
	case nil:
		return netip.AddrPort{}
	default:
		ap, _ = netip.ParseAddrPort(a.String())
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}
