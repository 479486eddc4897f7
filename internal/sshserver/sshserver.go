// Package sshserver implements the SSH login honeypot. Clients are walked
// through a scripted imitation of an SSH handshake and every login attempt
// is rejected. No real key exchange takes place.
package sshserver

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/r-smith/sshlure/internal/config"
	"github.com/r-smith/sshlure/internal/console"
	"github.com/r-smith/sshlure/internal/eventdata"
	"github.com/r-smith/sshlure/internal/metrics"
	"github.com/r-smith/sshlure/internal/sink"
	"golang.org/x/net/netutil"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// errNotListening is returned by Serve when Listen was not called first.
var errNotListening = errors.New("sshserver: Serve called before Listen")

// Enricher resolves a client address to an approximate location. Resolve
// must not fail; lookup problems are reported through the returned value.
type Enricher interface {
	Resolve(ctx context.Context, addr netip.Addr) eventdata.Location
}

// Server is the SSH honeypot listener. Each accepted connection is handled by
// its own goroutine and the accept loop never waits on a session.
type Server struct {
	cfg      config.SSH
	enricher Enricher
	sink     sink.Sink

	mu        sync.Mutex
	ln        net.Listener
	serving   bool
	stopped   bool
	quit      chan struct{}
	serveDone chan struct{}

	sessions sync.WaitGroup
}

// New returns a Server that resolves client locations with enricher and
// hands finished records to s.
func New(cfg config.SSH, enricher Enricher, s sink.Sink) *Server {
	return &Server{
		cfg:       cfg,
		enricher:  enricher,
		sink:      s,
		quit:      make(chan struct{}),
		serveDone: make(chan struct{}),
	}
}

// Listen binds the listening socket. It is separate from Serve so that a bind
// failure can be reported before anything else starts.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ln != nil {
		return errors.New("sshserver: already listening")
	}

	addr := net.JoinHostPort(s.cfg.BindAddress, strconv.Itoa(int(s.cfg.Port)))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}
	s.ln = ln
	return nil
}

// Addr returns the listener's address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections until Stop is called or ctx is done, then returns
// nil. Transient accept errors are logged and retried with backoff. Sessions
// still running when Serve returns are not interrupted.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.ln == nil:
		s.mu.Unlock()
		return errNotListening
	case s.stopped:
		s.mu.Unlock()
		return nil
	case s.serving:
		s.mu.Unlock()
		return errors.New("sshserver: already serving")
	}
	s.serving = true
	ln := s.ln
	s.mu.Unlock()
	defer close(s.serveDone)

	stop := context.AfterFunc(ctx, s.Stop)
	defer stop()

	console.Info(console.SSH, "Listening on %s", ln.Addr())

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isStopped() || errors.Is(err, net.ErrClosed) {
				return nil
			}

			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff = min(backoff*2, maxAcceptBackoff)
			}
			metrics.AcceptErrors.Inc()
			console.Warning(console.SSH, "Accept error: %v; retrying in %v", err, backoff)

			t := time.NewTimer(backoff)
			select {
			case <-t.C:
			case <-s.quit:
				t.Stop()
				return nil
			}
			continue
		}
		backoff = 0

		metrics.ConnectionsAccepted.Inc()
		s.sessions.Add(1)
		go s.handleConnection(conn)
	}
}

// Stop closes the listener, causing Serve to return. Active sessions are left
// to finish on their own timeouts. Stop is safe to call more than once.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true
	close(s.quit)
	if s.ln != nil {
		_ = s.ln.Close()
	}
	if !s.serving {
		close(s.serveDone)
	}
}

// Wait blocks until Serve has returned and every session has emitted its
// record, or until ctx is done. It returns errNotListening at once if the
// server was neither bound nor stopped, since Serve cannot have run.
func (s *Server) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.ln == nil && !s.stopped
	s.mu.Unlock()
	if idle {
		return errNotListening
	}

	select {
	case <-s.serveDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// handleConnection runs one session. A panic is contained here so it cannot
// reach the accept loop or other sessions.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.sessions.Done()
	defer func() {
		if r := recover(); r != nil {
			metrics.SessionsEnded.WithLabelValues("panic").Inc()
			console.Error(console.SSH, "Recovered from panic handling %s: %v", conn.RemoteAddr(), r)
			_ = conn.Close()
		}
	}()

	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	newSession(s, conn, time.Now()).run()
}
