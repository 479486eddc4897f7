// Package monitor serves the operator endpoints: a health check, Prometheus
// metrics, and a live WebSocket feed of attack records. Access is limited to
// private networks.
package monitor

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/r-smith/sshlure/internal/certutil"
	"github.com/r-smith/sshlure/internal/config"
	"github.com/r-smith/sshlure/internal/console"
	"golang.org/x/net/websocket"
)

// shutdownTimeout bounds how long Serve waits for open requests on exit.
const shutdownTimeout = 5 * time.Second

// Server is the operator HTTP server.
type Server struct {
	cfg  config.Monitor
	hub  *Hub
	live <-chan []byte
}

// New returns a Server that streams the record log lines received on live.
// live may be nil, in which case the feed stays empty.
func New(cfg config.Monitor, live <-chan []byte) *Server {
	return &Server{
		cfg:  cfg,
		hub:  NewHub(),
		live: live,
	}
}

// Handler returns the HTTP routes served by s.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(enforcePrivateIP)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.With(disableCache).Handle("/metrics", promhttp.Handler())
	r.Handle("/live", websocket.Handler(s.hub.handleWebSocket))
	return r
}

// Serve listens on the configured port and serves until ctx is done, then
// shuts down gracefully. It may be called again after it returns.
func (s *Server) Serve(ctx context.Context) error {
	// Websocket connections are long-lived, so there is no write timeout.
	srv := &http.Server{
		Addr:        ":" + strconv.Itoa(int(s.cfg.Port)),
		Handler:     s.Handler(),
		ReadTimeout: 5 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	scheme := "http"
	if s.cfg.EnableTLS {
		cert, err := certutil.LoadOrGenerate(s.cfg.CertPath, s.cfg.KeyPath)
		var saveErr *certutil.SaveError
		switch {
		case errors.As(err, &saveErr):
			console.Warning(console.Mon, "Using an in-memory certificate: %v", err)
		case err != nil:
			return fmt.Errorf("monitor TLS certificate: %w", err)
		}
		srv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
		scheme = "https"
	}

	l, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("monitor listen: %w", err)
	}

	if s.live != nil {
		hubCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go s.hub.Run(hubCtx, s.live)
	}

	errCh := make(chan error, 1)
	go func() {
		if s.cfg.EnableTLS {
			errCh <- srv.ServeTLS(l, "", "")
		} else {
			errCh <- srv.Serve(l)
		}
	}()
	console.Info(console.Mon, "Monitor is active and listening on port %d (%s://%s:%d)", s.cfg.Port, scheme, config.HostIP(), s.cfg.Port)

	select {
	case err := <-errCh:
		return fmt.Errorf("monitor stopped on port %d: %w", s.cfg.Port, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
	}
	<-errCh
	return nil
}
