// Package server runs the HTTP listener for webhook deliveries.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"

	"webhook-verifier/internal/common/logging"
)

// Server wraps an http.Server with optional TLS and an error channel for
// listener failures that happen after Start returns.
type Server struct {
	srv     *http.Server
	tlsCert string
	tlsKey  string
	errs    chan error
	logger  logging.Logger
}

// New creates a new server instance
func New(handler http.Handler, port, tlsCert, tlsKey string) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              ":" + port,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		tlsCert: tlsCert,
		tlsKey:  tlsKey,
		errs:    make(chan error, 1),
		logger:  logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "server"}),
	}
}

// Start binds the listener and serves in the background. Bind errors are
// returned directly; later failures arrive on Errors.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln in the background.
func (s *Server) Serve(ln net.Listener) error {
	useTLS := s.tlsCert != "" && s.tlsKey != ""
	if useTLS {
		s.srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	s.logger.Info("Server listening",
		logging.String("addr", ln.Addr().String()),
		logging.Bool("tls", useTLS),
	)

	go func() {
		var err error
		if useTLS {
			err = s.srv.ServeTLS(ln, s.tlsCert, s.tlsKey)
		} else {
			err = s.srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server stopped unexpectedly", err)
			s.errs <- err
		}
	}()
	return nil
}

// Errors delivers the first fatal listener error.
func (s *Server) Errors() <-chan error {
	return s.errs
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
