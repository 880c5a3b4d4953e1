// Package server runs the HTTP listener.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"

	"membership-manager/internal/common/logging"
)

// Server represents an HTTP server
type Server struct {
	srv     *http.Server
	tlsCert string
	tlsKey  string
	errc    chan error
	logger  logging.Logger
}

// New creates a new server instance. TLS is used when both the
// certificate and key files are given.
func New(handler http.Handler, port, tlsCert, tlsKey string) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              ":" + port,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		tlsCert: tlsCert,
		tlsKey:  tlsKey,
		errc:    make(chan error, 1),
		logger:  logging.GetGlobalLogger().WithFields(logging.Field{"component", "server"}),
	}
}

func (s *Server) useTLS() bool {
	return s.tlsCert != "" && s.tlsKey != ""
}

// Start binds the port and serves in the background. A bind failure is
// returned; a later serve failure is delivered on Errors.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}

	if s.useTLS() {
		s.srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	go func() {
		var err error
		if s.useTLS() {
			err = s.srv.ServeTLS(ln, s.tlsCert, s.tlsKey)
		} else {
			err = s.srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server stopped unexpectedly", err)
			s.errc <- err
		}
	}()

	s.logger.Info("Server listening",
		logging.String("addr", ln.Addr().String()),
		logging.Bool("tls", s.useTLS()),
	)
	return nil
}

// Errors delivers a serve failure after Start
func (s *Server) Errors() <-chan error {
	return s.errc
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
