// Package server runs the HTTP surface: it binds the listener, serves
// the api routes, and shuts down cleanly when the stop context fires.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"vigil/internal/api"
	"vigil/internal/logging"
)

const shutdownTimeout = 5 * time.Second
const readHeaderTimeout = 10 * time.Second

type Server struct {
	httpServer *http.Server
	listener   net.Listener
	logger     *logging.Logger
}

func New(listen string, routes api.Options, logger *logging.Logger) *Server {
	if logger == nil {
		logger = routes.Logger
	}
	if logger == nil {
		logger = logging.NewLoggerWithOutput(logging.NewLogBuffer(logging.DefaultBufferSize), logging.LevelInfo, nil)
	}

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, routes)

	return &Server{
		httpServer: &http.Server{
			Addr:              listen,
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		logger: logger.With(map[string]string{"component": "server"}),
	}
}

// Listen binds the address ahead of Run so callers can fail fast on a
// taken port and read the bound address when listening on port zero.
func (s *Server) Listen() error {
	if s.listener != nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = listener
	return nil
}

// Addr returns the bound address after Listen, the configured one before.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Run serves until the stop context is done or the server fails, then
// drains in-flight requests within the shutdown timeout. It always
// returns the reason serving ended, nil on a clean stop.
func (s *Server) Run(stop context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	serveErrs := make(chan error, 1)
	go func() {
		serveErrs <- s.httpServer.Serve(s.listener)
	}()

	s.logger.Info("http server listening", map[string]string{
		"addr": s.listener.Addr().String(),
	})

	var serveErr error
	select {
	case serveErr = <-serveErrs:
	case <-stop.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown failed", map[string]string{
			"error": err.Error(),
		})
	}

	if serveErr == nil {
		select {
		case serveErr = <-serveErrs:
		case <-time.After(shutdownTimeout):
		}
	}
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}

	s.logger.Info("http server stopped", nil)
	return nil
}
