package http

import (
	"context"
	stderrors "errors"
	"net"
	stdhttp "net/http"
	"time"

	"github.com/dropDatabas3/idcore/internal/observability/logger"
)

// Server envuelve http.Server con timeouts razonables y shutdown ordenado.
type Server struct {
	srv *stdhttp.Server
}

func NewServer(addr string, handler stdhttp.Handler) *Server {
	return &Server{srv: &stdhttp.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}}
}

// WithTimeouts pisa read/write timeouts; 0 deja el default.
func (s *Server) WithTimeouts(read, write time.Duration) *Server {
	if read > 0 {
		s.srv.ReadTimeout = read
	}
	if write > 0 {
		s.srv.WriteTimeout = write
	}
	return s
}

// ListenAndServe bloquea hasta Shutdown; en ese caso devuelve nil.
func (s *Server) ListenAndServe() error {
	logger.Named("http").Info("http listening", logger.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !stderrors.Is(err, stdhttp.ErrServerClosed) {
		return err
	}
	return nil
}

// Serve es como ListenAndServe sobre un listener ya abierto (tests).
func (s *Server) Serve(l net.Listener) error {
	if err := s.srv.Serve(l); err != nil && !stderrors.Is(err, stdhttp.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
