package radius

import (
	"context"
	"errors"
	"net"

	"go.uber.org/zap"
	"layeh.com/radius"

	"github.com/dropDatabas3/idcore/internal/observability/logger"
)

// Server envuelve radius.PacketServer (UDP).
type Server struct {
	ps *radius.PacketServer
}

func NewServer(addr string, secret []byte, h radius.Handler) *Server {
	return &Server{ps: &radius.PacketServer{
		Addr:         addr,
		Network:      "udp",
		SecretSource: radius.StaticSecretSource(secret),
		Handler:      h,
		ErrorLog:     zap.NewStdLog(logger.Named("radius")),
	}}
}

// ListenAndServe bloquea hasta Shutdown; en ese caso devuelve nil.
func (s *Server) ListenAndServe() error {
	logger.Named("radius").Info("radius listening", logger.String("addr", s.ps.Addr))
	return ignoreShutdown(s.ps.ListenAndServe())
}

// Serve atiende sobre una conexión ya abierta.
func (s *Server) Serve(pc net.PacketConn) error {
	return ignoreShutdown(s.ps.Serve(pc))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.ps.Shutdown(ctx)
}

func ignoreShutdown(err error) error {
	if errors.Is(err, radius.ErrServerShutdown) {
		return nil
	}
	return err
}
