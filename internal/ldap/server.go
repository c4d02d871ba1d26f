package ldap

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jimlambrt/gldap"
	"go.uber.org/zap"

	"github.com/dropDatabas3/idcore/internal/observability/logger"
)

type ServerOptions struct {
	// ReadTimeout/WriteTimeout acotan la vida de cada conexión; 0 = sin límite.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server envuelve gldap.Server con un mux que solo conoce Bind.
type Server struct {
	addr string
	srv  *gldap.Server
}

func NewServer(addr string, h *Handler, opt ServerOptions) (*Server, error) {
	hl := hclog.New(&hclog.LoggerOptions{
		Name:        "ldap",
		Level:       hclog.Info,
		Output:      zap.NewStdLog(logger.Named("ldap")).Writer(),
		DisableTime: true,
	})
	opts := []gldap.Option{gldap.WithLogger(hl)}
	if opt.ReadTimeout > 0 {
		opts = append(opts, gldap.WithReadTimeout(opt.ReadTimeout))
	}
	if opt.WriteTimeout > 0 {
		opts = append(opts, gldap.WithWriteTimeout(opt.WriteTimeout))
	}
	srv, err := gldap.NewServer(opts...)
	if err != nil {
		return nil, fmt.Errorf("ldap: new server: %w", err)
	}

	mux, err := gldap.NewMux()
	if err != nil {
		return nil, fmt.Errorf("ldap: new mux: %w", err)
	}
	if err := mux.Bind(h.Bind); err != nil {
		return nil, fmt.Errorf("ldap: bind route: %w", err)
	}
	if err := mux.DefaultRoute(h.Unsupported); err != nil {
		return nil, fmt.Errorf("ldap: default route: %w", err)
	}
	if err := srv.Router(mux); err != nil {
		return nil, fmt.Errorf("ldap: router: %w", err)
	}
	return &Server{addr: addr, srv: srv}, nil
}

func (s *Server) Addr() string { return s.addr }

// Run bloquea hasta Stop. Devuelve nil cuando el listener se cierra por Stop.
func (s *Server) Run() error {
	logger.L().Info("ldap listening", zap.String("addr", s.addr))
	return s.srv.Run(s.addr)
}

func (s *Server) Ready() bool { return s.srv.Ready() }

// Stop cierra el listener y espera a que terminen las conexiones abiertas.
func (s *Server) Stop() error { return s.srv.Stop() }
