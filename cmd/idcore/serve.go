package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/idcore/internal/app"
	"github.com/dropDatabas3/idcore/internal/observability/logger"
)

func newServeCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Levanta HTTP y, si están habilitados, RADIUS y LDAP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return f.withApp(ctx, serve)
		},
	}
}

// serve corre los listeners en un errgroup: si uno cae se apagan todos.
func serve(ctx context.Context, a *app.App) error {
	log := logger.Named("serve")
	cfg := a.Cfg

	var reg prometheus.Registerer
	if cfg.HTTP.Metrics {
		reg = prometheus.DefaultRegisterer
	}
	h, err := a.Router(reg)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	httpSrv := a.HTTPServer(h)
	g.Go(httpSrv.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})

	if cfg.RADIUS.Enabled {
		rs := a.RADIUSServer()
		g.Go(rs.ListenAndServe)
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			return rs.Shutdown(sctx)
		})
	}

	if cfg.LDAP.Enabled {
		ls, err := a.LDAPServer()
		if err != nil {
			return err
		}
		g.Go(ls.Run)
		g.Go(func() error {
			<-gctx.Done()
			return ls.Stop()
		})
	}

	log.Info("idcore up",
		logger.String("env", cfg.App.Env),
		logger.String("issuer", a.Issuer.Iss),
		logger.Bool("radius", cfg.RADIUS.Enabled),
		logger.Bool("ldap", cfg.LDAP.Enabled))

	err = g.Wait()
	log.Info("idcore stopped")
	return err
}
