package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/idcore/internal/app"
	"github.com/dropDatabas3/idcore/internal/config"
	"github.com/dropDatabas3/idcore/internal/observability/logger"
)

type rootFlags struct {
	configPath string
	envFile    string
	out        string // text | json
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{
		configPath: os.Getenv("IDCORE_CONFIG"),
		envFile:    ".env",
		out:        "text",
	}
	root := &cobra.Command{
		Use:           "idcore",
		Short:         "Identity provider multi-tenant: HTTP/OAuth2, RADIUS y LDAP",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&f.configPath, "config", f.configPath, "ruta a config.yaml (env IDCORE_CONFIG); vacío = solo env")
	root.PersistentFlags().StringVar(&f.envFile, "env-file", f.envFile, "archivo .env a cargar si existe")
	root.PersistentFlags().StringVar(&f.out, "out", f.out, "formato de salida: text|json")

	root.AddCommand(
		newServeCmd(f),
		newMigrateCmd(f),
		newTenantCmd(f),
		newDomainCmd(f),
		newRoleCmd(f),
		newKeysCmd(f),
		newTokensCmd(f),
		newAuditCmd(f),
	)
	return root
}

// load: .env (si existe) -> config -> logger.
func (f *rootFlags) load() (*config.Config, error) {
	if f.envFile != "" {
		if _, err := os.Stat(f.envFile); err == nil {
			if err := godotenv.Load(f.envFile); err != nil {
				return nil, fmt.Errorf("env-file %s: %w", f.envFile, err)
			}
		}
	}
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, ServiceName: cfg.App.Name})
	return cfg, nil
}

// withApp arma el contenedor, corre fn y lo cierra.
func (f *rootFlags) withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := f.load()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// print escribe v como JSON indentado o usa text para el modo texto.
func (f *rootFlags) print(w io.Writer, v any, text func(io.Writer)) {
	if f.out == "json" {
		b, _ := json.MarshalIndent(v, "", "  ")
		fmt.Fprintln(w, string(b))
		return
	}
	text(w)
}
