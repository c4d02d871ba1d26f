package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/idcore/internal/store/pg"
)

func newMigrateCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Aplica las migraciones SQL embebidas (solo postgres)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			if !strings.EqualFold(cfg.Storage.Driver, "postgres") {
				fmt.Fprintf(cmd.OutOrStdout(), "storage.driver=%s: nada que migrar\n", cfg.Storage.Driver)
				return nil
			}
			s, err := pg.Open(cmd.Context(), pg.Config{DSN: cfg.Storage.DSN})
			if err != nil {
				return err
			}
			defer s.Close()
			n, err := s.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migraciones aplicadas: %d\n", n)
			return nil
		},
	}
}
