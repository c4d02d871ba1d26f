package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/idcore/internal/app"
	"github.com/dropDatabas3/idcore/internal/audit"
)

func newTenantCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "tenant", Short: "Alta, activación y baja de tenants"}

	var domains []string
	onboard := &cobra.Command{
		Use:   "onboard <name>",
		Short: "Crea un tenant activo con sus roles protegidos",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return f.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Tenancy.Onboard(ctx, args[0], domains...)
				if err != nil {
					return err
				}
				f.print(cmd.OutOrStdout(), map[string]any{"id": t.ID, "name": t.Name, "domains": domains}, func(w io.Writer) {
					fmt.Fprintf(w, "tenant %s (%s) creado\n", t.Name, t.ID)
				})
				return nil
			})
		},
	}
	onboard.Flags().StringSliceVar(&domains, "domain", nil, "dominio de email del tenant (repetible)")

	activate := &cobra.Command{
		Use:   "activate <tenant-id>",
		Short: "Reactiva un tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return f.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Tenancy.Activate(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			})
		},
	}

	offboard := &cobra.Command{
		Use:   "offboard <tenant-id>",
		Short: "Borra el tenant y todos sus datos",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return f.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Tenancy.Offboard(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			})
		},
	}

	cmd.AddCommand(onboard, activate, offboard)
	return cmd
}

func newDomainCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "domain", Short: "Dominios de email por tenant"}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <tenant-id> <domain>",
		Short: "Registra un dominio activo para el tenant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return f.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				d, err := a.Tenancy.AddDomain(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				f.print(cmd.OutOrStdout(), d, func(w io.Writer) {
					fmt.Fprintf(w, "dominio %s -> %s\n", d.Domain, d.TenantID)
				})
				return nil
			})
		},
	})
	return cmd
}

func newRoleCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "role", Short: "Roles de un tenant"}
	create := &cobra.Command{
		Use:   "create <tenant-id> <name>",
		Short: "Crea un rol",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return f.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				r, err := a.Tenancy.CreateRole(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				f.print(cmd.OutOrStdout(), r, func(w io.Writer) {
					fmt.Fprintf(w, "rol %s (%s)\n", r.Name, r.ID)
				})
				return nil
			})
		},
	}
	rename := &cobra.Command{
		Use:   "rename <tenant-id> <role-id> <new-name>",
		Short: "Renombra un rol no protegido",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return f.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Tenancy.RenameRole(ctx, args[0], args[1], args[2]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			})
		},
	}
	del := &cobra.Command{
		Use:   "delete <tenant-id> <role-id>",
		Short: "Borra un rol no protegido",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return f.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Tenancy.DeleteRole(ctx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			})
		},
	}
	cmd.AddCommand(create, rename, del)
	return cmd
}

func newKeysCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "keys", Short: "Claves de firma"}
	cmd.AddCommand(&cobra.Command{
		Use:   "rotate",
		Short: "Genera una clave activa nueva; la anterior queda en JWKS como retiring",
		RunE: func(cmd *cobra.Command, args []string) error {
			return f.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				kid, err := a.Keys.Rotate(ctx)
				if err != nil {
					return err
				}
				_ = a.Audit.Record(ctx, "keys.rotated", "", "", map[string]any{"kid": kid})
				f.print(cmd.OutOrStdout(), map[string]string{"kid": kid}, func(w io.Writer) {
					fmt.Fprintf(w, "kid activo: %s\n", kid)
				})
				return nil
			})
		},
	})
	return cmd
}

func newTokensCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "tokens", Short: "Tokens de seguridad"}
	cmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Borra tokens vencidos, usados o revocados",
		RunE: func(cmd *cobra.Command, args []string) error {
			return f.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				n, err := a.Tokens.Sweep(ctx)
				if err != nil {
					return err
				}
				_ = a.Audit.Record(ctx, "tokens.swept", "", "", map[string]any{"count": n})
				f.print(cmd.OutOrStdout(), map[string]int{"deleted": n}, func(w io.Writer) {
					fmt.Fprintf(w, "tokens borrados: %d\n", n)
				})
				return nil
			})
		},
	})
	return cmd
}

func newAuditCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "audit", Short: "Audit log"}
	var (
		q        audit.Query
		from, to string
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "Lista entradas, más recientes primero",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if q.From, err = parseTime(from); err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			if q.To, err = parseTime(to); err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			return f.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				entries, err := a.Audit.List(ctx, q)
				if err != nil {
					return err
				}
				f.print(cmd.OutOrStdout(), entries, func(w io.Writer) {
					for _, e := range entries {
						fmt.Fprintf(w, "%s  %-26s tenant=%s principal=%s %v\n",
							e.OccurredAt.Format(time.RFC3339), e.Action, e.TenantID, e.PrincipalID, e.Data)
					}
				})
				return nil
			})
		},
	}
	list.Flags().StringVar(&q.TenantID, "tenant", "", "filtrar por tenant id")
	list.Flags().StringVar(&q.PrincipalID, "principal", "", "filtrar por principal id")
	list.Flags().StringVar(&from, "from", "", "desde (RFC3339 o YYYY-MM-DD)")
	list.Flags().StringVar(&to, "to", "", "hasta, exclusivo (RFC3339 o YYYY-MM-DD)")
	list.Flags().IntVar(&q.Limit, "limit", audit.DefaultLimit, "máximo de entradas")
	cmd.AddCommand(list)
	return cmd
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
