// Package store elige la implementación de repository.Store según el driver configurado.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dropDatabas3/idcore/internal/domain/repository"
	"github.com/dropDatabas3/idcore/internal/store/memory"
	"github.com/dropDatabas3/idcore/internal/store/pg"
)

// Options de apertura. Driver: "memory" (default) | "postgres".
type Options struct {
	Driver          string
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// AutoMigrate aplica las migraciones embebidas al abrir (solo postgres).
	AutoMigrate bool
}

// Open devuelve el Store listo para usar.
func Open(ctx context.Context, opts Options) (repository.Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", "memory", "mem":
		return memory.New(), nil
	case "postgres", "pg", "pgx":
		s, err := pg.Open(ctx, pg.Config{
			DSN:             opts.DSN,
			MaxConns:        opts.MaxConns,
			MinConns:        opts.MinConns,
			MaxConnLifetime: opts.MaxConnLifetime,
		})
		if err != nil {
			return nil, err
		}
		if opts.AutoMigrate {
			if _, err := s.Migrate(ctx); err != nil {
				s.Close()
				return nil, err
			}
		}
		return s, nil
	default:
		return nil, fmt.Errorf("store: driver %q no soportado", opts.Driver)
	}
}
