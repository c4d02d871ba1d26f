// Package pg implementa repository.Store sobre PostgreSQL con pgx/pgxpool.
//
// Todas las queries de filas de un tenant filtran por tenant_id. Los unique
// constraints del esquema son la fuente de verdad: una violación (23505) se
// traduce a repository.ErrConflict.
package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/idcore/internal/domain/repository"
)

// dbtx es lo común entre *pgxpool.Pool y pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Config del pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Store es un repository.Store sobre un pool (o sobre una tx dentro de WithTx).
type Store struct {
	pool *pgxpool.Pool
	db   dbtx
	inTx bool
}

var _ repository.Store = (*Store)(nil)

// Open crea el pool y verifica conectividad.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, repository.ErrNoDatabase
	}
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pg: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("pg: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return &Store{pool: pool, db: pool}, nil
}

// Pool expone el pool (métricas).
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Tenants() repository.TenantRepository       { return tenantRepo{s.db} }
func (s *Store) Domains() repository.DomainRepository       { return domainRepo{s.db} }
func (s *Store) Settings() repository.SettingRepository     { return settingRepo{s.db} }
func (s *Store) Principals() repository.PrincipalRepository { return principalRepo{s.db} }
func (s *Store) Roles() repository.RoleRepository           { return roleRepo{s.db} }
func (s *Store) Tokens() repository.TokenRepository         { return tokenRepo{s.db} }
func (s *Store) History() repository.HistoryRepository      { return historyRepo{s.db} }
func (s *Store) MFA() repository.MFARepository              { return mfaRepo{s.db} }
func (s *Store) Keys() repository.SigningKeyRepository      { return keyRepo{s.db, s} }
func (s *Store) Audit() repository.AuditRepository          { return auditRepo{s.db} }

// WithTx abre una transacción; rollback diferido si fn falla o el contexto se cancela.
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&Store{pool: s.pool, db: tx, inTx: true}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() {
	if !s.inTx {
		s.pool.Close()
	}
}

// mapErr traduce errores de pgx a los sentinels del dominio.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", repository.ErrConflict, pgErr.ConstraintName)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %s", repository.ErrNotFound, pgErr.ConstraintName)
		case "22P02": // invalid_text_representation (uuid mal formado)
			return repository.ErrNotFound
		}
	}
	return err
}

// affected convierte "0 filas" en ErrNotFound.
func affected(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
