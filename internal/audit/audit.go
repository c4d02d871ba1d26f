// Package audit lee y escribe el audit log append-only.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/idcore/internal/domain/repository"
	"github.com/dropDatabas3/idcore/internal/observability/logger"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

var ErrInvalidRange = errors.New("audit: from must be before to")

// Query filtra por tenant, principal y rango [From, To). Vacío no filtra.
type Query struct {
	TenantID    string
	PrincipalID string
	From        time.Time
	To          time.Time
	Limit       int
}

type Service struct {
	repo repository.AuditRepository
}

func NewService(repo repository.AuditRepository) *Service {
	return &Service{repo: repo}
}

// List devuelve las entradas más recientes primero.
func (s *Service) List(ctx context.Context, q Query) ([]repository.AuditEntry, error) {
	if !q.From.IsZero() && !q.To.IsZero() && !q.From.Before(q.To) {
		return nil, ErrInvalidRange
	}
	switch {
	case q.Limit <= 0:
		q.Limit = DefaultLimit
	case q.Limit > MaxLimit:
		q.Limit = MaxLimit
	}
	out, err := s.repo.List(ctx, repository.AuditQuery{
		TenantID:    q.TenantID,
		PrincipalID: q.PrincipalID,
		From:        q.From,
		To:          q.To,
		Limit:       q.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id string) (*repository.AuditEntry, error) {
	return s.repo.GetByID(ctx, id)
}

// Record agrega una entrada hecha fuera del flujo de eventos (comandos de
// operador). Un fallo se loguea y se devuelve.
func (s *Service) Record(ctx context.Context, action, tenantID, principalID string, data map[string]any) error {
	e := &repository.AuditEntry{
		TenantID:    tenantID,
		PrincipalID: principalID,
		Action:      action,
		Data:        data,
		OccurredAt:  time.Now().UTC(),
	}
	if err := s.repo.Append(ctx, e); err != nil {
		logger.From(ctx).Warn("audit append failed", logger.Event(action), logger.Err(err))
		return err
	}
	return nil
}
