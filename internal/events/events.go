// Package events publica eventos de dominio (fire-and-forget).
//
// Un fallo al publicar se loguea y nunca vuelve al caller: la operación que
// disparó el evento ya se completó. La entrega aguas abajo es at-least-once.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropDatabas3/idcore/internal/domain/repository"
	"github.com/dropDatabas3/idcore/internal/observability/logger"
)

type Type string

const (
	UserCreated            Type = "user.created"
	UserModified           Type = "user.modified"
	UserDeleted            Type = "user.deleted"
	UserDisabled           Type = "user.disabled"
	TenantOnboarded        Type = "tenant.onboarded"
	TenantOffboarded       Type = "tenant.offboarded"
	RoleAssignmentsChanged Type = "role.assignments_changed"
)

type Event struct {
	ID          string         `json:"id"`
	Type        Type           `json:"type"`
	TenantID    string         `json:"tenant_id"`
	PrincipalID string         `json:"principal_id,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// New arma un evento con id y timestamp.
func New(t Type, tenantID, principalID string, data map[string]any) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        t,
		TenantID:    tenantID,
		PrincipalID: principalID,
		Data:        data,
		OccurredAt:  time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Nop descarta todo.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// LogPublisher escribe cada evento como una línea estructurada.
type LogPublisher struct{ l *zap.Logger }

func NewLogPublisher(l *zap.Logger) *LogPublisher {
	if l == nil {
		l = logger.Named("events")
	}
	return &LogPublisher{l: l}
}

func (p *LogPublisher) Publish(ctx context.Context, e Event) {
	p.l.Info("domain event",
		logger.Event(string(e.Type)),
		logger.TenantID(e.TenantID),
		logger.PrincipalID(e.PrincipalID),
		zap.String("event_id", e.ID),
		zap.Any("data", e.Data),
	)
}

// AuditPublisher persiste cada evento en el audit log.
type AuditPublisher struct{ repo repository.AuditRepository }

func NewAuditPublisher(repo repository.AuditRepository) *AuditPublisher {
	return &AuditPublisher{repo: repo}
}

func (p *AuditPublisher) Publish(ctx context.Context, e Event) {
	err := p.repo.Append(ctx, &repository.AuditEntry{
		TenantID:    e.TenantID,
		PrincipalID: e.PrincipalID,
		Action:      string(e.Type),
		Data:        e.Data,
		OccurredAt:  e.OccurredAt,
	})
	if err != nil {
		logger.From(ctx).Warn("audit append failed", logger.Event(string(e.Type)), logger.Err(err))
	}
}

// Multi publica en todos los sinks en orden.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, e)
		}
	}
}

func marshal(e Event) ([]byte, error) { return json.Marshal(e) }
