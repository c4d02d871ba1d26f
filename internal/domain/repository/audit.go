package repository

import (
	"context"
	"time"
)

// AuditEntry es un registro append-only.
type AuditEntry struct {
	ID          string
	TenantID    string
	PrincipalID string
	Action      string
	Data        map[string]any
	OccurredAt  time.Time
}

// AuditQuery filtra por tenant, principal y rango [From, To).
// Campos vacíos no filtran. Limit <= 0 usa 100.
type AuditQuery struct {
	TenantID    string
	PrincipalID string
	From        time.Time
	To          time.Time
	Limit       int
}

// AuditRepository es la interfaz angosta sobre el store de auditoría:
// lectura por id o por tenant/rango, y append.
type AuditRepository interface {
	Append(ctx context.Context, e *AuditEntry) error
	GetByID(ctx context.Context, id string) (*AuditEntry, error)
	List(ctx context.Context, q AuditQuery) ([]AuditEntry, error)
}
