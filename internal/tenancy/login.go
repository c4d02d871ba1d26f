package tenancy

import (
	"context"

	"github.com/dropDatabas3/idcore/internal/identifier"
)

// ResolveLogin decide usuario y tenant de un identificador de login:
// "user@<tenant-id>" usa ese tenant; "user@dominio" usa el tenant del dominio
// registrado (y el login es el email entero); si no, el tenant por defecto.
func (r *DomainResolver) ResolveLogin(ctx context.Context, raw, defaultTenant string) (login, tenantID string) {
	user, tenant := identifier.Resolve(raw, "")
	if tenant != "" {
		return user, tenant
	}
	if r != nil {
		if t, ok := r.ResolveTenant(ctx, user); ok {
			return user, t
		}
	}
	return user, defaultTenant
}
