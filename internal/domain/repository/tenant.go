package repository

import (
	"context"
	"time"
)

// Tenant es el límite de aislamiento de principals, roles y configuración.
type Tenant struct {
	ID        string
	Name      string // único global
	Active    bool
	CreatedAt time.Time
}

// TenantDomain registra un dominio de email (lowercase, único global) para un tenant.
type TenantDomain struct {
	ID        string
	TenantID  string
	Domain    string
	Active    bool
	CreatedAt time.Time
}

// VanityURL es un hostname propio del tenant (único global).
type VanityURL struct {
	ID        string
	TenantID  string
	Host      string
	CreatedAt time.Time
}

type TenantRepository interface {
	// Create inserta el tenant. ErrConflict si el nombre ya existe.
	Create(ctx context.Context, t *Tenant) error
	GetByID(ctx context.Context, id string) (*Tenant, error)
	GetByName(ctx context.Context, name string) (*Tenant, error)
	List(ctx context.Context) ([]Tenant, error)
	SetActive(ctx context.Context, id string, active bool) error
	// Delete borra el tenant y todas sus filas. Debe llamarse dentro de WithTx.
	Delete(ctx context.Context, id string) error
}

type DomainRepository interface {
	// Add registra un dominio. ErrConflict si ya está registrado (en cualquier tenant).
	Add(ctx context.Context, d *TenantDomain) error
	SetActive(ctx context.Context, domain string, active bool) error
	// FindActive devuelve los dominios activos cuyo valor está en domains.
	FindActive(ctx context.Context, domains []string) ([]TenantDomain, error)
	ListByTenant(ctx context.Context, tenantID string) ([]TenantDomain, error)

	AddVanityURL(ctx context.Context, v *VanityURL) error
	GetVanityURL(ctx context.Context, host string) (*VanityURL, error)
}

// SettingRepository guarda pares clave/valor de texto libre por tenant.
type SettingRepository interface {
	Get(ctx context.Context, tenantID, key string) (value string, ok bool, err error)
	// ListByPrefix devuelve todas las claves del tenant que empiezan con prefix.
	ListByPrefix(ctx context.Context, tenantID, prefix string) (map[string]string, error)
	Set(ctx context.Context, tenantID, key, value string) error
}
