package repository

import (
	"context"
	"strings"
	"time"
)

// Nombres de roles protegidos. Se siembran por tenant activo
// (RoleServiceAdministrator solo en el tenant de sistema).
const (
	RoleServiceAdministrator = "Service Administrator"
	RoleTenantAdministrator  = "Tenant Administrator"
	RoleUserAdministrator    = "User Administrator"
	RoleRoleAdministrator    = "Role Administrator"
)

// ProtectedRoleNames lista los roles inmutables.
var ProtectedRoleNames = []string{
	RoleServiceAdministrator,
	RoleTenantAdministrator,
	RoleUserAdministrator,
	RoleRoleAdministrator,
}

// NormalizeRoleName es la forma canónica usada en el unique (tenant, normalized_name).
func NormalizeRoleName(name string) string {
	return strings.ToUpper(strings.Join(strings.Fields(name), " "))
}

// IsProtectedRole compara por nombre normalizado.
func IsProtectedRole(name string) bool {
	n := NormalizeRoleName(name)
	for _, p := range ProtectedRoleNames {
		if NormalizeRoleName(p) == n {
			return true
		}
	}
	return false
}

type Role struct {
	ID             string
	TenantID       string
	Name           string
	NormalizedName string
	Protected      bool
	CreatedAt      time.Time
}

type RoleRepository interface {
	// Create inserta. ErrConflict si el nombre normalizado ya existe en el tenant.
	Create(ctx context.Context, r *Role) error
	GetByID(ctx context.Context, tenantID, id string) (*Role, error)
	GetByName(ctx context.Context, tenantID, name string) (*Role, error)
	List(ctx context.Context, tenantID string) ([]Role, error)
	// Rename cambia el nombre. ErrConflict si el destino ya existe.
	Rename(ctx context.Context, tenantID, id, newName string) error
	Delete(ctx context.Context, tenantID, id string) error

	Assign(ctx context.Context, tenantID, roleID, principalID string) error
	Unassign(ctx context.Context, tenantID, roleID, principalID string) error
	// RolesOf devuelve los nombres de rol del principal.
	RolesOf(ctx context.Context, tenantID, principalID string) ([]string, error)
}
