package repository

import "context"

// Store agrupa los repositorios. Cada request obtiene sus repos del Store
// compartido (pool) o del Store transaccional que recibe fn en WithTx.
type Store interface {
	Tenants() TenantRepository
	Domains() DomainRepository
	Settings() SettingRepository
	Principals() PrincipalRepository
	Roles() RoleRepository
	Tokens() TokenRepository
	History() HistoryRepository
	MFA() MFARepository
	Keys() SigningKeyRepository
	Audit() AuditRepository

	// WithTx ejecuta fn dentro de una transacción. Si fn devuelve error o el
	// contexto se cancela no queda ninguna escritura parcial.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	Ping(ctx context.Context) error
	Close()
}
