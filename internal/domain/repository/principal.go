package repository

import (
	"context"
	"time"
)

// Principal es una cuenta autenticable dentro de un tenant.
type Principal struct {
	ID           string
	TenantID     string
	Username     string
	Email        string // único por tenant, case-insensitive
	PasswordHash string
	Active       bool

	// MFA: secreto presente + MFAEnabled=false => setup pendiente.
	MFAEnabled      bool
	TOTPSecret      *string // cifrado con secretbox
	TOTPLastCounter *int64

	FailedAttempts int
	LockedUntil    *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsLocked reporta si el principal está bloqueado en now.
func (p *Principal) IsLocked(now time.Time) bool {
	return p.LockedUntil != nil && now.Before(*p.LockedUntil)
}

// MFAPending reporta si hay un setup TOTP sin confirmar.
func (p *Principal) MFAPending() bool {
	return p.TOTPSecret != nil && !p.MFAEnabled
}

type PrincipalRepository interface {
	// Create inserta. ErrConflict si username o email ya existen en el tenant.
	Create(ctx context.Context, p *Principal) error
	GetByID(ctx context.Context, tenantID, id string) (*Principal, error)
	// FindByLogin busca por username o email (case-insensitive) dentro del tenant.
	FindByLogin(ctx context.Context, tenantID, login string) (*Principal, error)
	GetByEmail(ctx context.Context, tenantID, email string) (*Principal, error)

	UpdatePassword(ctx context.Context, tenantID, id, hash string) error
	SetActive(ctx context.Context, tenantID, id string, active bool) error

	// RegisterFailure incrementa el contador de fallos de forma atómica. Al llegar a
	// maxAttempts bloquea hasta now+lockFor y reinicia el contador.
	RegisterFailure(ctx context.Context, tenantID, id string, maxAttempts int, lockFor time.Duration, now time.Time) (locked bool, err error)
	// ResetFailures limpia contador y bloqueo.
	ResetFailures(ctx context.Context, tenantID, id string) error

	// SetTOTP fija secreto y flag, y reinicia el contador anti-replay.
	SetTOTP(ctx context.Context, tenantID, id string, secret *string, enabled bool) error
	// AdvanceTOTPCounter guarda counter solo si es mayor al último usado.
	// false => replay (otro request ya usó ese paso).
	AdvanceTOTPCounter(ctx context.Context, tenantID, id string, counter int64) (bool, error)

	Delete(ctx context.Context, tenantID, id string) error
}

// PasswordHistoryEntry guarda un hash que el principal usó o usa.
// SupersededAt nil => es el hash vigente.
type PasswordHistoryEntry struct {
	ID           string
	PrincipalID  string
	TenantID     string
	Hash         string
	SetAt        time.Time
	SupersededAt *time.Time
}

type HistoryRepository interface {
	Add(ctx context.Context, e *PasswordHistoryEntry) error
	// List devuelve las filas del principal, la más reciente primero.
	List(ctx context.Context, tenantID, principalID string) ([]PasswordHistoryEntry, error)
	// Supersede marca como reemplazada la fila vigente.
	Supersede(ctx context.Context, tenantID, principalID string, at time.Time) error
	// Prune deja las keep filas más nuevas (por supersession; la vigente cuenta
	// como la más nueva) y devuelve cuántas borró.
	Prune(ctx context.Context, tenantID, principalID string, keep int) (int, error)
}
