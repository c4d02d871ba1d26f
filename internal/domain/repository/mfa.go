package repository

import (
	"context"
	"time"
)

// BackupCode es un código de respaldo MFA guardado como hash.
type BackupCode struct {
	ID          string
	PrincipalID string
	TenantID    string
	Hash        string
	UsedAt      *time.Time
	CreatedAt   time.Time
}

type MFARepository interface {
	// ReplaceBackupCodes borra el set previo e inserta hashes.
	ReplaceBackupCodes(ctx context.Context, tenantID, principalID string, hashes []string, now time.Time) error
	// ConsumeBackupCode marca el código usado de forma condicional. false si no había uno sin usar.
	ConsumeBackupCode(ctx context.Context, tenantID, principalID, hash string, now time.Time) (bool, error)
	DeleteBackupCodes(ctx context.Context, tenantID, principalID string) error
	// CountUnusedBackupCodes devuelve cuántos códigos quedan disponibles.
	CountUnusedBackupCodes(ctx context.Context, tenantID, principalID string) (int, error)
}
