package repository

import (
	"context"
	"time"
)

// TokenKind discrimina las variantes de SecurityToken.
type TokenKind string

const (
	TokenAuthorizationCode TokenKind = "authorization_code"
	TokenRefresh           TokenKind = "refresh_token"
	TokenMFAChallenge      TokenKind = "mfa_challenge"
)

// Valid reporta si k es una variante conocida.
func (k TokenKind) Valid() bool {
	switch k {
	case TokenAuthorizationCode, TokenRefresh, TokenMFAChallenge:
		return true
	}
	return false
}

// SingleUse: codes y challenges se consumen una vez; refresh es multi-uso hasta revocar.
func (k TokenKind) SingleUse() bool {
	return k == TokenAuthorizationCode || k == TokenMFAChallenge
}

// AuthCodeExtras son los campos propios de un authorization code.
type AuthCodeExtras struct {
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// SecurityToken es el núcleo común de codes, refresh tokens y MFA challenges.
// El plaintext nunca se guarda: Hash es la única clave de búsqueda y Encrypted
// es la copia cifrada para auditoría.
type SecurityToken struct {
	ID          string
	Kind        TokenKind
	PrincipalID string
	TenantID    string
	Encrypted   string
	Hash        string
	Scope       string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Used        bool
	UsedAt      *time.Time
	Revoked     bool
	RevokedAt   *time.Time

	Code *AuthCodeExtras // solo TokenAuthorizationCode
}

// ActiveAt reporta si el token puede usarse en now.
func (t *SecurityToken) ActiveAt(now time.Time) bool {
	return !t.Used && !t.Revoked && now.Before(t.ExpiresAt)
}

type TokenRepository interface {
	Insert(ctx context.Context, t *SecurityToken) error
	GetByHash(ctx context.Context, kind TokenKind, hash string) (*SecurityToken, error)
	// Consume marca used=true solo si el token está activo, en una única
	// operación condicional. Devuelve ErrNotConsumable si otro request ganó,
	// o si no existe, está revocado o expiró.
	Consume(ctx context.Context, kind TokenKind, hash string, now time.Time) (*SecurityToken, error)
	// Revoke marca revoked=true. false si no existía o ya estaba revocado.
	Revoke(ctx context.Context, kind TokenKind, hash string, now time.Time) (bool, error)
	// RevokeByPrincipal revoca todos los refresh tokens vivos del principal.
	RevokeByPrincipal(ctx context.Context, tenantID, principalID string, now time.Time) (int, error)
	// DeleteExpired borra filas vencidas, usadas o revocadas antes de now.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
