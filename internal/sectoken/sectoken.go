// Package sectoken maneja el ciclo de vida de los tokens opacos: authorization
// codes, refresh tokens y MFA challenges. El plaintext se devuelve una sola vez
// en Issue; en el store queda el hash (clave de búsqueda) y una copia cifrada.
package sectoken

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/idcore/internal/domain/repository"
	"github.com/dropDatabas3/idcore/internal/metrics"
	"github.com/dropDatabas3/idcore/internal/observability/logger"
	"github.com/dropDatabas3/idcore/internal/security/secretbox"
	tokens "github.com/dropDatabas3/idcore/internal/security/token"
)

const (
	DefaultCodeTTL    = 5 * time.Minute
	DefaultRefreshTTL = 30 * 24 * time.Hour
	DefaultMFATTL     = 5 * time.Minute
)

// ErrNotActive cubre no encontrado, usado, revocado, expirado y carrera perdida:
// el caller no puede distinguirlos.
var ErrNotActive = errors.New("sectoken: token not active")

type TTLs struct {
	Code    time.Duration
	Refresh time.Duration
	MFA     time.Duration
}

func (t TTLs) withDefaults() TTLs {
	if t.Code <= 0 {
		t.Code = DefaultCodeTTL
	}
	if t.Refresh <= 0 {
		t.Refresh = DefaultRefreshTTL
	}
	if t.MFA <= 0 {
		t.MFA = DefaultMFATTL
	}
	return t
}

func (t TTLs) For(kind repository.TokenKind) time.Duration {
	switch kind {
	case repository.TokenAuthorizationCode:
		return t.Code
	case repository.TokenMFAChallenge:
		return t.MFA
	}
	return t.Refresh
}

// IssueRequest: TTL cero usa el default del tipo. Code es obligatorio para
// authorization codes e ignorado para el resto.
type IssueRequest struct {
	Kind        repository.TokenKind
	TenantID    string
	PrincipalID string
	Scope       string
	TTL         time.Duration
	Code        *repository.AuthCodeExtras
}

type Issued struct {
	ID        string
	Plaintext string
	ExpiresAt time.Time
}

// Claims es la vista de un token activo.
type Claims struct {
	ID          string
	Kind        repository.TokenKind
	TenantID    string
	PrincipalID string
	Scope       string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Code        *repository.AuthCodeExtras
}

func claimsOf(t *repository.SecurityToken) *Claims {
	return &Claims{
		ID: t.ID, Kind: t.Kind, TenantID: t.TenantID, PrincipalID: t.PrincipalID,
		Scope: t.Scope, IssuedAt: t.IssuedAt, ExpiresAt: t.ExpiresAt, Code: t.Code,
	}
}

type Option func(*Manager)

func WithTTLs(t TTLs) Option { return func(m *Manager) { m.ttls = t.withDefaults() } }

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

type Manager struct {
	store repository.Store
	box   *secretbox.Box
	ttls  TTLs
	now   func() time.Time
}

func NewManager(store repository.Store, box *secretbox.Box, opts ...Option) *Manager {
	m := &Manager{store: store, box: box, ttls: TTLs{}.withDefaults(), now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Tx devuelve un Manager que opera sobre el store transaccional tx.
func (m *Manager) Tx(tx repository.Store) *Manager {
	c := *m
	c.store = tx
	return &c
}

func (m *Manager) TTLs() TTLs { return m.ttls }

func (m *Manager) Issue(ctx context.Context, req IssueRequest) (*Issued, error) {
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: token kind %q", repository.ErrInvalidInput, req.Kind)
	}
	if req.Kind == repository.TokenAuthorizationCode && req.Code == nil {
		return nil, fmt.Errorf("%w: authorization code without client data", repository.ErrInvalidInput)
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = m.ttls.For(req.Kind)
	}
	plain, err := tokens.GenerateOpaqueToken(tokens.DefaultBytes)
	if err != nil {
		return nil, err
	}
	enc, err := m.box.Encrypt(plain)
	if err != nil {
		return nil, fmt.Errorf("sectoken: encrypt: %w", err)
	}
	now := m.now().UTC()
	row := &repository.SecurityToken{
		Kind:        req.Kind,
		TenantID:    req.TenantID,
		PrincipalID: req.PrincipalID,
		Encrypted:   enc,
		Hash:        tokens.SHA256Base64URL(plain),
		Scope:       req.Scope,
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
	}
	if req.Kind == repository.TokenAuthorizationCode {
		extras := *req.Code
		extras.Scope = req.Scope
		row.Code = &extras
	}
	if err := m.store.Tokens().Insert(ctx, row); err != nil {
		return nil, err
	}
	metrics.RecordTokenIssued(string(req.Kind))
	logger.From(ctx).Debug("token issued",
		logger.TokenKind(string(req.Kind)), logger.TenantID(req.TenantID), logger.PrincipalID(req.PrincipalID))
	return &Issued{ID: row.ID, Plaintext: plain, ExpiresAt: row.ExpiresAt}, nil
}

// LookupAndConsume: codes y challenges se consumen atómicamente (un solo
// ganador bajo concurrencia); los refresh tokens solo se validan.
func (m *Manager) LookupAndConsume(ctx context.Context, kind repository.TokenKind, plaintext string) (*Claims, error) {
	if !kind.SingleUse() {
		return m.Lookup(ctx, kind, plaintext)
	}
	if plaintext == "" {
		return nil, ErrNotActive
	}
	t, err := m.store.Tokens().Consume(ctx, kind, tokens.SHA256Base64URL(plaintext), m.now().UTC())
	if err != nil {
		if errors.Is(err, repository.ErrNotConsumable) {
			metrics.RecordTokenConsumed(string(kind), false)
			return nil, ErrNotActive
		}
		return nil, err
	}
	metrics.RecordTokenConsumed(string(kind), true)
	return claimsOf(t), nil
}

// Lookup no consume. Lo usan introspección y refresh.
func (m *Manager) Lookup(ctx context.Context, kind repository.TokenKind, plaintext string) (*Claims, error) {
	if plaintext == "" {
		return nil, ErrNotActive
	}
	t, err := m.store.Tokens().GetByHash(ctx, kind, tokens.SHA256Base64URL(plaintext))
	if err != nil {
		if repository.IsNotFound(err) {
			metrics.RecordTokenConsumed(string(kind), false)
			return nil, ErrNotActive
		}
		return nil, err
	}
	if !t.ActiveAt(m.now().UTC()) {
		metrics.RecordTokenConsumed(string(kind), false)
		return nil, ErrNotActive
	}
	metrics.RecordTokenConsumed(string(kind), true)
	return claimsOf(t), nil
}

// Revoke es permanente. false si no existía o ya estaba revocado.
func (m *Manager) Revoke(ctx context.Context, kind repository.TokenKind, plaintext string) (bool, error) {
	if plaintext == "" {
		return false, nil
	}
	return m.store.Tokens().Revoke(ctx, kind, tokens.SHA256Base64URL(plaintext), m.now().UTC())
}

func (m *Manager) RevokeAllForPrincipal(ctx context.Context, tenantID, principalID string) (int, error) {
	n, err := m.store.Tokens().RevokeByPrincipal(ctx, tenantID, principalID, m.now().UTC())
	if err == nil && n > 0 {
		logger.From(ctx).Info("refresh tokens revoked",
			logger.TenantID(tenantID), logger.PrincipalID(principalID), logger.Count(n))
	}
	return n, err
}

// Sweep borra filas expiradas, usadas o revocadas.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	return m.store.Tokens().DeleteExpired(ctx, m.now().UTC())
}

// Reveal descifra la copia de auditoría de un token.
func (m *Manager) Reveal(t *repository.SecurityToken) (string, error) {
	return m.box.Decrypt(t.Encrypted)
}
