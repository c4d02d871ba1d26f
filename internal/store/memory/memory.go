// Package memory implementa repository.Store en memoria.
// Se usa en tests y en modo dev (storage.driver=memory).
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/dropDatabas3/idcore/internal/domain/repository"
	"github.com/google/uuid"
)

type state struct {
	tenants     map[string]repository.Tenant
	domains     map[string]repository.TenantDomain // key: domain
	vanity      map[string]repository.VanityURL    // key: host
	settings    map[string]map[string]string       // tenant -> key -> value
	principals  map[string]repository.Principal
	roles       map[string]repository.Role
	assignments map[string]map[string]struct{} // role -> principals
	tokens      map[string]repository.SecurityToken
	history     map[string][]repository.PasswordHistoryEntry // principal -> rows
	backup      map[string][]repository.BackupCode           // principal -> codes
	keys        []repository.SigningKey
	audit       []repository.AuditEntry
}

func newState() *state {
	return &state{
		tenants:     map[string]repository.Tenant{},
		domains:     map[string]repository.TenantDomain{},
		vanity:      map[string]repository.VanityURL{},
		settings:    map[string]map[string]string{},
		principals:  map[string]repository.Principal{},
		roles:       map[string]repository.Role{},
		assignments: map[string]map[string]struct{}{},
		tokens:      map[string]repository.SecurityToken{},
		history:     map[string][]repository.PasswordHistoryEntry{},
		backup:      map[string][]repository.BackupCode{},
	}
}

// clone copia mapas y slices. Los punteros internos de las entidades nunca se
// mutan en sitio, así que alcanza con copia superficial de cada valor.
func (s *state) clone() *state {
	c := newState()
	for k, v := range s.tenants {
		c.tenants[k] = v
	}
	for k, v := range s.domains {
		c.domains[k] = v
	}
	for k, v := range s.vanity {
		c.vanity[k] = v
	}
	for t, m := range s.settings {
		cm := make(map[string]string, len(m))
		for k, v := range m {
			cm[k] = v
		}
		c.settings[t] = cm
	}
	for k, v := range s.principals {
		c.principals[k] = v
	}
	for k, v := range s.roles {
		c.roles[k] = v
	}
	for r, set := range s.assignments {
		cs := make(map[string]struct{}, len(set))
		for p := range set {
			cs[p] = struct{}{}
		}
		c.assignments[r] = cs
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	for k, v := range s.history {
		c.history[k] = append([]repository.PasswordHistoryEntry(nil), v...)
	}
	for k, v := range s.backup {
		c.backup[k] = append([]repository.BackupCode(nil), v...)
	}
	c.keys = append([]repository.SigningKey(nil), s.keys...)
	c.audit = append([]repository.AuditEntry(nil), s.audit...)
	return c
}

// Store es un repository.Store en memoria. Las transacciones se serializan:
// WithTx trabaja sobre una copia y la publica solo si fn termina sin error.
type Store struct {
	mu   *sync.Mutex
	st   *state
	inTx bool
}

var _ repository.Store = (*Store)(nil)

// New crea un store vacío.
func New() *Store {
	return &Store{mu: &sync.Mutex{}, st: newState()}
}

func (s *Store) Tenants() repository.TenantRepository       { return tenantRepo{s} }
func (s *Store) Domains() repository.DomainRepository       { return domainRepo{s} }
func (s *Store) Settings() repository.SettingRepository     { return settingRepo{s} }
func (s *Store) Principals() repository.PrincipalRepository { return principalRepo{s} }
func (s *Store) Roles() repository.RoleRepository           { return roleRepo{s} }
func (s *Store) Tokens() repository.TokenRepository         { return tokenRepo{s} }
func (s *Store) History() repository.HistoryRepository      { return historyRepo{s} }
func (s *Store) MFA() repository.MFARepository              { return mfaRepo{s} }
func (s *Store) Keys() repository.SigningKeyRepository      { return keyRepo{s} }
func (s *Store) Audit() repository.AuditRepository          { return auditRepo{s} }

func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Store{mu: &sync.Mutex{}, st: s.st.clone(), inTx: true}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = tx.st
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() {}

// lock toma el mutex y devuelve el estado vigente.
func (s *Store) lock(ctx context.Context) (*state, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	return s.st, s.mu.Unlock, nil
}

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func fold(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func tokenKey(kind repository.TokenKind, hash string) string {
	return string(kind) + "|" + hash
}
