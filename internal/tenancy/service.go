// Package tenancy administra tenants, sus dominios de email, vanity URLs,
// settings y roles, y resuelve el tenant implícito de un email.
package tenancy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dropDatabas3/idcore/internal/domain/repository"
	"github.com/dropDatabas3/idcore/internal/events"
	"github.com/dropDatabas3/idcore/internal/observability/logger"
)

type Service struct {
	store          repository.Store
	pub            events.Publisher
	systemTenantID string
}

func NewService(store repository.Store, pub events.Publisher, systemTenantID string) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{store: store, pub: pub, systemTenantID: systemTenantID}
}

// Onboard crea el tenant activo, sus dominios y los roles protegidos en una
// sola transacción.
func (s *Service) Onboard(ctx context.Context, name string, domains ...string) (*repository.Tenant, error) {
	return s.onboard(ctx, "", name, domains)
}

// EnsureSystemTenant crea el tenant de sistema si no existe y garantiza sus roles.
func (s *Service) EnsureSystemTenant(ctx context.Context, name string) (*repository.Tenant, error) {
	if s.systemTenantID == "" {
		return nil, fmt.Errorf("system tenant id no configurado: %w", repository.ErrInvalidInput)
	}
	t, err := s.store.Tenants().GetByID(ctx, s.systemTenantID)
	if err == nil {
		if !t.Active {
			return t, s.Activate(ctx, t.ID)
		}
		return t, s.store.WithTx(ctx, func(tx repository.Store) error {
			return s.SeedProtectedRoles(ctx, tx, t)
		})
	}
	if !repository.IsNotFound(err) {
		return nil, err
	}
	return s.onboard(ctx, s.systemTenantID, name, nil)
}

func (s *Service) onboard(ctx context.Context, id, name string, domains []string) (*repository.Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("tenant name vacío: %w", repository.ErrInvalidInput)
	}
	norm := make([]string, 0, len(domains))
	for _, d := range domains {
		nd, ok := NormalizeDomain(d)
		if !ok {
			return nil, fmt.Errorf("dominio %q: %w", d, repository.ErrInvalidInput)
		}
		norm = append(norm, nd)
	}

	t := &repository.Tenant{ID: id, Name: name, Active: true}
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Tenants().Create(ctx, t); err != nil {
			return err
		}
		for _, d := range norm {
			if err := tx.Domains().Add(ctx, &repository.TenantDomain{TenantID: t.ID, Domain: d, Active: true}); err != nil {
				return fmt.Errorf("dominio %s: %w", d, err)
			}
		}
		return s.SeedProtectedRoles(ctx, tx, t)
	})
	if err != nil {
		return nil, err
	}
	logger.From(ctx).Info("tenant onboarded", logger.TenantID(t.ID), logger.String("name", t.Name))
	s.pub.Publish(ctx, events.New(events.TenantOnboarded, t.ID, "", map[string]any{
		"name": t.Name, "domains": norm,
	}))
	return t, nil
}

// Activate marca el tenant activo y siembra los roles protegidos (idempotente).
func (s *Service) Activate(ctx context.Context, tenantID string) error {
	return s.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Tenants().SetActive(ctx, tenantID, true); err != nil {
			return err
		}
		t, err := tx.Tenants().GetByID(ctx, tenantID)
		if err != nil {
			return err
		}
		return s.SeedProtectedRoles(ctx, tx, t)
	})
}

func (s *Service) Deactivate(ctx context.Context, tenantID string) error {
	return s.store.Tenants().SetActive(ctx, tenantID, false)
}

// Offboard borra el tenant y todas sus filas en una transacción.
func (s *Service) Offboard(ctx context.Context, tenantID string) error {
	if tenantID == s.systemTenantID && tenantID != "" {
		return fmt.Errorf("el tenant de sistema no se puede borrar: %w", repository.ErrInvalidInput)
	}
	var name string
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		t, err := tx.Tenants().GetByID(ctx, tenantID)
		if err != nil {
			return err
		}
		name = t.Name
		return tx.Tenants().Delete(ctx, tenantID)
	})
	if err != nil {
		return err
	}
	logger.From(ctx).Info("tenant offboarded", logger.TenantID(tenantID))
	s.pub.Publish(ctx, events.New(events.TenantOffboarded, tenantID, "", map[string]any{"name": name}))
	return nil
}

func (s *Service) AddDomain(ctx context.Context, tenantID, domain string) (*repository.TenantDomain, error) {
	d, ok := NormalizeDomain(domain)
	if !ok {
		return nil, fmt.Errorf("dominio %q: %w", domain, repository.ErrInvalidInput)
	}
	td := &repository.TenantDomain{TenantID: tenantID, Domain: d, Active: true}
	if err := s.store.Domains().Add(ctx, td); err != nil {
		return nil, err
	}
	return td, nil
}

func (s *Service) SetDomainActive(ctx context.Context, domain string, active bool) error {
	d, ok := NormalizeDomain(domain)
	if !ok {
		return fmt.Errorf("dominio %q: %w", domain, repository.ErrInvalidInput)
	}
	return s.store.Domains().SetActive(ctx, d, active)
}

func (s *Service) ListDomains(ctx context.Context, tenantID string) ([]repository.TenantDomain, error) {
	return s.store.Domains().ListByTenant(ctx, tenantID)
}

func (s *Service) AddVanityURL(ctx context.Context, tenantID, host string) (*repository.VanityURL, error) {
	h, ok := NormalizeDomain(host)
	if !ok {
		return nil, fmt.Errorf("host %q: %w", host, repository.ErrInvalidInput)
	}
	v := &repository.VanityURL{TenantID: tenantID, Host: h}
	if err := s.store.Domains().AddVanityURL(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// ResolveVanityURL acepta host con o sin puerto.
func (s *Service) ResolveVanityURL(ctx context.Context, host string) (string, bool) {
	h := host
	if i := strings.LastIndexByte(h, ':'); i > 0 && !strings.Contains(h[i:], "]") {
		h = h[:i]
	}
	h, ok := NormalizeDomain(h)
	if !ok {
		return "", false
	}
	v, err := s.store.Domains().GetVanityURL(ctx, h)
	if err != nil {
		if !repository.IsNotFound(err) {
			logger.From(ctx).Warn("vanity url lookup failed", logger.String("host", h), logger.Err(err))
		}
		return "", false
	}
	return v.TenantID, true
}

func (s *Service) SetSetting(ctx context.Context, tenantID, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("setting key vacía: %w", repository.ErrInvalidInput)
	}
	return s.store.Settings().Set(ctx, tenantID, key, value)
}

// ---- roles ----

// SeedProtectedRoles crea los roles protegidos que falten. Idempotente; el de
// Service Administrator solo existe en el tenant de sistema. Corre sobre tx.
func (s *Service) SeedProtectedRoles(ctx context.Context, tx repository.Store, t *repository.Tenant) error {
	if !t.Active {
		return nil
	}
	for _, name := range repository.ProtectedRoleNames {
		if name == repository.RoleServiceAdministrator && t.ID != s.systemTenantID {
			continue
		}
		_, err := tx.Roles().GetByName(ctx, t.ID, name)
		if err == nil {
			continue
		}
		if !repository.IsNotFound(err) {
			return err
		}
		err = tx.Roles().Create(ctx, &repository.Role{TenantID: t.ID, Name: name, Protected: true})
		if err != nil && !repository.IsConflict(err) {
			return fmt.Errorf("seed role %s: %w", name, err)
		}
	}
	return nil
}

func validRoleName(name string) (string, error) {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" || len(name) > 128 {
		return "", fmt.Errorf("role name: %w", repository.ErrInvalidInput)
	}
	return name, nil
}

func (s *Service) CreateRole(ctx context.Context, tenantID, name string) (*repository.Role, error) {
	name, err := validRoleName(name)
	if err != nil {
		return nil, err
	}
	if repository.IsProtectedRole(name) {
		return nil, repository.ErrProtectedRole
	}
	r := &repository.Role{TenantID: tenantID, Name: name}
	if err := s.store.Roles().Create(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// RenameRole rechaza roles protegidos como origen y nombres protegidos como destino.
func (s *Service) RenameRole(ctx context.Context, tenantID, roleID, newName string) error {
	newName, err := validRoleName(newName)
	if err != nil {
		return err
	}
	if repository.IsProtectedRole(newName) {
		return repository.ErrProtectedRole
	}
	return s.store.WithTx(ctx, func(tx repository.Store) error {
		r, err := tx.Roles().GetByID(ctx, tenantID, roleID)
		if err != nil {
			return err
		}
		if r.Protected || repository.IsProtectedRole(r.Name) {
			return repository.ErrProtectedRole
		}
		return tx.Roles().Rename(ctx, tenantID, roleID, newName)
	})
}

func (s *Service) DeleteRole(ctx context.Context, tenantID, roleID string) error {
	return s.store.WithTx(ctx, func(tx repository.Store) error {
		r, err := tx.Roles().GetByID(ctx, tenantID, roleID)
		if err != nil {
			return err
		}
		if r.Protected || repository.IsProtectedRole(r.Name) {
			return repository.ErrProtectedRole
		}
		return tx.Roles().Delete(ctx, tenantID, roleID)
	})
}

func (s *Service) ListRoles(ctx context.Context, tenantID string) ([]repository.Role, error) {
	return s.store.Roles().List(ctx, tenantID)
}

func (s *Service) AssignRole(ctx context.Context, tenantID, roleID, principalID string) error {
	if err := s.store.Roles().Assign(ctx, tenantID, roleID, principalID); err != nil {
		return err
	}
	s.roleChanged(ctx, tenantID, roleID, principalID, "assigned")
	return nil
}

func (s *Service) UnassignRole(ctx context.Context, tenantID, roleID, principalID string) error {
	if err := s.store.Roles().Unassign(ctx, tenantID, roleID, principalID); err != nil {
		return err
	}
	s.roleChanged(ctx, tenantID, roleID, principalID, "unassigned")
	return nil
}

func (s *Service) roleChanged(ctx context.Context, tenantID, roleID, principalID, change string) {
	s.pub.Publish(ctx, events.New(events.RoleAssignmentsChanged, tenantID, principalID, map[string]any{
		"role_id": roleID, "change": change,
	}))
}

// ErrIsProtected es un atajo para handlers y CLI.
func ErrIsProtected(err error) bool { return errors.Is(err, repository.ErrProtectedRole) }
