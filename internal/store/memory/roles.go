package memory

import (
	"context"
	"sort"
	"time"

	"github.com/dropDatabas3/idcore/internal/domain/repository"
)

type roleRepo struct{ s *Store }

func (r roleRepo) Create(ctx context.Context, role *repository.Role) error {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	if _, ok := st.tenants[role.TenantID]; !ok {
		return repository.ErrNotFound
	}
	role.NormalizedName = repository.NormalizeRoleName(role.Name)
	for _, ex := range st.roles {
		if ex.TenantID == role.TenantID && ex.NormalizedName == role.NormalizedName {
			return repository.ErrConflict
		}
	}
	role.ID = newID(role.ID)
	if role.CreatedAt.IsZero() {
		role.CreatedAt = time.Now().UTC()
	}
	st.roles[role.ID] = *role
	return nil
}

func (r roleRepo) GetByID(ctx context.Context, tenantID, id string) (*repository.Role, error) {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	role, ok := st.roles[id]
	if !ok || role.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	return &role, nil
}

func (r roleRepo) GetByName(ctx context.Context, tenantID, name string) (*repository.Role, error) {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	n := repository.NormalizeRoleName(name)
	for _, role := range st.roles {
		if role.TenantID == tenantID && role.NormalizedName == n {
			role := role
			return &role, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r roleRepo) List(ctx context.Context, tenantID string) ([]repository.Role, error) {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	var out []repository.Role
	for _, role := range st.roles {
		if role.TenantID == tenantID {
			out = append(out, role)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NormalizedName < out[j].NormalizedName })
	return out, nil
}

func (r roleRepo) Rename(ctx context.Context, tenantID, id, newName string) error {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	role, ok := st.roles[id]
	if !ok || role.TenantID != tenantID {
		return repository.ErrNotFound
	}
	n := repository.NormalizeRoleName(newName)
	for _, ex := range st.roles {
		if ex.ID != id && ex.TenantID == tenantID && ex.NormalizedName == n {
			return repository.ErrConflict
		}
	}
	role.Name = newName
	role.NormalizedName = n
	st.roles[id] = role
	return nil
}

func (r roleRepo) Delete(ctx context.Context, tenantID, id string) error {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	role, ok := st.roles[id]
	if !ok || role.TenantID != tenantID {
		return repository.ErrNotFound
	}
	delete(st.roles, id)
	delete(st.assignments, id)
	return nil
}

func (r roleRepo) Assign(ctx context.Context, tenantID, roleID, principalID string) error {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	role, ok := st.roles[roleID]
	if !ok || role.TenantID != tenantID {
		return repository.ErrNotFound
	}
	p, ok := st.principals[principalID]
	if !ok || p.TenantID != tenantID {
		return repository.ErrNotFound
	}
	set := st.assignments[roleID]
	if set == nil {
		set = map[string]struct{}{}
		st.assignments[roleID] = set
	}
	set[principalID] = struct{}{}
	return nil
}

func (r roleRepo) Unassign(ctx context.Context, tenantID, roleID, principalID string) error {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	role, ok := st.roles[roleID]
	if !ok || role.TenantID != tenantID {
		return repository.ErrNotFound
	}
	delete(st.assignments[roleID], principalID)
	return nil
}

func (r roleRepo) RolesOf(ctx context.Context, tenantID, principalID string) ([]string, error) {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	var out []string
	for rid, set := range st.assignments {
		if _, ok := set[principalID]; !ok {
			continue
		}
		if role, ok := st.roles[rid]; ok && role.TenantID == tenantID {
			out = append(out, role.Name)
		}
	}
	sort.Strings(out)
	return out, nil
}
