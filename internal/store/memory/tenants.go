package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/dropDatabas3/idcore/internal/domain/repository"
)

type tenantRepo struct{ s *Store }

func (r tenantRepo) Create(ctx context.Context, t *repository.Tenant) error {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	for _, ex := range st.tenants {
		if fold(ex.Name) == fold(t.Name) {
			return repository.ErrConflict
		}
	}
	t.ID = newID(t.ID)
	if _, dup := st.tenants[t.ID]; dup {
		return repository.ErrConflict
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	st.tenants[t.ID] = *t
	return nil
}

func (r tenantRepo) GetByID(ctx context.Context, id string) (*repository.Tenant, error) {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	t, ok := st.tenants[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (r tenantRepo) GetByName(ctx context.Context, name string) (*repository.Tenant, error) {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	for _, t := range st.tenants {
		if fold(t.Name) == fold(name) {
			t := t
			return &t, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r tenantRepo) List(ctx context.Context) ([]repository.Tenant, error) {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	out := make([]repository.Tenant, 0, len(st.tenants))
	for _, t := range st.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r tenantRepo) SetActive(ctx context.Context, id string, active bool) error {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	t, ok := st.tenants[id]
	if !ok {
		return repository.ErrNotFound
	}
	t.Active = active
	st.tenants[id] = t
	return nil
}

// Delete borra el tenant en cascada, como el ON DELETE CASCADE del esquema pg.
func (r tenantRepo) Delete(ctx context.Context, id string) error {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	if _, ok := st.tenants[id]; !ok {
		return repository.ErrNotFound
	}
	delete(st.tenants, id)
	for k, d := range st.domains {
		if d.TenantID == id {
			delete(st.domains, k)
		}
	}
	for k, v := range st.vanity {
		if v.TenantID == id {
			delete(st.vanity, k)
		}
	}
	delete(st.settings, id)
	for pid, p := range st.principals {
		if p.TenantID == id {
			delete(st.principals, pid)
			delete(st.history, pid)
			delete(st.backup, pid)
		}
	}
	for rid, role := range st.roles {
		if role.TenantID == id {
			delete(st.roles, rid)
			delete(st.assignments, rid)
		}
	}
	for k, t := range st.tokens {
		if t.TenantID == id {
			delete(st.tokens, k)
		}
	}
	return nil
}

type domainRepo struct{ s *Store }

func (r domainRepo) Add(ctx context.Context, d *repository.TenantDomain) error {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	d.Domain = fold(d.Domain)
	if _, dup := st.domains[d.Domain]; dup {
		return repository.ErrConflict
	}
	if _, ok := st.tenants[d.TenantID]; !ok {
		return repository.ErrNotFound
	}
	d.ID = newID(d.ID)
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	st.domains[d.Domain] = *d
	return nil
}

func (r domainRepo) SetActive(ctx context.Context, domain string, active bool) error {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	d, ok := st.domains[fold(domain)]
	if !ok {
		return repository.ErrNotFound
	}
	d.Active = active
	st.domains[d.Domain] = d
	return nil
}

func (r domainRepo) FindActive(ctx context.Context, domains []string) ([]repository.TenantDomain, error) {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	var out []repository.TenantDomain
	for _, want := range domains {
		if d, ok := st.domains[fold(want)]; ok && d.Active {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r domainRepo) ListByTenant(ctx context.Context, tenantID string) ([]repository.TenantDomain, error) {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	var out []repository.TenantDomain
	for _, d := range st.domains {
		if d.TenantID == tenantID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out, nil
}

func (r domainRepo) AddVanityURL(ctx context.Context, v *repository.VanityURL) error {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	v.Host = fold(v.Host)
	if _, dup := st.vanity[v.Host]; dup {
		return repository.ErrConflict
	}
	if _, ok := st.tenants[v.TenantID]; !ok {
		return repository.ErrNotFound
	}
	v.ID = newID(v.ID)
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	st.vanity[v.Host] = *v
	return nil
}

func (r domainRepo) GetVanityURL(ctx context.Context, host string) (*repository.VanityURL, error) {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	v, ok := st.vanity[fold(host)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &v, nil
}

type settingRepo struct{ s *Store }

func (r settingRepo) Get(ctx context.Context, tenantID, key string) (string, bool, error) {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return "", false, err
	}
	defer unlock()
	v, ok := st.settings[tenantID][key]
	return v, ok, nil
}

func (r settingRepo) ListByPrefix(ctx context.Context, tenantID, prefix string) (map[string]string, error) {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	out := map[string]string{}
	for k, v := range st.settings[tenantID] {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out, nil
}

func (r settingRepo) Set(ctx context.Context, tenantID, key, value string) error {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	if _, ok := st.tenants[tenantID]; !ok {
		return repository.ErrNotFound
	}
	m := st.settings[tenantID]
	if m == nil {
		m = map[string]string{}
		st.settings[tenantID] = m
	}
	m[key] = value
	return nil
}
