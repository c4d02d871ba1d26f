package pg

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/dropDatabas3/idcore/internal/domain/repository"
)

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

type tenantRepo struct{ db dbtx }

func (r tenantRepo) Create(ctx context.Context, t *repository.Tenant) error {
	t.ID = newID(t.ID)
	err := r.db.QueryRow(ctx,
		`INSERT INTO tenant (id, name, active) VALUES ($1, $2, $3) RETURNING created_at`,
		t.ID, t.Name, t.Active,
	).Scan(&t.CreatedAt)
	return mapErr(err)
}

const tenantCols = `id, name, active, created_at`

func scanTenant(row interface{ Scan(...any) error }) (*repository.Tenant, error) {
	var t repository.Tenant
	if err := row.Scan(&t.ID, &t.Name, &t.Active, &t.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (r tenantRepo) GetByID(ctx context.Context, id string) (*repository.Tenant, error) {
	return scanTenant(r.db.QueryRow(ctx, `SELECT `+tenantCols+` FROM tenant WHERE id = $1`, id))
}

func (r tenantRepo) GetByName(ctx context.Context, name string) (*repository.Tenant, error) {
	return scanTenant(r.db.QueryRow(ctx, `SELECT `+tenantCols+` FROM tenant WHERE LOWER(name) = LOWER($1)`, name))
}

func (r tenantRepo) List(ctx context.Context) ([]repository.Tenant, error) {
	rows, err := r.db.Query(ctx, `SELECT `+tenantCols+` FROM tenant ORDER BY name`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []repository.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r tenantRepo) SetActive(ctx context.Context, id string, active bool) error {
	return affected(r.db.Exec(ctx, `UPDATE tenant SET active = $2 WHERE id = $1`, id, active))
}

// Delete depende de ON DELETE CASCADE para las filas hijas.
func (r tenantRepo) Delete(ctx context.Context, id string) error {
	return affected(r.db.Exec(ctx, `DELETE FROM tenant WHERE id = $1`, id))
}

type domainRepo struct{ db dbtx }

func (r domainRepo) Add(ctx context.Context, d *repository.TenantDomain) error {
	d.ID = newID(d.ID)
	d.Domain = strings.ToLower(strings.TrimSpace(d.Domain))
	err := r.db.QueryRow(ctx,
		`INSERT INTO tenant_domain (id, tenant_id, domain, active) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		d.ID, d.TenantID, d.Domain, d.Active,
	).Scan(&d.CreatedAt)
	return mapErr(err)
}

func (r domainRepo) SetActive(ctx context.Context, domain string, active bool) error {
	return affected(r.db.Exec(ctx,
		`UPDATE tenant_domain SET active = $2 WHERE domain = $1`,
		strings.ToLower(strings.TrimSpace(domain)), active))
}

func (r domainRepo) query(ctx context.Context, sql string, args ...any) ([]repository.TenantDomain, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []repository.TenantDomain
	for rows.Next() {
		var d repository.TenantDomain
		if err := rows.Scan(&d.ID, &d.TenantID, &d.Domain, &d.Active, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r domainRepo) FindActive(ctx context.Context, domains []string) ([]repository.TenantDomain, error) {
	if len(domains) == 0 {
		return nil, nil
	}
	return r.query(ctx,
		`SELECT id, tenant_id, domain, active, created_at FROM tenant_domain
		 WHERE active AND domain = ANY($1)`, domains)
}

func (r domainRepo) ListByTenant(ctx context.Context, tenantID string) ([]repository.TenantDomain, error) {
	return r.query(ctx,
		`SELECT id, tenant_id, domain, active, created_at FROM tenant_domain
		 WHERE tenant_id = $1 ORDER BY domain`, tenantID)
}

func (r domainRepo) AddVanityURL(ctx context.Context, v *repository.VanityURL) error {
	v.ID = newID(v.ID)
	v.Host = strings.ToLower(strings.TrimSpace(v.Host))
	err := r.db.QueryRow(ctx,
		`INSERT INTO tenant_vanity_url (id, tenant_id, host) VALUES ($1, $2, $3) RETURNING created_at`,
		v.ID, v.TenantID, v.Host,
	).Scan(&v.CreatedAt)
	return mapErr(err)
}

func (r domainRepo) GetVanityURL(ctx context.Context, host string) (*repository.VanityURL, error) {
	var v repository.VanityURL
	err := r.db.QueryRow(ctx,
		`SELECT id, tenant_id, host, created_at FROM tenant_vanity_url WHERE host = $1`,
		strings.ToLower(strings.TrimSpace(host)),
	).Scan(&v.ID, &v.TenantID, &v.Host, &v.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &v, nil
}

type settingRepo struct{ db dbtx }

func (r settingRepo) Get(ctx context.Context, tenantID, key string) (string, bool, error) {
	var v string
	err := r.db.QueryRow(ctx,
		`SELECT value FROM tenant_setting WHERE tenant_id = $1 AND key = $2`, tenantID, key,
	).Scan(&v)
	if err != nil {
		if err = mapErr(err); repository.IsNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return v, true, nil
}

func (r settingRepo) ListByPrefix(ctx context.Context, tenantID, prefix string) (map[string]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT key, value FROM tenant_setting WHERE tenant_id = $1 AND starts_with(key, $2)`,
		tenantID, prefix)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (r settingRepo) Set(ctx context.Context, tenantID, key, value string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO tenant_setting (tenant_id, key, value) VALUES ($1, $2, $3)
		 ON CONFLICT (tenant_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		tenantID, key, value)
	return mapErr(err)
}
