package pg

import (
	"context"

	"github.com/dropDatabas3/idcore/internal/domain/repository"
)

type roleRepo struct{ db dbtx }

const roleCols = `id, tenant_id, name, normalized_name, protected, created_at`

func scanRole(row interface{ Scan(...any) error }) (*repository.Role, error) {
	var r repository.Role
	if err := row.Scan(&r.ID, &r.TenantID, &r.Name, &r.NormalizedName, &r.Protected, &r.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &r, nil
}

func (r roleRepo) Create(ctx context.Context, role *repository.Role) error {
	role.ID = newID(role.ID)
	role.NormalizedName = repository.NormalizeRoleName(role.Name)
	err := r.db.QueryRow(ctx,
		`INSERT INTO role (id, tenant_id, name, normalized_name, protected)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		role.ID, role.TenantID, role.Name, role.NormalizedName, role.Protected,
	).Scan(&role.CreatedAt)
	return mapErr(err)
}

func (r roleRepo) GetByID(ctx context.Context, tenantID, id string) (*repository.Role, error) {
	return scanRole(r.db.QueryRow(ctx,
		`SELECT `+roleCols+` FROM role WHERE tenant_id = $1 AND id = $2`, tenantID, id))
}

func (r roleRepo) GetByName(ctx context.Context, tenantID, name string) (*repository.Role, error) {
	return scanRole(r.db.QueryRow(ctx,
		`SELECT `+roleCols+` FROM role WHERE tenant_id = $1 AND normalized_name = $2`,
		tenantID, repository.NormalizeRoleName(name)))
}

func (r roleRepo) List(ctx context.Context, tenantID string) ([]repository.Role, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+roleCols+` FROM role WHERE tenant_id = $1 ORDER BY normalized_name`, tenantID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []repository.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *role)
	}
	return out, rows.Err()
}

func (r roleRepo) Rename(ctx context.Context, tenantID, id, newName string) error {
	return affected(r.db.Exec(ctx,
		`UPDATE role SET name = $3, normalized_name = $4 WHERE tenant_id = $1 AND id = $2`,
		tenantID, id, newName, repository.NormalizeRoleName(newName)))
}

func (r roleRepo) Delete(ctx context.Context, tenantID, id string) error {
	return affected(r.db.Exec(ctx, `DELETE FROM role WHERE tenant_id = $1 AND id = $2`, tenantID, id))
}

// Assign verifica en la misma sentencia que rol y principal son del tenant.
func (r roleRepo) Assign(ctx context.Context, tenantID, roleID, principalID string) error {
	return affected(r.db.Exec(ctx, `
		INSERT INTO principal_role (tenant_id, role_id, principal_id)
		SELECT $1, r.id, p.id FROM role r, principal p
		WHERE r.tenant_id = $1 AND r.id = $2 AND p.tenant_id = $1 AND p.id = $3
		ON CONFLICT (role_id, principal_id) DO UPDATE SET tenant_id = EXCLUDED.tenant_id`,
		tenantID, roleID, principalID))
}

func (r roleRepo) Unassign(ctx context.Context, tenantID, roleID, principalID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM principal_role WHERE tenant_id = $1 AND role_id = $2 AND principal_id = $3`,
		tenantID, roleID, principalID)
	return mapErr(err)
}

func (r roleRepo) RolesOf(ctx context.Context, tenantID, principalID string) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT r.name FROM principal_role pr JOIN role r ON r.id = pr.role_id
		WHERE pr.tenant_id = $1 AND r.tenant_id = $1 AND pr.principal_id = $2
		ORDER BY r.name`, tenantID, principalID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
