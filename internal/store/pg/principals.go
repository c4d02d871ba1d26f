package pg

import (
	"context"
	"time"

	"github.com/dropDatabas3/idcore/internal/domain/repository"
)

type principalRepo struct{ db dbtx }

const principalCols = `id, tenant_id, username, email, password_hash, active, mfa_enabled,
	totp_secret, totp_last_counter, failed_attempts, locked_until, created_at, updated_at`

func scanPrincipal(row interface{ Scan(...any) error }) (*repository.Principal, error) {
	var p repository.Principal
	err := row.Scan(&p.ID, &p.TenantID, &p.Username, &p.Email, &p.PasswordHash, &p.Active, &p.MFAEnabled,
		&p.TOTPSecret, &p.TOTPLastCounter, &p.FailedAttempts, &p.LockedUntil, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (r principalRepo) Create(ctx context.Context, p *repository.Principal) error {
	p.ID = newID(p.ID)
	err := r.db.QueryRow(ctx,
		`INSERT INTO principal (id, tenant_id, username, email, password_hash, active)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at, updated_at`,
		p.ID, p.TenantID, p.Username, p.Email, p.PasswordHash, p.Active,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return mapErr(err)
}

func (r principalRepo) GetByID(ctx context.Context, tenantID, id string) (*repository.Principal, error) {
	return scanPrincipal(r.db.QueryRow(ctx,
		`SELECT `+principalCols+` FROM principal WHERE tenant_id = $1 AND id = $2`, tenantID, id))
}

// FindByLogin prioriza el match por username sobre el match por email.
func (r principalRepo) FindByLogin(ctx context.Context, tenantID, login string) (*repository.Principal, error) {
	return scanPrincipal(r.db.QueryRow(ctx,
		`SELECT `+principalCols+` FROM principal
		 WHERE tenant_id = $1 AND (LOWER(username) = LOWER($2) OR LOWER(email) = LOWER($2))
		 ORDER BY (LOWER(username) = LOWER($2)) DESC
		 LIMIT 1`, tenantID, login))
}

func (r principalRepo) GetByEmail(ctx context.Context, tenantID, email string) (*repository.Principal, error) {
	return scanPrincipal(r.db.QueryRow(ctx,
		`SELECT `+principalCols+` FROM principal WHERE tenant_id = $1 AND LOWER(email) = LOWER($2)`,
		tenantID, email))
}

func (r principalRepo) UpdatePassword(ctx context.Context, tenantID, id, hash string) error {
	return affected(r.db.Exec(ctx,
		`UPDATE principal SET password_hash = $3, updated_at = NOW() WHERE tenant_id = $1 AND id = $2`,
		tenantID, id, hash))
}

func (r principalRepo) SetActive(ctx context.Context, tenantID, id string, active bool) error {
	return affected(r.db.Exec(ctx,
		`UPDATE principal SET active = $3, updated_at = NOW() WHERE tenant_id = $1 AND id = $2`,
		tenantID, id, active))
}

func (r principalRepo) RegisterFailure(ctx context.Context, tenantID, id string, maxAttempts int, lockFor time.Duration, now time.Time) (bool, error) {
	var locked bool
	err := r.db.QueryRow(ctx, `
		UPDATE principal SET
			failed_attempts = CASE WHEN $3 > 0 AND failed_attempts + 1 >= $3 THEN 0 ELSE failed_attempts + 1 END,
			locked_until    = CASE WHEN $3 > 0 AND failed_attempts + 1 >= $3 THEN $4::timestamptz ELSE locked_until END,
			updated_at      = NOW()
		WHERE tenant_id = $1 AND id = $2
		RETURNING locked_until IS NOT NULL AND locked_until = $4::timestamptz`,
		tenantID, id, maxAttempts, now.Add(lockFor),
	).Scan(&locked)
	if err != nil {
		return false, mapErr(err)
	}
	return locked, nil
}

func (r principalRepo) ResetFailures(ctx context.Context, tenantID, id string) error {
	return affected(r.db.Exec(ctx,
		`UPDATE principal SET failed_attempts = 0, locked_until = NULL WHERE tenant_id = $1 AND id = $2`,
		tenantID, id))
}

func (r principalRepo) SetTOTP(ctx context.Context, tenantID, id string, secret *string, enabled bool) error {
	return affected(r.db.Exec(ctx,
		`UPDATE principal SET totp_secret = $3, mfa_enabled = $4, totp_last_counter = NULL, updated_at = NOW()
		 WHERE tenant_id = $1 AND id = $2`,
		tenantID, id, secret, enabled))
}

// AdvanceTOTPCounter: el WHERE condicional hace que solo un request gane el paso.
func (r principalRepo) AdvanceTOTPCounter(ctx context.Context, tenantID, id string, counter int64) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE principal SET totp_last_counter = $3
		 WHERE tenant_id = $1 AND id = $2 AND (totp_last_counter IS NULL OR totp_last_counter < $3)`,
		tenantID, id, counter)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r principalRepo) Delete(ctx context.Context, tenantID, id string) error {
	return affected(r.db.Exec(ctx, `DELETE FROM principal WHERE tenant_id = $1 AND id = $2`, tenantID, id))
}

type historyRepo struct{ db dbtx }

func (r historyRepo) Add(ctx context.Context, e *repository.PasswordHistoryEntry) error {
	e.ID = newID(e.ID)
	if e.SetAt.IsZero() {
		e.SetAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO password_history (id, principal_id, tenant_id, hash, set_at, superseded_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.PrincipalID, e.TenantID, e.Hash, e.SetAt, e.SupersededAt)
	return mapErr(err)
}

func (r historyRepo) List(ctx context.Context, tenantID, principalID string) ([]repository.PasswordHistoryEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, principal_id, tenant_id, hash, set_at, superseded_at FROM password_history
		 WHERE tenant_id = $1 AND principal_id = $2 ORDER BY set_at DESC`,
		tenantID, principalID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []repository.PasswordHistoryEntry
	for rows.Next() {
		var e repository.PasswordHistoryEntry
		if err := rows.Scan(&e.ID, &e.PrincipalID, &e.TenantID, &e.Hash, &e.SetAt, &e.SupersededAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r historyRepo) Supersede(ctx context.Context, tenantID, principalID string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE password_history SET superseded_at = $3
		 WHERE tenant_id = $1 AND principal_id = $2 AND superseded_at IS NULL`,
		tenantID, principalID, at)
	return mapErr(err)
}

func (r historyRepo) Prune(ctx context.Context, tenantID, principalID string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	tag, err := r.db.Exec(ctx, `
		DELETE FROM password_history WHERE id IN (
			SELECT id FROM password_history
			WHERE tenant_id = $1 AND principal_id = $2
			ORDER BY superseded_at DESC NULLS FIRST, set_at DESC
			OFFSET $3
		)`, tenantID, principalID, keep)
	if err != nil {
		return 0, mapErr(err)
	}
	return int(tag.RowsAffected()), nil
}
