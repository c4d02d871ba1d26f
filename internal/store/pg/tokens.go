package pg

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dropDatabas3/idcore/internal/domain/repository"
)

type tokenRepo struct{ db dbtx }

const tokenCols = `id, kind, principal_id, tenant_id, encrypted, token_hash, scope, issued_at, expires_at,
	used, used_at, revoked, revoked_at, client_id, redirect_uri, state, code_challenge, code_challenge_method`

func scanToken(row interface{ Scan(...any) error }) (*repository.SecurityToken, error) {
	var (
		t                                  repository.SecurityToken
		kind                               string
		clientID, redirect, state, cc, ccm *string
	)
	err := row.Scan(&t.ID, &kind, &t.PrincipalID, &t.TenantID, &t.Encrypted, &t.Hash, &t.Scope,
		&t.IssuedAt, &t.ExpiresAt, &t.Used, &t.UsedAt, &t.Revoked, &t.RevokedAt,
		&clientID, &redirect, &state, &cc, &ccm)
	if err != nil {
		return nil, mapErr(err)
	}
	t.Kind = repository.TokenKind(kind)
	if t.Kind == repository.TokenAuthorizationCode {
		t.Code = &repository.AuthCodeExtras{
			ClientID:            deref(clientID),
			RedirectURI:         deref(redirect),
			Scope:               t.Scope,
			State:               deref(state),
			CodeChallenge:       deref(cc),
			CodeChallengeMethod: deref(ccm),
		}
	}
	return &t, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (r tokenRepo) Insert(ctx context.Context, t *repository.SecurityToken) error {
	t.ID = newID(t.ID)
	var clientID, redirect, state, cc, ccm *string
	if c := t.Code; c != nil {
		clientID, redirect, state, cc, ccm = &c.ClientID, &c.RedirectURI, &c.State, &c.CodeChallenge, &c.CodeChallengeMethod
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO security_token (id, kind, principal_id, tenant_id, encrypted, token_hash, scope,
			issued_at, expires_at, client_id, redirect_uri, state, code_challenge, code_challenge_method)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		t.ID, string(t.Kind), t.PrincipalID, t.TenantID, t.Encrypted, t.Hash, t.Scope,
		t.IssuedAt, t.ExpiresAt, clientID, redirect, state, cc, ccm)
	return mapErr(err)
}

func (r tokenRepo) GetByHash(ctx context.Context, kind repository.TokenKind, hash string) (*repository.SecurityToken, error) {
	return scanToken(r.db.QueryRow(ctx,
		`SELECT `+tokenCols+` FROM security_token WHERE kind = $1 AND token_hash = $2`, string(kind), hash))
}

// Consume es un único UPDATE condicional: bajo concurrencia solo una sentencia
// encuentra used = FALSE y devuelve la fila.
func (r tokenRepo) Consume(ctx context.Context, kind repository.TokenKind, hash string, now time.Time) (*repository.SecurityToken, error) {
	t, err := scanToken(r.db.QueryRow(ctx, `
		UPDATE security_token SET used = TRUE, used_at = $3
		WHERE kind = $1 AND token_hash = $2 AND NOT used AND NOT revoked AND expires_at > $3
		RETURNING `+tokenCols, string(kind), hash, now))
	if repository.IsNotFound(err) {
		return nil, repository.ErrNotConsumable
	}
	return t, err
}

func (r tokenRepo) Revoke(ctx context.Context, kind repository.TokenKind, hash string, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE security_token SET revoked = TRUE, revoked_at = $3
		 WHERE kind = $1 AND token_hash = $2 AND NOT revoked`, string(kind), hash, now)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r tokenRepo) RevokeByPrincipal(ctx context.Context, tenantID, principalID string, now time.Time) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE security_token SET revoked = TRUE, revoked_at = $3
		 WHERE tenant_id = $1 AND principal_id = $2 AND kind = 'refresh_token' AND NOT revoked`,
		tenantID, principalID, now)
	if err != nil {
		return 0, mapErr(err)
	}
	return int(tag.RowsAffected()), nil
}

func (r tokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM security_token WHERE expires_at <= $1 OR used OR revoked`, now)
	if err != nil {
		return 0, mapErr(err)
	}
	return int(tag.RowsAffected()), nil
}

type mfaRepo struct{ db dbtx }

func (r mfaRepo) ReplaceBackupCodes(ctx context.Context, tenantID, principalID string, hashes []string, now time.Time) error {
	if _, err := r.db.Exec(ctx,
		`DELETE FROM mfa_backup_code WHERE tenant_id = $1 AND principal_id = $2`, tenantID, principalID); err != nil {
		return mapErr(err)
	}
	for _, h := range hashes {
		if _, err := r.db.Exec(ctx,
			`INSERT INTO mfa_backup_code (id, principal_id, tenant_id, hash, created_at) VALUES ($1, $2, $3, $4, $5)`,
			newID(""), principalID, tenantID, h, now); err != nil {
			return mapErr(err)
		}
	}
	return nil
}

func (r mfaRepo) ConsumeBackupCode(ctx context.Context, tenantID, principalID, hash string, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE mfa_backup_code SET used_at = $4
		WHERE id = (
			SELECT id FROM mfa_backup_code
			WHERE tenant_id = $1 AND principal_id = $2 AND hash = $3 AND used_at IS NULL
			LIMIT 1 FOR UPDATE SKIP LOCKED
		) AND used_at IS NULL`, tenantID, principalID, hash, now)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r mfaRepo) DeleteBackupCodes(ctx context.Context, tenantID, principalID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM mfa_backup_code WHERE tenant_id = $1 AND principal_id = $2`, tenantID, principalID)
	return mapErr(err)
}

func (r mfaRepo) CountUnusedBackupCodes(ctx context.Context, tenantID, principalID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM mfa_backup_code WHERE tenant_id = $1 AND principal_id = $2 AND used_at IS NULL`,
		tenantID, principalID).Scan(&n)
	return n, mapErr(err)
}

type keyRepo struct {
	db dbtx
	s  *Store
}

const keyCols = `kid, alg, public_key, private_key, status, not_before, created_at`

func scanKey(row interface{ Scan(...any) error }) (*repository.SigningKey, error) {
	var (
		k      repository.SigningKey
		status string
	)
	if err := row.Scan(&k.KID, &k.Alg, &k.PublicKey, &k.PrivateKey, &status, &k.NotBefore, &k.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	k.Status = repository.KeyStatus(status)
	return &k, nil
}

func (r keyRepo) GetActive(ctx context.Context) (*repository.SigningKey, error) {
	return scanKey(r.db.QueryRow(ctx, `SELECT `+keyCols+` FROM signing_key
		WHERE status = 'active' AND not_before <= NOW() ORDER BY not_before DESC LIMIT 1`))
}

func (r keyRepo) ListPublic(ctx context.Context) ([]repository.SigningKey, error) {
	rows, err := r.db.Query(ctx, `SELECT `+keyCols+` FROM signing_key
		WHERE status IN ('active','retiring')
		ORDER BY CASE status WHEN 'active' THEN 0 ELSE 1 END, not_before DESC`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []repository.SigningKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		k.PrivateKey = nil
		out = append(out, *k)
	}
	return out, rows.Err()
}

func (r keyRepo) Insert(ctx context.Context, k *repository.SigningKey) error {
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, `INSERT INTO signing_key (`+keyCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		k.KID, k.Alg, k.PublicKey, k.PrivateKey, string(k.Status), k.NotBefore, k.CreatedAt)
	return mapErr(err)
}

func (r keyRepo) Rotate(ctx context.Context, next *repository.SigningKey) error {
	return r.s.WithTx(ctx, func(tx repository.Store) error {
		db := tx.(*Store).db
		if _, err := db.Exec(ctx, `UPDATE signing_key SET status = 'retired' WHERE status = 'retiring'`); err != nil {
			return mapErr(err)
		}
		if _, err := db.Exec(ctx, `UPDATE signing_key SET status = 'retiring' WHERE status = 'active'`); err != nil {
			return mapErr(err)
		}
		next.Status = repository.KeyActive
		return keyRepo{db: db}.Insert(ctx, next)
	})
}

type auditRepo struct{ db dbtx }

func (r auditRepo) Append(ctx context.Context, e *repository.AuditEntry) error {
	e.ID = newID(e.ID)
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(e.Data)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO audit_log (id, tenant_id, principal_id, action, data, occurred_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.TenantID, e.PrincipalID, e.Action, data, e.OccurredAt)
	return mapErr(err)
}

func scanAudit(row interface{ Scan(...any) error }) (*repository.AuditEntry, error) {
	var (
		e    repository.AuditEntry
		data []byte
	)
	if err := row.Scan(&e.ID, &e.TenantID, &e.PrincipalID, &e.Action, &data, &e.OccurredAt); err != nil {
		return nil, mapErr(err)
	}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &e.Data)
	}
	return &e, nil
}

func (r auditRepo) GetByID(ctx context.Context, id string) (*repository.AuditEntry, error) {
	return scanAudit(r.db.QueryRow(ctx,
		`SELECT id, tenant_id, principal_id, action, data, occurred_at FROM audit_log WHERE id = $1`, id))
}

func (r auditRepo) List(ctx context.Context, q repository.AuditQuery) ([]repository.AuditEntry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	var from, to *time.Time
	if !q.From.IsZero() {
		from = &q.From
	}
	if !q.To.IsZero() {
		to = &q.To
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, tenant_id, principal_id, action, data, occurred_at FROM audit_log
		WHERE ($1 = '' OR tenant_id = $1)
		  AND ($2 = '' OR principal_id = $2)
		  AND ($3::timestamptz IS NULL OR occurred_at >= $3)
		  AND ($4::timestamptz IS NULL OR occurred_at < $4)
		ORDER BY occurred_at DESC
		LIMIT $5`, q.TenantID, q.PrincipalID, from, to, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []repository.AuditEntry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}
