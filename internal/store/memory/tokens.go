package memory

import (
	"context"
	"sort"
	"time"

	"github.com/dropDatabas3/idcore/internal/domain/repository"
)

type tokenRepo struct{ s *Store }

func (r tokenRepo) Insert(ctx context.Context, t *repository.SecurityToken) error {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	k := tokenKey(t.Kind, t.Hash)
	if _, dup := st.tokens[k]; dup {
		return repository.ErrConflict
	}
	p, ok := st.principals[t.PrincipalID]
	if !ok || p.TenantID != t.TenantID {
		return repository.ErrNotFound
	}
	t.ID = newID(t.ID)
	st.tokens[k] = *t
	return nil
}

func (r tokenRepo) GetByHash(ctx context.Context, kind repository.TokenKind, hash string) (*repository.SecurityToken, error) {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	t, ok := st.tokens[tokenKey(kind, hash)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

// Consume chequea y marca bajo el mismo lock: equivalente al UPDATE condicional de pg.
func (r tokenRepo) Consume(ctx context.Context, kind repository.TokenKind, hash string, now time.Time) (*repository.SecurityToken, error) {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	k := tokenKey(kind, hash)
	t, ok := st.tokens[k]
	if !ok || !t.ActiveAt(now) {
		return nil, repository.ErrNotConsumable
	}
	at := now
	t.Used = true
	t.UsedAt = &at
	st.tokens[k] = t
	return &t, nil
}

func (r tokenRepo) Revoke(ctx context.Context, kind repository.TokenKind, hash string, now time.Time) (bool, error) {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return false, err
	}
	defer unlock()
	k := tokenKey(kind, hash)
	t, ok := st.tokens[k]
	if !ok || t.Revoked {
		return false, nil
	}
	at := now
	t.Revoked = true
	t.RevokedAt = &at
	st.tokens[k] = t
	return true, nil
}

func (r tokenRepo) RevokeByPrincipal(ctx context.Context, tenantID, principalID string, now time.Time) (int, error) {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()
	n := 0
	for k, t := range st.tokens {
		if t.Kind != repository.TokenRefresh || t.TenantID != tenantID || t.PrincipalID != principalID || t.Revoked {
			continue
		}
		at := now
		t.Revoked = true
		t.RevokedAt = &at
		st.tokens[k] = t
		n++
	}
	return n, nil
}

func (r tokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()
	n := 0
	for k, t := range st.tokens {
		if !now.Before(t.ExpiresAt) || t.Used || t.Revoked {
			delete(st.tokens, k)
			n++
		}
	}
	return n, nil
}

type mfaRepo struct{ s *Store }

func (r mfaRepo) ReplaceBackupCodes(ctx context.Context, tenantID, principalID string, hashes []string, now time.Time) error {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	p, ok := st.principals[principalID]
	if !ok || p.TenantID != tenantID {
		return repository.ErrNotFound
	}
	codes := make([]repository.BackupCode, 0, len(hashes))
	for _, h := range hashes {
		codes = append(codes, repository.BackupCode{
			ID: newID(""), PrincipalID: principalID, TenantID: tenantID, Hash: h, CreatedAt: now,
		})
	}
	st.backup[principalID] = codes
	return nil
}

func (r mfaRepo) ConsumeBackupCode(ctx context.Context, tenantID, principalID, hash string, now time.Time) (bool, error) {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return false, err
	}
	defer unlock()
	codes := st.backup[principalID]
	for i := range codes {
		c := &codes[i]
		if c.TenantID == tenantID && c.Hash == hash && c.UsedAt == nil {
			at := now
			c.UsedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (r mfaRepo) DeleteBackupCodes(ctx context.Context, tenantID, principalID string) error {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	if p, ok := st.principals[principalID]; ok && p.TenantID == tenantID {
		delete(st.backup, principalID)
	}
	return nil
}

func (r mfaRepo) CountUnusedBackupCodes(ctx context.Context, tenantID, principalID string) (int, error) {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()
	n := 0
	for _, c := range st.backup[principalID] {
		if c.TenantID == tenantID && c.UsedAt == nil {
			n++
		}
	}
	return n, nil
}

type keyRepo struct{ s *Store }

func (r keyRepo) GetActive(ctx context.Context) (*repository.SigningKey, error) {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	now := time.Now().UTC()
	var act *repository.SigningKey
	for i := range st.keys {
		k := &st.keys[i]
		if k.Status == repository.KeyActive && !k.NotBefore.After(now) {
			if act == nil || k.NotBefore.After(act.NotBefore) {
				act = k
			}
		}
	}
	if act == nil {
		return nil, repository.ErrNotFound
	}
	cp := *act
	return &cp, nil
}

func (r keyRepo) ListPublic(ctx context.Context) ([]repository.SigningKey, error) {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	out := make([]repository.SigningKey, 0, len(st.keys))
	for _, k := range st.keys {
		if k.Status == repository.KeyActive || k.Status == repository.KeyRetiring {
			k.PrivateKey = nil
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Status != out[j].Status {
			return out[i].Status == repository.KeyActive
		}
		return out[i].NotBefore.After(out[j].NotBefore)
	})
	return out, nil
}

func (r keyRepo) Insert(ctx context.Context, k *repository.SigningKey) error {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	for _, ex := range st.keys {
		if ex.KID == k.KID {
			return repository.ErrConflict
		}
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	st.keys = append(st.keys, *k)
	return nil
}

func (r keyRepo) Rotate(ctx context.Context, next *repository.SigningKey) error {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	for i := range st.keys {
		switch st.keys[i].Status {
		case repository.KeyRetiring:
			st.keys[i].Status = repository.KeyRetired
		case repository.KeyActive:
			st.keys[i].Status = repository.KeyRetiring
		}
	}
	if next.CreatedAt.IsZero() {
		next.CreatedAt = time.Now().UTC()
	}
	next.Status = repository.KeyActive
	st.keys = append(st.keys, *next)
	return nil
}

type auditRepo struct{ s *Store }

func (r auditRepo) Append(ctx context.Context, e *repository.AuditEntry) error {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	e.ID = newID(e.ID)
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	st.audit = append(st.audit, *e)
	return nil
}

func (r auditRepo) GetByID(ctx context.Context, id string) (*repository.AuditEntry, error) {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	for _, e := range st.audit {
		if e.ID == id {
			e := e
			return &e, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r auditRepo) List(ctx context.Context, q repository.AuditQuery) ([]repository.AuditEntry, error) {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	var out []repository.AuditEntry
	for _, e := range st.audit {
		if q.TenantID != "" && e.TenantID != q.TenantID {
			continue
		}
		if q.PrincipalID != "" && e.PrincipalID != q.PrincipalID {
			continue
		}
		if !q.From.IsZero() && e.OccurredAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && !e.OccurredAt.Before(q.To) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
