package memory

import (
	"context"
	"sort"
	"time"

	"github.com/dropDatabas3/idcore/internal/domain/repository"
)

type principalRepo struct{ s *Store }

func (r principalRepo) Create(ctx context.Context, p *repository.Principal) error {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	if _, ok := st.tenants[p.TenantID]; !ok {
		return repository.ErrNotFound
	}
	for _, ex := range st.principals {
		if ex.TenantID != p.TenantID {
			continue
		}
		if fold(ex.Username) == fold(p.Username) || (p.Email != "" && fold(ex.Email) == fold(p.Email)) {
			return repository.ErrConflict
		}
	}
	p.ID = newID(p.ID)
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	st.principals[p.ID] = *p
	return nil
}

func (r principalRepo) GetByID(ctx context.Context, tenantID, id string) (*repository.Principal, error) {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	p, ok := st.principals[id]
	if !ok || p.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (r principalRepo) FindByLogin(ctx context.Context, tenantID, login string) (*repository.Principal, error) {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	l := fold(login)
	// username primero, email después (mismo orden que la query pg)
	var byEmail *repository.Principal
	for _, p := range st.principals {
		if p.TenantID != tenantID {
			continue
		}
		if fold(p.Username) == l {
			p := p
			return &p, nil
		}
		if byEmail == nil && fold(p.Email) == l {
			p := p
			byEmail = &p
		}
	}
	if byEmail != nil {
		return byEmail, nil
	}
	return nil, repository.ErrNotFound
}

func (r principalRepo) GetByEmail(ctx context.Context, tenantID, email string) (*repository.Principal, error) {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	for _, p := range st.principals {
		if p.TenantID == tenantID && fold(p.Email) == fold(email) {
			p := p
			return &p, nil
		}
	}
	return nil, repository.ErrNotFound
}

// update aplica fn al principal bajo lock.
func (r principalRepo) update(ctx context.Context, tenantID, id string, fn func(p *repository.Principal)) error {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	p, ok := st.principals[id]
	if !ok || p.TenantID != tenantID {
		return repository.ErrNotFound
	}
	fn(&p)
	p.UpdatedAt = time.Now().UTC()
	st.principals[id] = p
	return nil
}

func (r principalRepo) UpdatePassword(ctx context.Context, tenantID, id, hash string) error {
	return r.update(ctx, tenantID, id, func(p *repository.Principal) { p.PasswordHash = hash })
}

func (r principalRepo) SetActive(ctx context.Context, tenantID, id string, active bool) error {
	return r.update(ctx, tenantID, id, func(p *repository.Principal) { p.Active = active })
}

func (r principalRepo) RegisterFailure(ctx context.Context, tenantID, id string, maxAttempts int, lockFor time.Duration, now time.Time) (bool, error) {
	locked := false
	err := r.update(ctx, tenantID, id, func(p *repository.Principal) {
		p.FailedAttempts++
		if maxAttempts > 0 && p.FailedAttempts >= maxAttempts {
			until := now.Add(lockFor)
			p.LockedUntil = &until
			p.FailedAttempts = 0
			locked = true
		}
	})
	return locked, err
}

func (r principalRepo) ResetFailures(ctx context.Context, tenantID, id string) error {
	return r.update(ctx, tenantID, id, func(p *repository.Principal) {
		p.FailedAttempts = 0
		p.LockedUntil = nil
	})
}

func (r principalRepo) SetTOTP(ctx context.Context, tenantID, id string, secret *string, enabled bool) error {
	return r.update(ctx, tenantID, id, func(p *repository.Principal) {
		p.TOTPSecret = secret
		p.MFAEnabled = enabled
		p.TOTPLastCounter = nil
	})
}

func (r principalRepo) AdvanceTOTPCounter(ctx context.Context, tenantID, id string, counter int64) (bool, error) {
	advanced := false
	err := r.update(ctx, tenantID, id, func(p *repository.Principal) {
		if p.TOTPLastCounter != nil && counter <= *p.TOTPLastCounter {
			return
		}
		c := counter
		p.TOTPLastCounter = &c
		advanced = true
	})
	return advanced, err
}

func (r principalRepo) Delete(ctx context.Context, tenantID, id string) error {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	p, ok := st.principals[id]
	if !ok || p.TenantID != tenantID {
		return repository.ErrNotFound
	}
	delete(st.principals, id)
	delete(st.history, id)
	delete(st.backup, id)
	for _, set := range st.assignments {
		delete(set, id)
	}
	for k, t := range st.tokens {
		if t.PrincipalID == id {
			delete(st.tokens, k)
		}
	}
	return nil
}

type historyRepo struct{ s *Store }

func (r historyRepo) Add(ctx context.Context, e *repository.PasswordHistoryEntry) error {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	p, ok := st.principals[e.PrincipalID]
	if !ok || p.TenantID != e.TenantID {
		return repository.ErrNotFound
	}
	e.ID = newID(e.ID)
	if e.SetAt.IsZero() {
		e.SetAt = time.Now().UTC()
	}
	st.history[e.PrincipalID] = append(st.history[e.PrincipalID], *e)
	return nil
}

func (r historyRepo) List(ctx context.Context, tenantID, principalID string) ([]repository.PasswordHistoryEntry, error) {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	var out []repository.PasswordHistoryEntry
	for _, e := range st.history[principalID] {
		if e.TenantID == tenantID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SetAt.After(out[j].SetAt) })
	return out, nil
}

func (r historyRepo) Supersede(ctx context.Context, tenantID, principalID string, at time.Time) error {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	rows := st.history[principalID]
	for i := range rows {
		if rows[i].TenantID == tenantID && rows[i].SupersededAt == nil {
			t := at
			rows[i].SupersededAt = &t
		}
	}
	return nil
}

func (r historyRepo) Prune(ctx context.Context, tenantID, principalID string, keep int) (int, error) {
	st, unlock, err := r.s.lock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()
	if keep < 0 {
		keep = 0
	}
	var mine, others []repository.PasswordHistoryEntry
	for _, e := range st.history[principalID] {
		if e.TenantID == tenantID {
			mine = append(mine, e)
		} else {
			others = append(others, e)
		}
	}
	if len(mine) <= keep {
		return 0, nil
	}
	// más nuevo primero; la fila vigente (sin supersession) es la más nueva
	sort.SliceStable(mine, func(i, j int) bool {
		a, b := mine[i].SupersededAt, mine[j].SupersededAt
		switch {
		case a == nil && b == nil:
			return mine[i].SetAt.After(mine[j].SetAt)
		case a == nil:
			return true
		case b == nil:
			return false
		}
		return a.After(*b)
	})
	removed := len(mine) - keep
	st.history[principalID] = append(others, mine[:keep]...)
	return removed, nil
}
