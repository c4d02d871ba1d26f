package password

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/idcore/internal/domain/repository"
	"github.com/dropDatabas3/idcore/internal/observability/logger"
)

// Engine aplica la política del tenant: complejidad, expiración e historial.
// Opera sobre el Store que recibe; dentro de una transacción usar Tx(tx).
type Engine struct {
	store     repository.Store
	hasher    *Hasher
	blacklist *Blacklist
	now       func() time.Time
}

type EngineOption func(*Engine)

func WithBlacklist(b *Blacklist) EngineOption { return func(e *Engine) { e.blacklist = b } }

func WithClock(now func() time.Time) EngineOption { return func(e *Engine) { e.now = now } }

func NewEngine(store repository.Store, hasher *Hasher, opts ...EngineOption) *Engine {
	if hasher == nil {
		hasher = NewHasher(Default)
	}
	e := &Engine{store: store, hasher: hasher, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Tx devuelve una copia del engine atada al Store transaccional.
func (e *Engine) Tx(tx repository.Store) *Engine {
	cp := *e
	cp.store = tx
	return &cp
}

func (e *Engine) Hasher() *Hasher { return e.hasher }

// GetPolicy nunca falla: si no se pueden leer los settings usa los defaults,
// un tenant mal configurado no debe bloquear a todos sus principals.
func (e *Engine) GetPolicy(ctx context.Context, tenantID string) Policy {
	s, err := e.store.Settings().ListByPrefix(ctx, tenantID, SettingsPrefix)
	if err != nil {
		logger.From(ctx).Warn("password policy settings unavailable, using defaults",
			logger.TenantID(tenantID), logger.Err(err))
		return DefaultPolicy()
	}
	return PolicyFromSettings(s)
}

// Validate devuelve todas las violaciones de complejidad del tenant.
func (e *Engine) Validate(ctx context.Context, tenantID, pwd string) Violations {
	v := e.GetPolicy(ctx, tenantID).Validate(pwd)
	if pwd != "" && e.blacklist.Contains(pwd) {
		v = append(v, Violation{Code: CodeCommonPassword, Message: "password is too common"})
	}
	return v
}

// IsExpired: lifetime 0 => false; sin historial => false (no se puede saber).
func (e *Engine) IsExpired(ctx context.Context, tenantID, principalID string) (bool, error) {
	p := e.GetPolicy(ctx, tenantID)
	if p.MaxLifetimeDays == 0 {
		return false, nil
	}
	rows, err := e.store.History().List(ctx, tenantID, principalID)
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, nil
	}
	changedAt := rows[0].SetAt
	lifetime := time.Duration(p.MaxLifetimeDays) * 24 * time.Hour
	return e.now().Sub(changedAt) > lifetime, nil
}

// IsInHistory compara el hash exacto contra las filas guardadas.
func (e *Engine) IsInHistory(ctx context.Context, tenantID, principalID, hash string) (bool, error) {
	if !e.GetPolicy(ctx, tenantID).HistoryEnabled {
		return false, nil
	}
	rows, err := e.store.History().List(ctx, tenantID, principalID)
	if err != nil {
		return false, err
	}
	for _, r := range rows {
		if r.Hash == hash {
			return true, nil
		}
	}
	return false, nil
}

// IsReused verifica el plaintext contra cada hash guardado (los hashes llevan salt,
// así que un hash nuevo nunca coincide exacto).
func (e *Engine) IsReused(ctx context.Context, tenantID, principalID, plain string) (bool, error) {
	p := e.GetPolicy(ctx, tenantID)
	if !p.HistoryEnabled {
		return false, nil
	}
	rows, err := e.store.History().List(ctx, tenantID, principalID)
	if err != nil {
		return false, err
	}
	for i, r := range rows {
		if i >= p.HistoryCount {
			break
		}
		if e.hasher.Verify(plain, r.Hash) {
			return true, nil
		}
	}
	return false, nil
}

// Record marca la fila vigente como reemplazada, guarda hash como vigente y poda.
func (e *Engine) Record(ctx context.Context, tenantID, principalID, hash string) error {
	now := e.now().UTC()
	h := e.store.History()
	if err := h.Supersede(ctx, tenantID, principalID, now); err != nil {
		return err
	}
	if err := h.Add(ctx, &repository.PasswordHistoryEntry{
		PrincipalID: principalID,
		TenantID:    tenantID,
		Hash:        hash,
		SetAt:       now,
	}); err != nil {
		return err
	}
	keep := 1
	if p := e.GetPolicy(ctx, tenantID); p.HistoryEnabled {
		keep = p.HistoryCount
	}
	_, err := e.Cleanup(ctx, tenantID, principalID, keep)
	return err
}

// Cleanup borra las filas que exceden keep, las más viejas por supersession primero.
func (e *Engine) Cleanup(ctx context.Context, tenantID, principalID string, keep int) (int, error) {
	n, err := e.store.History().Prune(ctx, tenantID, principalID, keep)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.From(ctx).Debug("password history pruned",
			logger.TenantID(tenantID), logger.PrincipalID(principalID), zap.Int("removed", n))
	}
	return n, nil
}
