// Package credential es el único punto de validación de credenciales.
// HTTP, RADIUS y LDAP pasan por Validator.Login.
package credential

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/dropDatabas3/idcore/internal/domain/repository"
	"github.com/dropDatabas3/idcore/internal/events"
	"github.com/dropDatabas3/idcore/internal/observability/logger"
	"github.com/dropDatabas3/idcore/internal/security/password"
	"github.com/dropDatabas3/idcore/internal/util"
)

const (
	DefaultMaxAttempts     = 5
	DefaultLockoutDuration = 15 * time.Minute
)

// Reason explica un rechazo. Los adapters muestran un mensaje genérico para
// todos salvo ReasonExpired; el detalle queda en logs y métricas.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonInvalidCredentials Reason = "invalid_credentials"
	ReasonTenantUnavailable  Reason = "tenant_unavailable"
	ReasonInactive           Reason = "inactive"
	ReasonLocked             Reason = "locked"
	ReasonExpired            Reason = "expired"
)

var (
	ErrDuplicate          = errors.New("credential: duplicate principal")
	ErrTenantUnavailable  = errors.New("credential: tenant not found or inactive")
	ErrInvalidCredentials = errors.New("credential: invalid credentials")
)

// Identity es la proyección del principal que consume la emisión de tokens.
type Identity struct {
	ID         string
	TenantID   string
	Username   string
	Email      string
	MFAEnabled bool
	Roles      []string
}

// Result de Login. Es un valor: un rechazo nunca es error.
type Result struct {
	OK       bool
	Reason   Reason
	Identity *Identity
}

func fail(r Reason) Result { return Result{Reason: r} }

type Options struct {
	MaxAttempts     int
	LockoutDuration time.Duration
	Publisher       events.Publisher
	Now             func() time.Time
}

type Validator struct {
	store  repository.Store
	policy *password.Engine
	pub    events.Publisher
	max    int
	lock   time.Duration
	now    func() time.Time

	dummyOnce sync.Once
	dummy     string
}

func NewValidator(store repository.Store, policy *password.Engine, opt Options) *Validator {
	v := &Validator{
		store:  store,
		policy: policy,
		pub:    opt.Publisher,
		max:    opt.MaxAttempts,
		lock:   opt.LockoutDuration,
		now:    opt.Now,
	}
	if v.pub == nil {
		v.pub = events.Nop{}
	}
	if v.max <= 0 {
		v.max = DefaultMaxAttempts
	}
	if v.lock <= 0 {
		v.lock = DefaultLockoutDuration
	}
	if v.now == nil {
		v.now = time.Now
	}
	return v
}

// burn iguala el costo de un principal inexistente al de un password incorrecto.
func (v *Validator) burn(pwd string) {
	v.dummyOnce.Do(func() {
		v.dummy, _ = v.policy.Hasher().Hash("idcore-timing-equalizer")
	})
	_ = v.policy.Hasher().Verify(pwd, v.dummy)
}

func (v *Validator) tenantActive(ctx context.Context, tenantID string) (bool, error) {
	if strings.TrimSpace(tenantID) == "" {
		return false, nil
	}
	t, err := v.store.Tenants().GetByID(ctx, tenantID)
	if err != nil {
		if repository.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return t.Active, nil
}

// Login valida (tenant, identificador, password). El identificador es username
// o email, case-insensitive. Errores solo para fallas de infraestructura.
func (v *Validator) Login(ctx context.Context, tenantID, login, pwd string) (Result, error) {
	log := logger.From(ctx).With(logger.TenantID(tenantID), logger.Username(util.MaskIdentifier(login)))
	login = strings.TrimSpace(login)
	if login == "" || pwd == "" {
		return fail(ReasonInvalidCredentials), nil
	}
	ok, err := v.tenantActive(ctx, tenantID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		log.Info("login rejected", logger.Reason(string(ReasonTenantUnavailable)))
		return fail(ReasonTenantUnavailable), nil
	}

	p, err := v.store.Principals().FindByLogin(ctx, tenantID, login)
	if err != nil {
		if repository.IsNotFound(err) {
			v.burn(pwd)
			log.Info("login rejected", logger.Reason(string(ReasonInvalidCredentials)))
			return fail(ReasonInvalidCredentials), nil
		}
		return Result{}, err
	}
	log = log.With(logger.PrincipalID(p.ID))
	now := v.now()

	if !p.Active {
		log.Info("login rejected", logger.Reason(string(ReasonInactive)))
		return fail(ReasonInactive), nil
	}
	if p.IsLocked(now) {
		log.Info("login rejected", logger.Reason(string(ReasonLocked)))
		return fail(ReasonLocked), nil
	}

	hasher := v.policy.Hasher()
	if !hasher.Verify(pwd, p.PasswordHash) {
		locked, err := v.store.Principals().RegisterFailure(ctx, tenantID, p.ID, v.max, v.lock, now)
		if err != nil {
			return Result{}, err
		}
		if locked {
			log.Warn("principal locked out", logger.Count(v.max))
		}
		log.Info("login rejected", logger.Reason(string(ReasonInvalidCredentials)))
		return fail(ReasonInvalidCredentials), nil
	}

	expired, err := v.policy.IsExpired(ctx, tenantID, p.ID)
	if err != nil {
		return Result{}, err
	}
	if expired {
		log.Info("login rejected", logger.Reason(string(ReasonExpired)))
		return fail(ReasonExpired), nil
	}

	if p.FailedAttempts > 0 || p.LockedUntil != nil {
		if err := v.store.Principals().ResetFailures(ctx, tenantID, p.ID); err != nil {
			return Result{}, err
		}
	}
	if hasher.NeedsRehash(p.PasswordHash) {
		v.rehash(ctx, p, pwd)
	}

	roles, err := v.store.Roles().RolesOf(ctx, tenantID, p.ID)
	if err != nil {
		return Result{}, err
	}
	return Result{OK: true, Identity: identityOf(p, roles)}, nil
}

// rehash sube el hash a los parámetros actuales. Best effort: el login ya fue válido.
func (v *Validator) rehash(ctx context.Context, p *repository.Principal, pwd string) {
	h, err := v.policy.Hasher().Hash(pwd)
	if err == nil {
		err = v.store.Principals().UpdatePassword(ctx, p.TenantID, p.ID, h)
	}
	if err != nil {
		logger.From(ctx).Warn("password rehash failed", logger.PrincipalID(p.ID), logger.Err(err))
		return
	}
	logger.From(ctx).Debug("password rehashed", logger.PrincipalID(p.ID))
}

func identityOf(p *repository.Principal, roles []string) *Identity {
	if roles == nil {
		roles = []string{}
	}
	return &Identity{
		ID:         p.ID,
		TenantID:   p.TenantID,
		Username:   p.Username,
		Email:      p.Email,
		MFAEnabled: p.MFAEnabled,
		Roles:      roles,
	}
}

// Lookup devuelve la identidad actual (con roles) de un principal activo de
// un tenant activo. La usan el refresh, la introspección y el grant MFA.
func (v *Validator) Lookup(ctx context.Context, tenantID, principalID string) (*Identity, error) {
	ok, err := v.tenantActive(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTenantUnavailable
	}
	p, err := v.store.Principals().GetByID(ctx, tenantID, principalID)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, ErrInvalidCredentials
	}
	roles, err := v.store.Roles().RolesOf(ctx, tenantID, p.ID)
	if err != nil {
		return nil, err
	}
	return identityOf(p, roles), nil
}
