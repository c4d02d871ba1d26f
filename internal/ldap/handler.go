// Package ldap expone simple bind sobre gldap. El DN se traduce a
// (usuario, tenant) y se valida igual que un login HTTP.
package ldap

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jimlambrt/gldap"

	"github.com/dropDatabas3/idcore/internal/credential"
	"github.com/dropDatabas3/idcore/internal/identifier"
	"github.com/dropDatabas3/idcore/internal/metrics"
	"github.com/dropDatabas3/idcore/internal/observability/logger"
	"github.com/dropDatabas3/idcore/internal/util"
)

const defaultBindTimeout = 10 * time.Second

type Validator interface {
	Login(ctx context.Context, tenantID, login, pwd string) (credential.Result, error)
}

type ValidatorFactory func(ctx context.Context) (Validator, error)

type Options struct {
	DefaultTenant string
	BindTimeout   time.Duration
}

type Handler struct {
	factory ValidatorFactory
	opt     Options
	base    context.Context
}

func NewHandler(f ValidatorFactory, opt Options) *Handler {
	if opt.BindTimeout <= 0 {
		opt.BindTimeout = defaultBindTimeout
	}
	return &Handler{factory: f, opt: opt, base: context.Background()}
}

// Bind atiende BindRequest. Todo lo que no sea éxito sale como
// InvalidCredentials, sin distinguir usuario inexistente de clave mala.
func (h *Handler) Bind(w *gldap.ResponseWriter, r *gldap.Request) {
	ctx, cancel := context.WithTimeout(h.base, h.opt.BindTimeout)
	defer cancel()
	ctx, log := logger.Scoped(ctx, "ldap", strconv.Itoa(r.ConnectionID())+"/"+strconv.Itoa(r.ID), "")

	resp := r.NewBindResponse(gldap.WithResponseCode(gldap.ResultInvalidCredentials))
	defer func() {
		if err := w.Write(resp); err != nil {
			log.Warn("ldap write failed", logger.Err(err))
		}
	}()

	m, err := r.GetSimpleBindMessage()
	if err != nil {
		log.Info("bind rejected", logger.Reason("not a simple bind"))
		metrics.RecordLDAPBind("reject")
		return
	}
	if m.UserName == "" || m.Password == "" {
		// bind anónimo o "unauthenticated bind" (RFC 4513 5.1.2)
		metrics.RecordLDAPBind("reject")
		return
	}

	user, tenantID := identifier.ResolveDN(m.UserName, h.opt.DefaultTenant)
	log = log.With(logger.Username(util.MaskIdentifier(user)), logger.TenantID(tenantID))
	if tenantID == "" {
		log.Info("bind rejected", logger.Reason("no tenant in dn"))
		metrics.RecordLDAPBind("reject")
		return
	}

	res, err := h.login(ctx, tenantID, user, string(m.Password))
	switch {
	case err != nil:
		log.Error("ldap login failed", logger.Err(err))
		metrics.RecordLDAPBind("error")
	case !res.OK:
		log.Info("bind rejected", logger.Reason(string(res.Reason)))
		metrics.RecordLDAPBind("reject")
	default:
		log.Info("bind ok", logger.PrincipalID(res.Identity.ID))
		metrics.RecordLDAPBind("success")
		resp.SetResultCode(gldap.ResultSuccess)
	}
}

func (h *Handler) login(ctx context.Context, tenantID, user, pwd string) (credential.Result, error) {
	v, err := h.factory(ctx)
	if err != nil {
		return credential.Result{}, err
	}
	return v.Login(ctx, tenantID, user, pwd)
}

// Unsupported responde UnwillingToPerform a cualquier operación sin ruta.
func (h *Handler) Unsupported(w *gldap.ResponseWriter, r *gldap.Request) {
	resp := r.NewResponse(gldap.WithResponseCode(gldap.ResultUnwillingToPerform),
		gldap.WithDiagnosticMessage("only simple bind is supported"))
	_ = w.Write(resp)
}

func StaticFactory(v Validator) ValidatorFactory {
	return func(context.Context) (Validator, error) {
		if v == nil {
			return nil, errors.New("ldap: nil validator")
		}
		return v, nil
	}
}
