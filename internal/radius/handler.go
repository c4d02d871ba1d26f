// Package radius atiende Access-Request y Accounting-Request (RFC 2865/2866)
// sobre el mismo camino de validación que la API HTTP.
package radius

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
	"layeh.com/radius/rfc2866"
	"layeh.com/radius/rfc2869"

	"github.com/dropDatabas3/idcore/internal/credential"
	"github.com/dropDatabas3/idcore/internal/metrics"
	"github.com/dropDatabas3/idcore/internal/observability/logger"
	"github.com/dropDatabas3/idcore/internal/util"
)

const (
	DefaultSessionTimeout  = 8 * time.Hour
	DefaultInterimInterval = 10 * time.Minute
)

// Validator es la parte de credential.Validator que usa el adapter.
type Validator interface {
	Login(ctx context.Context, tenantID, login, pwd string) (credential.Result, error)
}

// ValidatorFactory entrega un validator por paquete; el handler no guarda
// estado de un request a otro.
type ValidatorFactory func(ctx context.Context) (Validator, error)

// LoginResolver separa usuario y tenant de un User-Name.
type LoginResolver interface {
	ResolveLogin(ctx context.Context, raw, defaultTenant string) (login, tenantID string)
}

type Options struct {
	DefaultTenant   string
	SessionTimeout  time.Duration // 0 => DefaultSessionTimeout, <0 => no se envía
	InterimInterval time.Duration // 0 => DefaultInterimInterval, <0 => no se envía
}

type Handler struct {
	factory ValidatorFactory
	realms  LoginResolver
	opt     Options
}

func NewHandler(f ValidatorFactory, realms LoginResolver, opt Options) *Handler {
	if opt.SessionTimeout == 0 {
		opt.SessionTimeout = DefaultSessionTimeout
	}
	if opt.InterimInterval == 0 {
		opt.InterimInterval = DefaultInterimInterval
	}
	return &Handler{factory: f, realms: realms, opt: opt}
}

func (h *Handler) ServeRADIUS(w radius.ResponseWriter, r *radius.Request) {
	remote := ""
	if r.RemoteAddr != nil {
		remote = r.RemoteAddr.String()
	}
	ctx, log := logger.Scoped(r.Context(), "radius", uuid.NewString(), remote)
	log = log.With(logger.PacketCode(r.Code.String()))
	ctx = logger.ToContext(ctx, log)

	var resp *radius.Packet
	switch r.Code {
	case radius.CodeAccessRequest:
		resp = h.access(ctx, r)
	case radius.CodeAccountingRequest:
		// se acusa recibo sin chequear tenant
		if _, err := rfc2866.AcctStatusType_Lookup(r.Packet); err == nil {
			resp = r.Response(radius.CodeAccountingResponse)
		} else {
			log.Info("accounting without status type")
			resp = r.Response(radius.CodeAccessReject)
		}
	default:
		log.Info("unsupported packet code")
		resp = r.Response(radius.CodeAccessReject)
	}

	metrics.RecordRADIUS(r.Code.String(), resp.Code.String())
	if err := w.Write(resp); err != nil {
		log.Warn("radius write failed", logger.Err(err))
	}
}

func reject(r *radius.Request, msg string) *radius.Packet {
	p := r.Response(radius.CodeAccessReject)
	if msg != "" {
		_ = rfc2865.ReplyMessage_SetString(p, msg)
	}
	return p
}

func (h *Handler) access(ctx context.Context, r *radius.Request) *radius.Packet {
	log := logger.From(ctx)
	user := rfc2865.UserName_GetString(r.Packet)
	pwd := rfc2865.UserPassword_GetString(r.Packet)
	if user == "" || pwd == "" {
		metrics.RecordLogin("radius", "reject")
		return reject(r, "missing credentials")
	}

	login, tenantID := h.resolve(ctx, user)
	log = log.With(logger.Username(util.MaskIdentifier(login)), logger.TenantID(tenantID))
	if tenantID == "" {
		log.Info("access rejected", logger.Reason("no tenant for realm"))
		metrics.RecordLogin("radius", "reject")
		return reject(r, "authentication failed")
	}

	v, err := h.factory(ctx)
	if err != nil {
		log.Error("validator unavailable", logger.Err(err))
		metrics.RecordLogin("radius", "error")
		return reject(r, "")
	}
	res, err := v.Login(ctx, tenantID, login, pwd)
	if err != nil {
		log.Error("radius login failed", logger.Err(err))
		metrics.RecordLogin("radius", "error")
		return reject(r, "")
	}
	if !res.OK {
		metrics.RecordLogin("radius", "reject")
		return reject(r, replyFor(res.Reason))
	}

	metrics.RecordLogin("radius", "accept")
	log.Info("access accepted", logger.PrincipalID(res.Identity.ID))
	p := r.Response(radius.CodeAccessAccept)
	if h.opt.SessionTimeout > 0 {
		_ = rfc2865.SessionTimeout_Set(p, rfc2865.SessionTimeout(h.opt.SessionTimeout/time.Second))
	}
	if h.opt.InterimInterval > 0 {
		_ = rfc2869.AcctInterimInterval_Set(p, rfc2869.AcctInterimInterval(h.opt.InterimInterval/time.Second))
	}
	return p
}

func (h *Handler) resolve(ctx context.Context, user string) (string, string) {
	if h.realms == nil {
		return user, h.opt.DefaultTenant
	}
	return h.realms.ResolveLogin(ctx, user, h.opt.DefaultTenant)
}

func replyFor(reason credential.Reason) string {
	switch reason {
	case credential.ReasonLocked:
		return "account locked"
	case credential.ReasonExpired:
		return "password expired"
	}
	return "authentication failed"
}

// StaticFactory devuelve siempre el mismo validator. Útil en tests.
func StaticFactory(v Validator) ValidatorFactory {
	return func(context.Context) (Validator, error) {
		if v == nil {
			return nil, errors.New("radius: nil validator")
		}
		return v, nil
	}
}
