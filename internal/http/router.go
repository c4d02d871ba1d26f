// Package http arma el router chi con los endpoints OAuth2, well-known,
// cuenta y MFA.
package http

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/idcore/internal/http/errors"
	"github.com/dropDatabas3/idcore/internal/http/handlers"
	mw "github.com/dropDatabas3/idcore/internal/http/middlewares"
	"github.com/dropDatabas3/idcore/internal/rate"
)

// RateConfig: límite por IP+path para los endpoints que reciben credenciales.
type RateConfig struct {
	Limiter rate.MultiLimiter
	Limit   int
	Window  time.Duration
}

type RouterDeps struct {
	OAuth     *handlers.OAuthHandler
	WellKnown *handlers.WellKnownHandler
	Account   *handlers.AccountHandler
	MFA       *handlers.MFAHandler
	Health    *handlers.HealthHandler

	Auth    mw.TokenValidator
	Rate    RateConfig
	Metrics stdhttp.Handler // nil => sin /metrics
}

// NewRouter registra todas las rutas. Orden del chain: recover, request id
// (logger scoped), logging, metrics; rate limit y bearer van por grupo.
func NewRouter(d RouterDeps) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(mw.WithRecover(), mw.WithRequestID(), mw.WithLogging(), mw.WithMetrics())

	r.NotFound(func(w stdhttp.ResponseWriter, _ *stdhttp.Request) {
		errors.WriteError(w, errors.ErrNotFound)
	})
	r.MethodNotAllowed(func(w stdhttp.ResponseWriter, _ *stdhttp.Request) {
		errors.WriteError(w, errors.ErrMethodNotAllowed)
	})

	limited := mw.WithRateLimit(mw.RateLimitConfig{
		Limiter: d.Rate.Limiter,
		KeyFunc: rate.IPPathKey,
		Limit:   d.Rate.Limit,
		Window:  d.Rate.Window,
	})

	r.Get("/healthz", d.Health.Healthz)
	if d.Metrics != nil {
		r.Method(stdhttp.MethodGet, "/metrics", mw.Chain(d.Metrics, mw.WithNoStore()))
	}

	r.Route("/.well-known", func(r chi.Router) {
		r.Use(mw.WithCacheControl("public, max-age=300"))
		r.Get("/openid-configuration", d.WellKnown.Discovery)
		r.Get("/jwks.json", d.WellKnown.JWKS)
	})

	r.Route("/oauth2", func(r chi.Router) {
		r.Use(mw.WithNoStore(), limited)
		r.Post("/token", d.OAuth.Token)
		r.Post("/refresh", d.OAuth.Refresh)
		r.Post("/authorize", d.OAuth.Authorize)
		r.Post("/introspect", d.OAuth.Introspect)
		r.Post("/revoke", d.OAuth.Revoke)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(mw.WithNoStore())
		r.With(limited).Post("/auth/register", d.Account.Register)

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireAuth(d.Auth))
			r.With(limited).Post("/auth/password", d.Account.ChangePassword)
			r.Post("/mfa/totp/setup", d.MFA.Setup)
			r.With(limited).Post("/mfa/totp/enable", d.MFA.Enable)
			r.Post("/mfa/backup-codes", d.MFA.BackupCodes)
			r.With(limited).Post("/mfa/disable", d.MFA.Disable)
		})
	})
	return r
}
