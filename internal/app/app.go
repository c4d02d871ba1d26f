// Package app arma el contenedor de dependencias a partir de la config.
// Lo usan el binario (serve) y los comandos de operador.
package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/idcore/internal/audit"
	"github.com/dropDatabas3/idcore/internal/cache"
	"github.com/dropDatabas3/idcore/internal/config"
	"github.com/dropDatabas3/idcore/internal/credential"
	"github.com/dropDatabas3/idcore/internal/domain/repository"
	"github.com/dropDatabas3/idcore/internal/events"
	idhttp "github.com/dropDatabas3/idcore/internal/http"
	"github.com/dropDatabas3/idcore/internal/http/handlers"
	"github.com/dropDatabas3/idcore/internal/jwt"
	"github.com/dropDatabas3/idcore/internal/ldap"
	"github.com/dropDatabas3/idcore/internal/metrics"
	"github.com/dropDatabas3/idcore/internal/mfa"
	"github.com/dropDatabas3/idcore/internal/oauth"
	"github.com/dropDatabas3/idcore/internal/observability/logger"
	"github.com/dropDatabas3/idcore/internal/radius"
	"github.com/dropDatabas3/idcore/internal/rate"
	"github.com/dropDatabas3/idcore/internal/sectoken"
	"github.com/dropDatabas3/idcore/internal/security/password"
	"github.com/dropDatabas3/idcore/internal/security/secretbox"
	"github.com/dropDatabas3/idcore/internal/store"
	"github.com/dropDatabas3/idcore/internal/tenancy"
)

type App struct {
	Cfg *config.Config

	Store  repository.Store
	Box    *secretbox.Box
	Redis  *redis.Client // nil si nada usa redis
	Cache  cache.Client
	Events events.Publisher

	Keys        *jwt.Keystore
	Issuer      *jwt.Issuer
	Realms      *tenancy.DomainResolver
	Tenancy     *tenancy.Service
	Passwords   *password.Engine
	Credentials *credential.Validator
	MFA         *mfa.Engine
	Tokens      *sectoken.Manager
	OAuth       *oauth.Service
	Audit       *audit.Service
	Limiter     rate.MultiLimiter // nil si rate.enabled = false

	closers []func()
}

// New abre store y redis, y cablea los servicios. Si algo falla cierra lo
// que ya abrió.
func New(ctx context.Context, cfg *config.Config) (a *App, err error) {
	a = &App{Cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()
	log := logger.Named("app")

	key, err := cfg.SecretboxKey()
	if err != nil {
		return nil, err
	}
	if a.Box, err = secretbox.New(key); err != nil {
		return nil, fmt.Errorf("app: secretbox: %w", err)
	}

	a.Store, err = store.Open(ctx, store.Options{
		Driver:          cfg.Storage.Driver,
		DSN:             cfg.Storage.DSN,
		MaxConns:        cfg.Storage.MaxConns,
		MinConns:        cfg.Storage.MinConns,
		MaxConnLifetime: cfg.Storage.ConnMaxLifetime,
		AutoMigrate:     cfg.Storage.AutoMigrate,
	})
	if err != nil {
		return nil, fmt.Errorf("app: store: %w", err)
	}
	a.closers = append(a.closers, a.Store.Close)
	log.Info("store ready", logger.String("driver", cfg.Storage.Driver))

	if needsRedis(cfg) {
		if a.Redis, err = openRedis(ctx, cfg); err != nil {
			return nil, err
		}
		rdb := a.Redis
		a.closers = append(a.closers, func() { _ = rdb.Close() })
	}

	if cfg.Cache.Kind == "redis" {
		a.Cache = cache.NewRedisFromClient(a.Redis, cfg.Redis.Prefix+":cache")
	} else {
		a.Cache = cache.NewMemory(cfg.Redis.Prefix)
	}

	sinks := events.Multi{events.NewLogPublisher(nil), events.NewAuditPublisher(a.Store.Audit())}
	if cfg.Events.Sink == "redis" {
		sinks = append(sinks, events.NewRedisPublisher(a.Redis, cfg.Events.Channel))
	}
	a.Events = sinks

	var popts []password.EngineOption
	if p := cfg.Security.PasswordBlacklistPath; p != "" {
		bl, err := password.LoadBlacklist(p)
		if err != nil {
			return nil, fmt.Errorf("app: blacklist: %w", err)
		}
		popts = append(popts, password.WithBlacklist(bl))
	}
	a.Passwords = password.NewEngine(a.Store, password.NewHasher(password.Default), popts...)

	a.Tenancy = tenancy.NewService(a.Store, a.Events, cfg.SystemTenant.ID)
	a.Realms = tenancy.NewDomainResolver(a.Store.Domains(), tenancy.WithCache(a.Cache, cfg.Cache.TTL))
	a.Credentials = credential.NewValidator(a.Store, a.Passwords, a.credentialOptions())
	a.MFA = mfa.NewEngine(a.Store, a.Box, mfa.Options{
		Issuer:    cfg.Security.IssuerName,
		Window:    cfg.Security.TOTPWindow,
		Publisher: a.Events,
	})
	a.Tokens = sectoken.NewManager(a.Store, a.Box, sectoken.WithTTLs(sectoken.TTLs{
		Code:    cfg.Tokens.CodeTTL,
		Refresh: cfg.Tokens.RefreshTTL,
		MFA:     cfg.Tokens.MFATTL,
	}))

	a.Keys = jwt.NewKeystore(a.Store.Keys(), a.Box)
	if err := a.Keys.EnsureBootstrap(ctx); err != nil {
		return nil, fmt.Errorf("app: signing keys: %w", err)
	}
	a.Issuer = jwt.NewIssuer(cfg.Issuer(), a.Keys)
	a.Issuer.AccessTTL = cfg.Tokens.AccessTTL

	a.OAuth = oauth.NewService(oauth.Deps{
		Credentials: a.Credentials,
		MFA:         a.MFA,
		Tokens:      a.Tokens,
		Issuer:      a.Issuer,
		Realms:      a.Realms,
	})
	a.Audit = audit.NewService(a.Store.Audit())

	if cfg.SystemTenant.ID != "" {
		if _, err := a.Tenancy.EnsureSystemTenant(ctx, cfg.SystemTenant.Name); err != nil {
			return nil, fmt.Errorf("app: system tenant: %w", err)
		}
	}

	if cfg.Rate.Enabled {
		if a.Redis != nil {
			a.Limiter = rate.NewRedisPool(a.Redis, cfg.Redis.Prefix+":rl:", cfg.Rate.Limit, cfg.Rate.Window)
		} else {
			a.Limiter = rate.NewMemoryPool("rl:", cfg.Rate.Limit, cfg.Rate.Window)
		}
	}
	return a, nil
}

func (a *App) credentialOptions() credential.Options {
	return credential.Options{
		MaxAttempts:     a.Cfg.Security.MaxAttempts,
		LockoutDuration: a.Cfg.Security.LockoutDuration,
		Publisher:       a.Events,
	}
}

// NewValidator arma un credential.Validator nuevo sobre el store compartido.
// RADIUS y LDAP piden uno por paquete/bind; contadores y lockout viven en el store.
func (a *App) NewValidator(ctx context.Context) (*credential.Validator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return credential.NewValidator(a.Store, a.Passwords, a.credentialOptions()), nil
}

func needsRedis(cfg *config.Config) bool {
	return cfg.Cache.Kind == "redis" || cfg.Events.Sink == "redis"
}

func openRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("app: redis ping %s: %w", cfg.Redis.Addr, err)
	}
	return rdb, nil
}

// Router arma el handler HTTP. Con reg != nil expone /metrics.
func (a *App) Router(reg prometheus.Registerer) (stdhttp.Handler, error) {
	deps := idhttp.RouterDeps{
		OAuth:     handlers.NewOAuthHandler(a.OAuth),
		WellKnown: handlers.NewWellKnownHandler(a.Cfg.HTTP.Issuer, a.Issuer),
		Account:   handlers.NewAccountHandler(a.Credentials, a.Realms, ""),
		MFA:       handlers.NewMFAHandler(a.MFA),
		Health:    handlers.NewHealthHandler(a.healthChecks()),
		Auth:      a.Issuer,
	}
	if a.Limiter != nil {
		deps.Rate = idhttp.RateConfig{Limiter: a.Limiter, Limit: a.Cfg.Rate.Limit, Window: a.Cfg.Rate.Window}
	}
	if reg != nil {
		h, err := metrics.Register(reg)
		if err != nil {
			return nil, fmt.Errorf("app: metrics: %w", err)
		}
		deps.Metrics = h
	}
	return idhttp.NewRouter(deps), nil
}

func (a *App) healthChecks() map[string]handlers.Pinger {
	checks := map[string]handlers.Pinger{"store": a.Store}
	if a.Redis != nil {
		checks["redis"] = a.Cache
	}
	return checks
}

func (a *App) HTTPServer(h stdhttp.Handler) *idhttp.Server {
	return idhttp.NewServer(a.Cfg.HTTP.Addr, h).WithTimeouts(a.Cfg.HTTP.ReadTimeout, a.Cfg.HTTP.WriteTimeout)
}

func (a *App) RADIUSServer() *radius.Server {
	c := a.Cfg.RADIUS
	factory := func(ctx context.Context) (radius.Validator, error) {
		v, err := a.NewValidator(ctx)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
	h := radius.NewHandler(factory, a.Realms, radius.Options{
		DefaultTenant:   c.DefaultTenant,
		SessionTimeout:  c.SessionTimeout,
		InterimInterval: c.InterimInterval,
	})
	return radius.NewServer(c.Addr, []byte(c.Secret), h)
}

func (a *App) LDAPServer() (*ldap.Server, error) {
	factory := func(ctx context.Context) (ldap.Validator, error) {
		v, err := a.NewValidator(ctx)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
	h := ldap.NewHandler(factory, ldap.Options{DefaultTenant: a.Cfg.LDAP.DefaultTenant})
	return ldap.NewServer(a.Cfg.LDAP.Addr, h, ldap.ServerOptions{})
}

// Close libera en orden inverso a la apertura. Idempotente.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
